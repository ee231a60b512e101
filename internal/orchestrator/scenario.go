package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chaos-mcp/internal/config"
)

// シナリオの実行順序
const (
	OrderSequential = "sequential"
	OrderParallel   = "parallel"
	OrderRandom     = "random"
)

// SuccessCriteria はシナリオ継続の成功条件
// 指定された条件だけが評価される
type SuccessCriteria struct {
	MinSuccessRate        *float64 `yaml:"min_success_rate" json:"min_success_rate,omitempty"`
	MaxErrors             *int     `yaml:"max_errors" json:"max_errors,omitempty"`
	SteadyStateMaintained bool     `yaml:"steady_state_maintained" json:"steady_state_maintained"`
}

// Scenario は繰り返し実行可能なカオスシナリオ
type Scenario struct {
	ID          string               `yaml:"id" json:"id"`
	Name        string               `yaml:"name" json:"name"`
	Description string               `yaml:"description" json:"description"`
	Faults      []config.FaultConfig `yaml:"faults" json:"faults"`
	Order       string               `yaml:"order" json:"order"`
	RepeatCount int                  `yaml:"repeat_count" json:"repeat_count"`
	Criteria    *SuccessCriteria     `yaml:"success_criteria" json:"success_criteria,omitempty"`
}

// NewScenario は ID を採番してシナリオを作成する
func NewScenario(name string, faults []config.FaultConfig) Scenario {
	return Scenario{
		ID:          uuid.NewString(),
		Name:        name,
		Faults:      faults,
		Order:       OrderSequential,
		RepeatCount: 1,
	}
}

// Validate はシナリオ設定を検証する
func (s *Scenario) Validate() error {
	if len(s.Faults) == 0 {
		return fmt.Errorf("scenario %q: at least one fault is required", s.Name)
	}
	switch s.Order {
	case OrderSequential, OrderParallel, OrderRandom:
	default:
		return fmt.Errorf("scenario %q: invalid order %q", s.Name, s.Order)
	}
	if s.RepeatCount < 1 {
		return fmt.Errorf("scenario %q: repeat_count must be at least 1", s.Name)
	}
	return nil
}

// RunScenario はシナリオを繰り返し実行する
//
// 各イテレーションはベース設定にシナリオの障害と実行順序を重ねた
// 独立した実験として実行される。成功条件を満たさなくなった時点で
// 残りのイテレーションは打ち切られる。
func (o *Orchestrator) RunScenario(ctx context.Context, scenario Scenario, base config.ExperimentConfig) ([]*Result, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}

	results := make([]*Result, 0, scenario.RepeatCount)

	for i := 0; i < scenario.RepeatCount; i++ {
		o.logger.Info("running scenario iteration",
			zap.String("scenario", scenario.Name),
			zap.Int("iteration", i+1),
			zap.Int("total", scenario.RepeatCount))

		cfg := base
		cfg.Faults = scenario.Faults
		cfg.ParallelExecution = scenario.Order == OrderParallel
		cfg.RandomizeOrder = scenario.Order == OrderRandom
		if cfg.Name == "" {
			cfg.Name = scenario.Name
		}

		result := o.runExperiment(ctx, cfg, scenario.ID)
		results = append(results, result)

		if scenario.Criteria != nil && !meetsCriteria(result, scenario.Criteria) {
			o.logger.Warn("scenario failed success criteria",
				zap.String("scenario", scenario.Name),
				zap.Int("iteration", i+1))
			break
		}
	}

	return results, nil
}

// meetsCriteria は結果が成功条件を満たすかどうかを返す
func meetsCriteria(result *Result, criteria *SuccessCriteria) bool {
	if criteria.MinSuccessRate != nil {
		total := result.TotalFaults
		if total < 1 {
			total = 1
		}
		rate := float64(result.SuccessfulFaults) / float64(total)
		if rate < *criteria.MinSuccessRate {
			return false
		}
	}
	if criteria.MaxErrors != nil && len(result.Errors) > *criteria.MaxErrors {
		return false
	}
	if criteria.SteadyStateMaintained {
		before := result.SteadyStateBefore != nil && *result.SteadyStateBefore
		after := result.SteadyStateAfter != nil && *result.SteadyStateAfter
		if !before || !after {
			return false
		}
	}
	return true
}
