package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chaos-mcp/internal/config"
	"chaos-mcp/internal/events"
	"chaos-mcp/internal/monitor"
	"chaos-mcp/internal/observability"
	"chaos-mcp/internal/safety"
)

// ErrDuplicateExperiment は同一IDの実験が既に実行中の場合のエラー
var ErrDuplicateExperiment = errors.New("experiment already running")

// Status は実験の状態
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused" // 予約済み（現状は遷移しない）
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Result は一回の実験の結果
// RunExperiment の呼び出しが所有し、確定後は変更されない
type Result struct {
	ExperimentID string        `json:"experiment_id"`
	ScenarioID   string        `json:"scenario_id,omitempty"`
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	StartTime    time.Time     `json:"start_time,omitempty"`
	EndTime      time.Time     `json:"end_time,omitempty"`
	Duration     time.Duration `json:"duration"`

	TotalFaults      int            `json:"total_faults"`
	SuccessfulFaults int            `json:"successful_faults"`
	FailedFaults     int            `json:"failed_faults"`
	SkippedFaults    int            `json:"skipped_faults"`
	FaultResults     []FaultOutcome `json:"fault_results,omitempty"`

	SafetyTriggered   bool     `json:"safety_triggered"`
	SafetyReasons     []string `json:"safety_reasons,omitempty"`
	RollbackPerformed bool     `json:"rollback_performed"`

	SteadyStateBefore *bool `json:"steady_state_before,omitempty"`
	SteadyStateAfter  *bool `json:"steady_state_after,omitempty"`

	Metrics monitor.HealthMetrics `json:"metrics"`

	Errors []string `json:"errors,omitempty"`
}

// ExperimentSummary は実験一覧用の要約
type ExperimentSummary struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Options はオーケストレータの依存
type Options struct {
	Logger   *zap.Logger
	Runner   *Runner
	EventBus *events.Bus
	Rand     *rand.Rand // シャッフル順序用（nil で時刻シード）
	NewID    func() string
}

// Orchestrator はカオス実験全体を統括する
type Orchestrator struct {
	logger   *zap.Logger
	runner   *Runner
	eventBus *events.Bus
	newID    func() string
	httpc    *http.Client

	rngMu sync.Mutex
	rng   *rand.Rand

	mu          sync.RWMutex
	experiments map[string]*Result
	running     map[string]struct{}
}

// New は新しいオーケストレータを作成する
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runner := opts.Runner
	if runner == nil {
		runner = NewRunner(RunnerOptions{Logger: logger, EventBus: opts.EventBus})
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Orchestrator{
		logger:      logger,
		runner:      runner,
		eventBus:    opts.EventBus,
		newID:       newID,
		httpc:       &http.Client{Timeout: 5 * time.Second},
		rng:         rng,
		experiments: make(map[string]*Result),
		running:     make(map[string]struct{}),
	}
}

// Runner はランナーを返す
func (o *Orchestrator) Runner() *Runner {
	return o.runner
}

func (o *Orchestrator) publish(event events.Event) {
	if o.eventBus != nil {
		o.eventBus.Publish(event)
	}
}

// ValidateExperiment は実験設定を実行せずに検証する
// 発見した問題を全て列挙して返す
func (o *Orchestrator) ValidateExperiment(cfg config.ExperimentConfig) (bool, []string) {
	var errs []string

	if cfg.Name == "" {
		errs = append(errs, "experiment name is required")
	}
	if len(cfg.Faults) == 0 {
		errs = append(errs, "at least one fault must be defined")
	}

	for i, fc := range cfg.Faults {
		if fc.Name == "" {
			errs = append(errs, fmt.Sprintf("fault %d is missing a name", i))
		}
		if fc.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("fault %q has invalid duration: %v", fc.Name, fc.Duration))
		}
		if fc.Probability < 0 || fc.Probability > 1 {
			errs = append(errs, fmt.Sprintf("fault %q has invalid probability: %v", fc.Name, fc.Probability))
		}
		if fc.Delay < 0 {
			errs = append(errs, fmt.Sprintf("fault %q has negative delay: %v", fc.Name, fc.Delay))
		}
	}

	if cfg.Safety.MaxErrorRate < 0 || cfg.Safety.MaxErrorRate > 1 {
		errs = append(errs, fmt.Sprintf("invalid max_error_rate: %v", cfg.Safety.MaxErrorRate))
	}
	if cfg.Safety.MinSuccessRate < 0 || cfg.Safety.MinSuccessRate > 1 {
		errs = append(errs, fmt.Sprintf("invalid min_success_rate: %v", cfg.Safety.MinSuccessRate))
	}

	if cfg.StartDelay < 0 {
		errs = append(errs, fmt.Sprintf("invalid start_delay: %v", cfg.StartDelay))
	}
	if cfg.TotalDuration < 0 {
		errs = append(errs, fmt.Sprintf("invalid total_duration: %v", cfg.TotalDuration))
	}
	if cfg.CooldownPeriod < 0 {
		errs = append(errs, fmt.Sprintf("invalid cooldown_period: %v", cfg.CooldownPeriod))
	}

	return len(errs) == 0, errs
}

// RunExperiment は実験を最後まで実行して結果を返す
//
// 実験はどの経路を通っても必ず確定処理（全障害のクリーンアップ、
// 終了ステータスの決定、結果の永続化、通知）に到達する。
func (o *Orchestrator) RunExperiment(ctx context.Context, cfg config.ExperimentConfig) *Result {
	return o.runExperiment(ctx, cfg, "")
}

// runExperiment は実験を実行する
// scenarioID はシナリオ経由の実行でのみ設定される。結果は確定処理で
// 永続化されるため、それ以降は変更してはならない
func (o *Orchestrator) runExperiment(ctx context.Context, cfg config.ExperimentConfig, scenarioID string) *Result {
	experimentID := o.newID()
	result := &Result{
		ExperimentID: experimentID,
		ScenarioID:   scenarioID,
		Name:         cfg.Name,
		Status:       StatusPending,
	}

	o.mu.Lock()
	if _, dup := o.running[experimentID]; dup {
		o.mu.Unlock()
		result.Status = StatusFailed
		result.Errors = append(result.Errors, ErrDuplicateExperiment.Error())
		return result
	}
	o.running[experimentID] = struct{}{}
	o.mu.Unlock()

	// 実験全体の時間予算
	if cfg.TotalDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.TotalDuration)
		defer cancel()
	}

	tracer := otel.Tracer(observability.TracerName)
	ctx, span := tracer.Start(ctx, "chaos_experiment."+cfg.Name)

	sc := safety.New(cfg.Safety, o.logger)
	if o.eventBus != nil {
		sc.SetEventBus(o.eventBus)
	}

	result.Status = StatusRunning
	result.StartTime = time.Now()

	o.logger.Info("starting chaos experiment",
		zap.String("experiment", cfg.Name),
		zap.String("id", experimentID))

	if cfg.NotifyOnStart {
		o.publish(events.NewExperimentStartedEvent(experimentID, cfg.Name))
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusFailed
			result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", r))
			o.logger.Error("experiment panicked",
				zap.String("id", experimentID), zap.Any("panic", r))
		}
		o.finalize(ctx, span, cfg, result)
	}()

	o.runBody(ctx, cfg, sc, result)
	return result
}

// runBody は実験本体を実行する
// 確定処理は呼び出し側の defer が担う
func (o *Orchestrator) runBody(ctx context.Context, cfg config.ExperimentConfig, sc *safety.Controller, result *Result) {
	if cfg.StartDelay > 0 {
		o.logger.Info("waiting before experiment start",
			zap.Duration("delay", cfg.StartDelay))
		select {
		case <-ctx.Done():
			result.Status = StatusAborted
			result.Errors = append(result.Errors, "cancelled during start delay")
			return
		case <-time.After(cfg.StartDelay):
		}
	}

	if !sc.IsTimeAllowed() {
		result.Status = StatusAborted
		result.Errors = append(result.Errors, "outside allowed time window")
		return
	}

	if targets := distinctTargets(cfg.Faults); !sc.BlastRadiusOK(targets) {
		result.Status = StatusAborted
		result.Errors = append(result.Errors, fmt.Sprintf(
			"blast radius exceeded: %d targets affected", len(targets)))
		return
	}

	if len(cfg.SteadyStateChecks) > 0 {
		before := o.checkSteadyState(ctx, cfg.SteadyStateChecks)
		result.SteadyStateBefore = &before
		if !before && !cfg.DryRun {
			result.Status = StatusFailed
			result.Errors = append(result.Errors, "steady state check failed before experiment")
			return
		}
	}

	faults := make([]config.FaultConfig, len(cfg.Faults))
	copy(faults, cfg.Faults)
	if cfg.RandomizeOrder {
		o.rngMu.Lock()
		o.rng.Shuffle(len(faults), func(i, j int) {
			faults[i], faults[j] = faults[j], faults[i]
		})
		o.rngMu.Unlock()
	}

	result.TotalFaults = len(faults)

	if cfg.ParallelExecution {
		o.runParallel(ctx, cfg, sc, faults, result)
	} else {
		o.runSequential(ctx, cfg, sc, faults, result)
	}

	if len(cfg.SteadyStateChecks) > 0 && !cfg.DryRun {
		after := o.checkSteadyState(ctx, cfg.SteadyStateChecks)
		result.SteadyStateAfter = &after
	}

	result.Metrics = o.runner.Health().Metrics()
}

// runParallel は全障害を並行して実行する
// 個々の失敗は互いに影響しない
func (o *Orchestrator) runParallel(ctx context.Context, cfg config.ExperimentConfig, sc *safety.Controller, faults []config.FaultConfig, result *Result) {
	outcomes := make(chan FaultOutcome, len(faults))
	var wg sync.WaitGroup

	for _, fc := range faults {
		if cfg.DryRun {
			o.logger.Info("[dry run] would inject", zap.String("fault", fc.Name))
			result.SkippedFaults++
			continue
		}

		wg.Add(1)
		go func(fc config.FaultConfig) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes <- FaultOutcome{
						Fault:  fc.Name,
						Type:   fc.Type,
						Status: FaultFailed,
						Error:  fmt.Sprintf("panic: %v", r),
					}
				}
			}()
			outcomes <- o.runner.RunFault(ctx, result.ExperimentID, fc, sc)
		}(fc)
	}

	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		result.FaultResults = append(result.FaultResults, outcome)
		switch outcome.Status {
		case FaultActive:
			result.SuccessfulFaults++
		case FaultSkipped:
			result.SkippedFaults++
		default:
			result.FailedFaults++
			if outcome.Error != "" {
				result.Errors = append(result.Errors, outcome.Error)
			}
		}
	}
}

// runSequential は障害を一つずつ実行する
// 各障害の前に安全チェックを行い、不合格なら実験を打ち切る
func (o *Orchestrator) runSequential(ctx context.Context, cfg config.ExperimentConfig, sc *safety.Controller, faults []config.FaultConfig, result *Result) {
	for i, fc := range faults {
		safe, reasons := sc.CheckSafety(ctx, o.runner.Health())
		if !safe {
			o.logger.Warn("safety check failed",
				zap.Strings("reasons", reasons))
			result.SafetyTriggered = true
			result.SafetyReasons = append(result.SafetyReasons, reasons...)
			o.publish(events.NewSafetyTriggeredEvent(result.ExperimentID, reasons))

			if cfg.Safety.AutoRollback {
				o.performRollback(ctx, cfg, result)
			}
			return
		}

		if cfg.DryRun {
			o.logger.Info("[dry run] would inject", zap.String("fault", fc.Name))
			result.SkippedFaults++
		} else {
			outcome := o.runner.RunFault(ctx, result.ExperimentID, fc, sc)
			result.FaultResults = append(result.FaultResults, outcome)
			switch outcome.Status {
			case FaultActive:
				result.SuccessfulFaults++
			case FaultSkipped:
				result.SkippedFaults++
			default:
				result.FailedFaults++
				if outcome.Error != "" {
					result.Errors = append(result.Errors, outcome.Error)
				}
			}
		}

		if i < len(faults)-1 && cfg.CooldownPeriod > 0 {
			select {
			case <-ctx.Done():
				result.Errors = append(result.Errors, "cancelled during cooldown")
				return
			case <-time.After(cfg.CooldownPeriod):
			}
		}
	}
}

// finalize は実験の確定処理を行う
func (o *Orchestrator) finalize(ctx context.Context, span trace.Span, cfg config.ExperimentConfig, result *Result) {
	o.runner.CleanupAll(context.WithoutCancel(ctx))

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	if result.Status == StatusRunning {
		switch {
		case result.SafetyTriggered:
			// ロールバックの有無は RollbackPerformed で判別する
			result.Status = StatusAborted
		case result.FailedFaults > 0:
			result.Status = StatusFailed
		default:
			result.Status = StatusCompleted
		}
	}

	o.mu.Lock()
	delete(o.running, result.ExperimentID)
	o.experiments[result.ExperimentID] = result
	o.mu.Unlock()

	observability.Experiments.WithLabelValues(string(result.Status)).Inc()
	observability.ExperimentDuration.WithLabelValues(string(result.Status)).
		Observe(result.Duration.Seconds())

	span.SetAttributes(
		attribute.String("experiment.id", result.ExperimentID),
		attribute.String("experiment.status", string(result.Status)),
		attribute.Int("experiment.total_faults", result.TotalFaults),
		attribute.Int("experiment.successful_faults", result.SuccessfulFaults),
	)
	if result.Status == StatusFailed {
		span.SetStatus(codes.Error, "experiment failed")
	}
	span.End()

	failed := result.Status != StatusCompleted
	if (failed && cfg.NotifyOnFailure) || (!failed && cfg.NotifyOnComplete) {
		o.publish(events.NewExperimentFinishedEvent(
			result.ExperimentID, cfg.Name, string(result.Status), failed))
	}

	o.logger.Info("chaos experiment finished",
		zap.String("id", result.ExperimentID),
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.Duration))
}

// performRollback はロールバック手順を実行する
// まず全アクティブ障害を後始末し、その後に宣言されたアクションを
// 順に実行する。個々の失敗はログに残すのみ
func (o *Orchestrator) performRollback(ctx context.Context, cfg config.ExperimentConfig, result *Result) {
	o.logger.Info("performing rollback",
		zap.String("id", result.ExperimentID))
	result.RollbackPerformed = true

	o.runner.CleanupAll(context.WithoutCancel(ctx))

	if cfg.Rollback != nil {
		for _, action := range cfg.Rollback.Actions {
			switch action.Type {
			case "restart_service":
				o.logger.Info("would restart service",
					zap.String("service", action.Service))
			case "restore_config":
				o.logger.Info("would restore config",
					zap.String("path", action.Path))
			case "custom":
				o.logger.Info("would execute custom rollback action",
					zap.String("command", action.Command))
			default:
				o.logger.Warn("unknown rollback action",
					zap.String("type", action.Type))
			}
		}
	}

	o.publish(events.NewRollbackPerformedEvent(result.ExperimentID))
}

// checkSteadyState は定常状態チェックを評価する
// 全てのチェックが通れば true
func (o *Orchestrator) checkSteadyState(ctx context.Context, checks []config.SteadyStateCheck) bool {
	for _, check := range checks {
		switch check.Type {
		case "http_health":
			if !o.checkHTTPHealth(ctx, check) {
				return false
			}
		case "metric_threshold":
			if !o.checkMetricThreshold(check) {
				return false
			}
		case "custom":
			o.logger.Info("custom steady state check not configured, passing",
				zap.String("check", check.Name))
		default:
			o.logger.Warn("unknown steady state check type",
				zap.String("type", check.Type))
		}
	}
	return true
}

// checkHTTPHealth はエンドポイントの応答ステータスを確認する
func (o *Orchestrator) checkHTTPHealth(ctx context.Context, check config.SteadyStateCheck) bool {
	expected := check.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.URL, nil)
	if err != nil {
		o.logger.Warn("invalid steady state url",
			zap.String("url", check.URL), zap.Error(err))
		return false
	}

	resp, err := o.httpc.Do(req)
	if err != nil {
		o.logger.Warn("steady state http check failed",
			zap.String("url", check.URL), zap.Error(err))
		return false
	}
	resp.Body.Close()

	if resp.StatusCode != expected {
		o.logger.Warn("steady state http check returned unexpected status",
			zap.String("url", check.URL),
			zap.Int("got", resp.StatusCode),
			zap.Int("want", expected))
		return false
	}
	return true
}

// checkMetricThreshold は収集済みメトリクスをしきい値と比較する
func (o *Orchestrator) checkMetricThreshold(check config.SteadyStateCheck) bool {
	value, ok := o.runner.Health().Collector().Average(check.Metric)
	if !ok {
		// サンプルがなければ判定できないので通す
		return true
	}

	switch check.Operator {
	case "gt":
		return value > check.Threshold
	case "eq":
		return value == check.Threshold
	default: // lt
		return value < check.Threshold
	}
}

// distinctTargets は障害設定から重複を除いた対象一覧を返す
func distinctTargets(faults []config.FaultConfig) []string {
	seen := make(map[string]bool)
	targets := make([]string, 0, len(faults))
	for _, f := range faults {
		if f.Target == "" || seen[f.Target] {
			continue
		}
		seen[f.Target] = true
		targets = append(targets, f.Target)
	}
	return targets
}

// GetExperimentStatus は実験の結果を返す
func (o *Orchestrator) GetExperimentStatus(experimentID string) (*Result, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	result, ok := o.experiments[experimentID]
	return result, ok
}

// ListExperiments は全実験の要約を返す
func (o *Orchestrator) ListExperiments() []ExperimentSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()

	summaries := make([]ExperimentSummary, 0, len(o.experiments))
	for id, result := range o.experiments {
		summaries = append(summaries, ExperimentSummary{
			ID:        id,
			Name:      result.Name,
			Status:    result.Status,
			StartTime: result.StartTime,
			Duration:  result.Duration,
		})
	}
	return summaries
}
