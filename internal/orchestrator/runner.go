package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"chaos-mcp/internal/config"
	"chaos-mcp/internal/events"
	"chaos-mcp/internal/fault"
	"chaos-mcp/internal/monitor"
	"chaos-mcp/internal/safety"
	"chaos-mcp/internal/worker"
)

// 障害実行の状態
const (
	FaultActive  = "active"
	FaultSkipped = "skipped"
	FaultFailed  = "failed"
)

// FaultOutcome は単一の障害実行の結果
type FaultOutcome struct {
	Fault   string           `json:"fault"`
	Type    config.FaultType `json:"type"`
	Status  string           `json:"status"`
	Reason  string           `json:"reason,omitempty"`
	Error   string           `json:"error,omitempty"`
	Start   time.Time        `json:"start"`
	End     time.Time        `json:"end"`
	Details fault.Report     `json:"details,omitempty"`
}

// RunnerOptions はランナーの依存
type RunnerOptions struct {
	Logger        *zap.Logger
	Health        *monitor.Health
	FaultMonitor  *monitor.FaultMonitor
	Pool          *worker.Pool
	Shaper        fault.Shaper
	Proc          fault.ProcessController
	Rand          *rand.Rand
	EventBus      *events.Bus
	WatchInterval time.Duration // 障害監視のサンプリング間隔
}

// Runner は個々の障害注入を実行する
// アクティブな注入器のレジストリを管理し、実験終了時の一括
// クリーンアップを保証する
type Runner struct {
	logger        *zap.Logger
	health        *monitor.Health
	faultMon      *monitor.FaultMonitor
	pool          *worker.Pool
	shaper        fault.Shaper
	proc          fault.ProcessController
	rng           *rand.Rand
	eventBus      *events.Bus
	watchInterval time.Duration

	mu     sync.Mutex
	active map[fault.Injector]struct{}
}

// NewRunner は新しいランナーを作成する
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	health := opts.Health
	if health == nil {
		health = monitor.NewHealth(monitor.DefaultHealthConfig(), logger)
	}
	faultMon := opts.FaultMonitor
	if faultMon == nil {
		faultMon = monitor.NewFaultMonitor(logger)
	}
	interval := opts.WatchInterval
	if interval <= 0 {
		interval = 1 * time.Second
	}
	return &Runner{
		logger:        logger,
		health:        health,
		faultMon:      faultMon,
		pool:          opts.Pool,
		shaper:        opts.Shaper,
		proc:          opts.Proc,
		rng:           opts.Rand,
		eventBus:      opts.EventBus,
		watchInterval: interval,
	}
}

// Health はヘルスモニタを返す
func (r *Runner) Health() *monitor.Health {
	return r.health
}

// FaultMonitor は障害モニタを返す
func (r *Runner) FaultMonitor() *monitor.FaultMonitor {
	return r.faultMon
}

// ActiveCount はアクティブな注入器の数を返す
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Runner) register(inj fault.Injector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		r.active = make(map[fault.Injector]struct{})
	}
	r.active[inj] = struct{}{}
}

func (r *Runner) deregister(inj fault.Injector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, inj)
}

func (r *Runner) publish(event events.Event) {
	if r.eventBus != nil {
		r.eventBus.Publish(event)
	}
}

// RunFault は単一の障害注入を最後まで実行する
//
// 保護対象はスキップし、注入後は障害モニタがアクティブウィンドウを
// 駆動する。どのような結果でも注入器は必ずレジストリから外れる。
func (r *Runner) RunFault(ctx context.Context, experimentID string, fc config.FaultConfig, sc *safety.Controller) FaultOutcome {
	outcome := FaultOutcome{
		Fault: fc.Name,
		Type:  fc.Type,
		Start: time.Now(),
	}

	if fc.Target != "" && sc != nil && sc.IsTargetProtected(fc.Target) {
		r.logger.Info("skipping protected target",
			zap.String("fault", fc.Name),
			zap.String("target", fc.Target))
		outcome.Status = FaultSkipped
		outcome.Reason = "protected_target"
		outcome.End = time.Now()
		return outcome
	}

	inj, err := fault.New(fc, fault.Options{
		Logger: r.logger,
		Rand:   r.rng,
		Shaper: r.shaper,
		Proc:   r.proc,
		Pool:   r.pool,
	})
	if err != nil {
		r.logger.Warn("cannot build injector",
			zap.String("fault", fc.Name), zap.Error(err))
		outcome.Status = FaultFailed
		outcome.Error = err.Error()
		outcome.End = time.Now()
		return outcome
	}

	r.register(inj)
	defer r.deregister(inj)

	runOutcome, err := fault.Run(ctx, inj, func(ctx context.Context) {
		r.publish(events.NewFaultInjectedEvent(experimentID, fc.Name, string(fc.Type)))
		r.faultMon.Watch(ctx, fc.Name, fc.Type, inj, fc.Duration, r.watchInterval)
	})

	outcome.End = time.Now()
	switch {
	case err != nil:
		outcome.Status = FaultFailed
		outcome.Error = err.Error()
	case runOutcome.Injected:
		outcome.Status = FaultActive
		outcome.Details = runOutcome.Report
		r.publish(events.NewFaultCleanedEvent(experimentID, fc.Name, string(fc.Type)))
	default:
		outcome.Status = FaultSkipped
		outcome.Reason = runOutcome.Reason
	}

	return outcome
}

// CleanupAll はアクティブな全注入器をベストエフォートで後始末する
func (r *Runner) CleanupAll(ctx context.Context) {
	r.mu.Lock()
	injectors := make([]fault.Injector, 0, len(r.active))
	for inj := range r.active {
		injectors = append(injectors, inj)
	}
	r.active = nil
	r.mu.Unlock()

	for _, inj := range injectors {
		if err := inj.Cleanup(ctx); err != nil {
			r.logger.Error("failed to cleanup fault",
				zap.String("fault", inj.Config().Name), zap.Error(err))
		}
	}
}
