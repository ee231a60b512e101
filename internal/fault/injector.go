package fault

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"chaos-mcp/internal/config"
	"chaos-mcp/internal/observability"
	"chaos-mcp/internal/worker"
)

// ErrUnknownFaultType は未知の障害種別に対するエラー
var ErrUnknownFaultType = errors.New("unknown fault type")

// Report は注入結果の詳細
type Report map[string]any

// Outcome は一回の障害注入ライフサイクルの結果
type Outcome struct {
	Injected bool      `json:"injected"`
	Reason   string    `json:"reason,omitempty"`
	Report   Report    `json:"report,omitempty"`
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
}

// Injector は単一の障害注入器
// 一つの注入器インスタンスは一回の障害実行にのみ使用する
type Injector interface {
	// Inject は障害を注入する
	Inject(ctx context.Context) (Report, error)
	// Cleanup は注入した障害を取り除く（冪等）
	Cleanup(ctx context.Context) error
	// Config は障害設定を返す
	Config() config.FaultConfig
	// IsActive は障害がアクティブかどうかを返す
	IsActive() bool

	injectorState() *state
}

// Options は注入器の共通依存
type Options struct {
	Logger *zap.Logger
	Rand   *rand.Rand        // 確率ゲート用（nil で時刻シード）
	Shaper Shaper            // ネットワーク整形（nil で監査のみ）
	Proc   ProcessController // プロセス操作（nil で監査のみ）
	Pool   *worker.Pool      // CPU負荷用ワーカープール
}

// New は障害種別に応じた注入器を作成する
// 未知の種別には ErrUnknownFaultType を返す
func New(cfg config.FaultConfig, opts Options) (Injector, error) {
	switch {
	case cfg.Type.IsNetwork():
		return newNetworkInjector(cfg, opts), nil
	case cfg.Type.IsResource():
		return newResourceInjector(cfg, opts), nil
	case cfg.Type.IsProcess():
		return newProcessInjector(cfg, opts), nil
	case cfg.Type == config.FaultTimeDrift:
		return newTimeInjector(cfg, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFaultType, cfg.Type)
	}
}

// undoAction は注入時に積まれる取り消し操作
// Cleanup で積まれた順の逆順に実行される
type undoAction struct {
	desc string
	fn   func(ctx context.Context) error
}

// state は全注入器が共有する実行状態
type state struct {
	cfg    config.FaultConfig
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	active  atomic.Bool
	startAt time.Time
	endAt   time.Time

	undoMu sync.Mutex
	undo   []undoAction
}

func newState(cfg config.FaultConfig, opts Options) *state {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &state{cfg: cfg, logger: logger, rng: rng}
}

func (s *state) injectorState() *state      { return s }
func (s *state) Config() config.FaultConfig { return s.cfg }
func (s *state) IsActive() bool             { return s.active.Load() }

// shouldInject は確率ゲートの判定を行う
func (s *state) shouldInject() bool {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < s.cfg.Probability
}

// pushUndo は取り消し操作をスタックに積む
func (s *state) pushUndo(desc string, fn func(ctx context.Context) error) {
	s.undoMu.Lock()
	defer s.undoMu.Unlock()
	s.undo = append(s.undo, undoAction{desc: desc, fn: fn})
}

// runUndo は積まれた取り消し操作を逆順に実行する
// 個々の失敗はログに残すのみで続行する
func (s *state) runUndo(ctx context.Context) {
	s.undoMu.Lock()
	actions := s.undo
	s.undo = nil
	s.undoMu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		if err := actions[i].fn(ctx); err != nil {
			s.logger.Error("undo action failed",
				zap.String("fault", s.cfg.Name),
				zap.String("action", actions[i].desc),
				zap.Error(err))
		}
	}
}

// Run は障害注入のライフサイクル全体を実行する
//
// 確率ゲート → 遅延 → 注入 → アクティブウィンドウ（during）→ クリーンアップ
// の順に進み、注入後はエラーやパニックの有無にかかわらず必ず
// クリーンアップまで到達する。during は障害がアクティブな間の監視を
// 呼び出し側が駆動するためのフックで、nil でもよい。
func Run(ctx context.Context, inj Injector, during func(ctx context.Context)) (Outcome, error) {
	s := inj.injectorState()
	cfg := s.cfg

	tracer := otel.Tracer(observability.TracerName)
	ctx, span := tracer.Start(ctx, "fault_injection."+string(cfg.Type))
	defer span.End()

	if !s.shouldInject() {
		span.AddEvent("fault injection skipped (probability)")
		s.logger.Info("fault injection skipped",
			zap.String("fault", cfg.Name),
			zap.Float64("probability", cfg.Probability))
		return Outcome{Injected: false, Reason: "probability"}, nil
	}

	if cfg.Delay > 0 {
		s.logger.Info("delaying fault injection",
			zap.String("fault", cfg.Name),
			zap.Duration("delay", cfg.Delay))
		select {
		case <-ctx.Done():
			return Outcome{Injected: false, Reason: "cancelled"}, ctx.Err()
		case <-time.After(cfg.Delay):
		}
	}

	s.active.Store(true)
	s.startAt = time.Now()

	observability.FaultInjections.WithLabelValues(string(cfg.Type)).Inc()
	span.SetAttributes(
		attribute.String("fault.type", string(cfg.Type)),
		attribute.String("fault.name", cfg.Name),
		attribute.Float64("fault.duration_seconds", cfg.Duration.Seconds()),
	)

	var injectErr error
	var report Report

	// 注入以降は必ずクリーンアップまで到達させる
	defer func() {
		s.active.Store(false)
		s.endAt = time.Now()
		observability.FaultDuration.WithLabelValues(string(cfg.Type)).
			Observe(s.endAt.Sub(s.startAt).Seconds())

		// キャンセル済みコンテキストでもクリーンアップは実行する
		if err := inj.Cleanup(context.WithoutCancel(ctx)); err != nil {
			span.RecordError(err)
			s.logger.Error("fault cleanup failed",
				zap.String("fault", cfg.Name), zap.Error(err))
		} else {
			span.AddEvent("fault cleaned up")
		}
	}()

	report, injectErr = inj.Inject(ctx)
	if injectErr != nil {
		observability.FaultErrors.WithLabelValues(string(cfg.Type)).Inc()
		span.RecordError(injectErr)
		span.SetStatus(codes.Error, injectErr.Error())
		s.logger.Error("fault injection failed",
			zap.String("fault", cfg.Name), zap.Error(injectErr))
		return Outcome{Injected: false, Reason: "inject_error", Start: s.startAt},
			fmt.Errorf("inject %q: %w", cfg.Name, injectErr)
	}

	span.AddEvent("fault injected")
	s.logger.Info("fault injected",
		zap.String("fault", cfg.Name),
		zap.String("type", string(cfg.Type)))

	if during != nil {
		during(ctx)
	}

	return Outcome{Injected: true, Report: report, Start: s.startAt, End: time.Now()}, nil
}
