package fault

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chaos-mcp/internal/config"
)

// timeInjector は時刻ドリフトを注入する
// システム時刻は変更せず、Now() 経由で参照するコードに
// オフセットまたは固定時刻を見せる
type timeInjector struct {
	*state

	mu     sync.Mutex
	offset time.Duration
	frozen *time.Time
}

func newTimeInjector(cfg config.FaultConfig, opts Options) *timeInjector {
	return &timeInjector{state: newState(cfg, opts)}
}

// params は時刻パラメータブロックを返す（未指定ならデフォルト）
func (t *timeInjector) params() config.TimeParams {
	if t.cfg.Time != nil {
		return *t.cfg.Time
	}
	return config.TimeParams{DriftType: "forward", DriftAmount: time.Hour}
}

// Inject はドリフト種別に応じて時刻オフセットを設定する
func (t *timeInjector) Inject(_ context.Context) (Report, error) {
	p := t.params()
	driftType := p.DriftType
	if driftType == "" {
		driftType = "forward"
	}
	amount := p.DriftAmount
	if amount == 0 {
		amount = time.Hour
	}

	t.mu.Lock()
	switch driftType {
	case "forward":
		t.offset = amount
	case "backward":
		t.offset = -amount
	case "freeze":
		now := time.Now()
		t.frozen = &now
		t.offset = 0
	}
	offset := t.offset
	t.mu.Unlock()

	t.pushUndo("reset time drift", func(context.Context) error {
		t.mu.Lock()
		t.offset = 0
		t.frozen = nil
		t.mu.Unlock()
		return nil
	})

	t.logger.Info("time drift injected",
		zap.String("fault", t.cfg.Name),
		zap.String("drift_type", driftType),
		zap.Duration("amount", amount))

	return Report{
		"type":       "time_drift",
		"drift_type": driftType,
		"amount":     amount.String(),
		"offset":     offset.String(),
	}, nil
}

// Now はドリフト適用後の現在時刻を返す
func (t *timeInjector) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen != nil {
		return *t.frozen
	}
	return time.Now().Add(t.offset)
}

// Offset は現在のオフセットを返す
func (t *timeInjector) Offset() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Cleanup は時刻の変更をリセットする
func (t *timeInjector) Cleanup(ctx context.Context) error {
	t.runUndo(ctx)
	return nil
}
