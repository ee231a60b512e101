package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecoveryConfig は復旧モニタの設定
type RecoveryConfig struct {
	BaselineDuration time.Duration // ベースライン確立期間
	RecoveryTimeout  time.Duration // 復旧待機の上限
	SampleInterval   time.Duration // サンプリング間隔
	Threshold        float64       // ベースラインからの許容乖離率
	MaxErrorRate     float64       // 復旧判定のエラー率上限
}

// DefaultRecoveryConfig はデフォルト設定を返す
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		BaselineDuration: 60 * time.Second,
		RecoveryTimeout:  300 * time.Second,
		SampleInterval:   1 * time.Second,
		Threshold:        0.1,
		MaxErrorRate:     0.01,
	}
}

// RecoveryResult は復旧監視の結果
type RecoveryResult struct {
	Recovered    bool          `json:"recovered"`
	Reason       string        `json:"reason,omitempty"`
	RecoveryTime time.Duration `json:"recovery_time,omitempty"`
	Metrics      Summary       `json:"metrics"`
}

// Recovery は障害注入後のベースラインへの復旧を監視する
type Recovery struct {
	config RecoveryConfig
	logger *zap.Logger

	mu       sync.RWMutex
	baseline *Summary
}

// NewRecovery は新しい復旧モニタを作成する
func NewRecovery(config RecoveryConfig, logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = 1 * time.Second
	}
	if config.Threshold <= 0 {
		config.Threshold = 0.1
	}
	return &Recovery{config: config, logger: logger}
}

// EstablishBaseline は障害注入前のベースラインを確立する
func (r *Recovery) EstablishBaseline(ctx context.Context, health *Health) error {
	r.logger.Info("establishing baseline",
		zap.Duration("duration", r.config.BaselineDuration))

	collector := NewCollector(defaultWindowSize)
	deadline := time.Now().Add(r.config.BaselineDuration)
	ticker := time.NewTicker(r.config.SampleInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.recordSample(collector, health)
		}
	}

	summary := collector.Summary()

	r.mu.Lock()
	r.baseline = &summary
	r.mu.Unlock()

	r.logger.Info("baseline established")
	return nil
}

// HasBaseline はベースラインが確立済みかどうかを返す
func (r *Recovery) HasBaseline() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseline != nil
}

// WatchRecovery は障害注入後の復旧をベースラインと比較して監視する
// 復旧を検出するか、タイムアウトするまでブロックする
func (r *Recovery) WatchRecovery(ctx context.Context, health *Health) RecoveryResult {
	r.mu.RLock()
	baseline := r.baseline
	r.mu.RUnlock()

	if baseline == nil {
		r.logger.Warn("no baseline established, skipping recovery monitoring")
		return RecoveryResult{Recovered: false, Reason: "no_baseline"}
	}

	r.logger.Info("monitoring recovery",
		zap.Duration("timeout", r.config.RecoveryTimeout))

	start := time.Now()
	collector := NewCollector(defaultWindowSize)
	deadline := start.Add(r.config.RecoveryTimeout)
	ticker := time.NewTicker(r.config.SampleInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return RecoveryResult{
				Recovered: false,
				Reason:    "cancelled",
				Metrics:   collector.Summary(),
			}
		case <-ticker.C:
			if r.checkRecovered(baseline, health) {
				elapsed := time.Since(start)
				r.logger.Info("system recovered",
					zap.Duration("recovery_time", elapsed))
				return RecoveryResult{
					Recovered:    true,
					RecoveryTime: elapsed,
					Metrics:      collector.Summary(),
				}
			}
			r.recordSample(collector, health)
		}
	}

	r.logger.Warn("system did not recover within timeout",
		zap.Duration("timeout", r.config.RecoveryTimeout))
	return RecoveryResult{
		Recovered: false,
		Reason:    "timeout",
		Metrics:   collector.Summary(),
	}
}

// recordSample は現在のヘルス状態をコレクタに記録する
func (r *Recovery) recordSample(collector *Collector, health *Health) {
	metrics := health.Metrics()
	collector.RecordValue("goroutines", float64(metrics.Current.Goroutines))
	collector.RecordValue("heap_alloc_mb", metrics.Current.HeapAllocMB)
	collector.RecordValue("latency_ms", float64(metrics.LatencyP99.Milliseconds()))
	collector.RecordValue("error_rate", metrics.ErrorRate)
}

// checkRecovered はベースラインへの復旧を判定する
// 主要メトリクスがベースライン平均の許容乖離率以内に収まり、
// エラー率が上限を下回れば復旧とみなす
func (r *Recovery) checkRecovered(baseline *Summary, health *Health) bool {
	metrics := health.Metrics()

	if stats, ok := baseline.Metrics["goroutines"]; ok {
		if deviates(float64(metrics.Current.Goroutines), stats.Average, r.config.Threshold) {
			return false
		}
	}

	if stats, ok := baseline.Metrics["heap_alloc_mb"]; ok {
		if deviates(metrics.Current.HeapAllocMB, stats.Average, r.config.Threshold) {
			return false
		}
	}

	return metrics.ErrorRate <= r.config.MaxErrorRate
}

// deviates は現在値がベースラインから threshold を超えて乖離しているかを返す
func deviates(current, baseline, threshold float64) bool {
	base := baseline
	if base < 1 {
		base = 1
	}
	diff := current - baseline
	if diff < 0 {
		diff = -diff
	}
	return diff/base > threshold
}
