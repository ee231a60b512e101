package monitor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HealthCheck はヘルスチェック関数
// nil を返すと成功、エラーを返すと失敗として記録される
type HealthCheck func(ctx context.Context) error

// HealthConfig はヘルスモニタの設定
type HealthConfig struct {
	CheckInterval time.Duration // メトリクス収集間隔
	WindowSize    int           // メトリクスウィンドウサイズ
}

// DefaultHealthConfig はデフォルト設定を返す
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval: 1 * time.Second,
		WindowSize:    defaultWindowSize,
	}
}

// Health はシステムの健全性を継続的に監視する
// ランタイムメトリクスの収集と登録されたヘルスチェックの実行を行う
type Health struct {
	config    HealthConfig
	collector *Collector
	logger    *zap.Logger

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check HealthCheck
}

// NewHealth は新しいヘルスモニタを作成する
func NewHealth(config HealthConfig, logger *zap.Logger) *Health {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 1 * time.Second
	}
	return &Health{
		config:    config,
		collector: NewCollector(config.WindowSize),
		logger:    logger,
	}
}

// RegisterCheck はヘルスチェックを登録する
func (h *Health) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

// Start は監視ループを開始する
func (h *Health) Start(ctx context.Context) {
	if h.running.Swap(true) {
		return
	}

	h.ctx, h.cancel = context.WithCancel(ctx)

	h.wg.Add(1)
	go h.monitorLoop()

	h.logger.Info("health monitoring started",
		zap.Duration("interval", h.config.CheckInterval))
}

// Stop は監視ループを停止する
func (h *Health) Stop() {
	if !h.running.Swap(false) {
		return
	}

	h.cancel()
	h.wg.Wait()

	h.logger.Info("health monitoring stopped")
}

// IsRunning は実行中かどうかを返す
func (h *Health) IsRunning() bool {
	return h.running.Load()
}

// monitorLoop は定期的にメトリクス収集とヘルスチェックを実行する
func (h *Health) monitorLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.collectRuntimeMetrics()
			h.runChecks()
		}
	}
}

// collectRuntimeMetrics はランタイムのメトリクスを収集する
func (h *Health) collectRuntimeMetrics() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h.collector.RecordValue("heap_alloc_mb", float64(ms.HeapAlloc)/(1024*1024))
	h.collector.RecordValue("heap_sys_mb", float64(ms.HeapSys)/(1024*1024))
	h.collector.RecordValue("goroutines", float64(runtime.NumGoroutine()))
	h.collector.RecordValue("gc_cycles", float64(ms.NumGC))
}

// runChecks は登録されたヘルスチェックを実行する
func (h *Health) runChecks() {
	h.mu.RLock()
	checks := make([]namedCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	for _, nc := range checks {
		start := time.Now()
		err := nc.check(h.ctx)
		h.collector.RecordValue("health_check_ms", float64(time.Since(start).Milliseconds()))

		if err != nil {
			h.collector.IncrementCounter("health_checks_failed", 1)
			h.logger.Warn("health check failed",
				zap.String("check", nc.name), zap.Error(err))
		} else {
			h.collector.IncrementCounter("health_checks_passed", 1)
		}
	}
}

// RecordRequest はリクエストの結果を記録する
// エラー率・成功率・レイテンシ監視の入力になる
func (h *Health) RecordRequest(latency time.Duration, failed bool) {
	h.collector.IncrementCounter("requests_total", 1)
	if failed {
		h.collector.IncrementCounter("requests_failed", 1)
	}
	h.collector.RecordValue("latency_ms", float64(latency.Milliseconds()))
}

// ErrorRate は現在のエラー率を返す（0.0〜1.0）
func (h *Health) ErrorRate() float64 {
	total := h.collector.Counter("requests_total")
	if total == 0 {
		return 0
	}
	return float64(h.collector.Counter("requests_failed")) / float64(total)
}

// SuccessRate は現在の成功率を返す（0.0〜1.0）
func (h *Health) SuccessRate() float64 {
	return 1.0 - h.ErrorRate()
}

// LatencyP99 はP99レイテンシを返す
func (h *Health) LatencyP99() time.Duration {
	p99, ok := h.collector.Percentile("latency_ms", 99)
	if !ok {
		return 0
	}
	return time.Duration(p99 * float64(time.Millisecond))
}

// CheckStats はヘルスチェックの統計値
type CheckStats struct {
	Total       int64   `json:"total"`
	Passed      int64   `json:"passed"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	Healthy     bool    `json:"healthy"`
}

// CurrentStats は現在のシステム状態
type CurrentStats struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	HeapSysMB   float64 `json:"heap_sys_mb"`
}

// HealthMetrics はヘルスモニタのスナップショット
type HealthMetrics struct {
	Summary     Summary       `json:"summary"`
	Current     CurrentStats  `json:"current"`
	Checks      CheckStats    `json:"checks"`
	ErrorRate   float64       `json:"error_rate"`
	SuccessRate float64       `json:"success_rate"`
	LatencyP99  time.Duration `json:"latency_p99"`
}

// Metrics は現在のヘルスメトリクスのスナップショットを返す
func (h *Health) Metrics() HealthMetrics {
	summary := h.collector.Summary()

	passed := summary.Counters["health_checks_passed"]
	failed := summary.Counters["health_checks_failed"]
	total := passed + failed

	successRate := 1.0
	if total > 0 {
		successRate = float64(passed) / float64(total)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return HealthMetrics{
		Summary: summary,
		Current: CurrentStats{
			Goroutines:  runtime.NumGoroutine(),
			HeapAllocMB: float64(ms.HeapAlloc) / (1024 * 1024),
			HeapSysMB:   float64(ms.HeapSys) / (1024 * 1024),
		},
		Checks: CheckStats{
			Total:       total,
			Passed:      passed,
			Failed:      failed,
			SuccessRate: successRate,
			Healthy:     successRate >= 0.9,
		},
		ErrorRate:   h.ErrorRate(),
		SuccessRate: h.SuccessRate(),
		LatencyP99:  h.LatencyP99(),
	}
}

// Collector は内部コレクタを返す
func (h *Health) Collector() *Collector {
	return h.collector
}
