package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"chaos-mcp/internal/config"
)

// ActiveFault は監視対象の障害注入器が満たすインターフェース
type ActiveFault interface {
	IsActive() bool
}

// WatchResult は障害監視の結果
type WatchResult struct {
	Name    string           `json:"name"`
	Type    config.FaultType `json:"type"`
	Start   time.Time        `json:"start"`
	End     time.Time        `json:"end"`
	Elapsed time.Duration    `json:"elapsed"`
	Metrics Summary          `json:"metrics"`
}

// FaultMonitor はアクティブな障害注入を監視する
// 障害の種類に応じたメトリクスを収集し、履歴を保持する
type FaultMonitor struct {
	logger *zap.Logger

	mu      sync.RWMutex
	active  map[string]time.Time
	history []WatchResult
}

// NewFaultMonitor は新しい障害モニタを作成する
func NewFaultMonitor(logger *zap.Logger) *FaultMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FaultMonitor{
		logger: logger,
		active: make(map[string]time.Time),
	}
}

// Watch は障害のアクティブウィンドウを駆動する
// duration が経過するか、注入器が非アクティブになるか、
// コンテキストがキャンセルされるまでブロックする
func (m *FaultMonitor) Watch(ctx context.Context, name string, faultType config.FaultType, fault ActiveFault, duration, interval time.Duration) WatchResult {
	if interval <= 0 {
		interval = 1 * time.Second
	}

	start := time.Now()
	collector := NewCollector(defaultWindowSize)

	m.mu.Lock()
	m.active[name] = start
	m.mu.Unlock()

	m.logger.Debug("fault watch started",
		zap.String("fault", name),
		zap.String("type", string(faultType)),
		zap.Duration("duration", duration))

	deadline := start.Add(duration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 期限は interval より短い duration でも即座に効くよう
	// タイマーでも監視する
	expired := time.NewTimer(duration)
	defer expired.Stop()

loop:
	for time.Now().Before(deadline) && fault.IsActive() {
		select {
		case <-ctx.Done():
			break loop
		case <-expired.C:
			break loop
		case <-ticker.C:
			m.collectFaultMetrics(collector, faultType)
		}
	}

	end := time.Now()
	result := WatchResult{
		Name:    name,
		Type:    faultType,
		Start:   start,
		End:     end,
		Elapsed: end.Sub(start),
		Metrics: collector.Summary(),
	}

	m.mu.Lock()
	delete(m.active, name)
	m.history = append(m.history, result)
	m.mu.Unlock()

	m.logger.Debug("fault watch ended",
		zap.String("fault", name),
		zap.Duration("elapsed", result.Elapsed))

	return result
}

// collectFaultMetrics は障害の種類に応じたメトリクスを収集する
func (m *FaultMonitor) collectFaultMetrics(collector *Collector, faultType config.FaultType) {
	var ms runtime.MemStats

	switch {
	case faultType.IsNetwork():
		collector.IncrementCounter("network_observations", 1)
	case faultType == config.FaultCPUPressure:
		collector.RecordValue("goroutines", float64(runtime.NumGoroutine()))
	case faultType == config.FaultMemoryPressure:
		runtime.ReadMemStats(&ms)
		collector.RecordValue("heap_alloc_mb", float64(ms.HeapAlloc)/(1024*1024))
	default:
		collector.IncrementCounter("observations", 1)
	}
}

// ActiveCount は監視中の障害数を返す
func (m *FaultMonitor) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// ActiveNames は監視中の障害名を返す
func (m *FaultMonitor) ActiveNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	return names
}

// History は監視履歴の直近最大 limit 件を返す
func (m *FaultMonitor) History(limit int) []WatchResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]WatchResult, limit)
	copy(out, m.history[len(m.history)-limit:])
	return out
}
