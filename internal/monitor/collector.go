package monitor

import (
	"sort"
	"sync"
	"time"
)

const defaultWindowSize = 100

// sample は時刻付きのメトリクス値
type sample struct {
	value float64
	ts    time.Time
}

// ring は固定サイズのリングバッファ
type ring struct {
	buf  []sample
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]sample, size)}
}

func (r *ring) add(s sample) {
	r.buf[r.next] = s
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// values は記録順を問わず現在の値を返す
func (r *ring) values() []float64 {
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[i].value
	}
	return out
}

func (r *ring) count() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Collector は実験中のメトリクスを収集・集計する
// 各メトリクスは固定サイズのリングバッファに保持される
type Collector struct {
	windowSize int

	mu       sync.RWMutex
	metrics  map[string]*ring
	counters map[string]int64
	start    time.Time
}

// NewCollector は新しいコレクタを作成する
// windowSize が 0 以下の場合はデフォルト値を使用
func NewCollector(windowSize int) *Collector {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Collector{
		windowSize: windowSize,
		metrics:    make(map[string]*ring),
		counters:   make(map[string]int64),
		start:      time.Now(),
	}
}

// RecordValue はメトリクス値を記録する
func (c *Collector) RecordValue(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.metrics[name]
	if !ok {
		r = newRing(c.windowSize)
		c.metrics[name] = r
	}
	r.add(sample{value: value, ts: time.Now()})
}

// IncrementCounter はカウンタを加算する
func (c *Collector) IncrementCounter(name string, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += amount
}

// Counter はカウンタの現在値を返す
func (c *Collector) Counter(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Average はメトリクスの平均値を返す
// サンプルがない場合は ok=false
func (c *Collector) Average(name string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, exists := c.metrics[name]
	if !exists || r.count() == 0 {
		return 0, false
	}

	var sum float64
	values := r.values()
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

// Percentile はメトリクスのパーセンタイル値を返す（percentile は 0〜100）
func (c *Collector) Percentile(name string, percentile float64) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, exists := c.metrics[name]
	if !exists || r.count() == 0 {
		return 0, false
	}

	values := r.values()
	sort.Float64s(values)

	idx := int(float64(len(values)) * percentile / 100)
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx], true
}

// Rate はカウンタの秒間レートを返す
func (c *Collector) Rate(name string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elapsed := time.Since(c.start).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(c.counters[name]) / elapsed
}

// MetricStats は単一メトリクスの統計値
type MetricStats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Summary は全メトリクスの集計結果
type Summary struct {
	Duration time.Duration          `json:"duration"`
	Counters map[string]int64       `json:"counters"`
	Rates    map[string]float64     `json:"rates"`
	Metrics  map[string]MetricStats `json:"metrics"`
}

// Summary は全メトリクスの集計結果を返す
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{
		Duration: time.Since(c.start),
		Counters: make(map[string]int64, len(c.counters)),
		Rates:    make(map[string]float64, len(c.counters)),
		Metrics:  make(map[string]MetricStats, len(c.metrics)),
	}

	elapsed := s.Duration.Seconds()
	for name, v := range c.counters {
		s.Counters[name] = v
		if elapsed > 0 {
			s.Rates[name+"_per_second"] = float64(v) / elapsed
		}
	}

	for name, r := range c.metrics {
		values := r.values()
		if len(values) == 0 {
			continue
		}
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)

		var sum float64
		for _, v := range sorted {
			sum += v
		}

		s.Metrics[name] = MetricStats{
			Count:   len(sorted),
			Average: sum / float64(len(sorted)),
			P50:     percentileOf(sorted, 50),
			P95:     percentileOf(sorted, 95),
			P99:     percentileOf(sorted, 99),
			Min:     sorted[0],
			Max:     sorted[len(sorted)-1],
		}
	}

	return s
}

// percentileOf はソート済みスライスからパーセンタイル値を取り出す
func percentileOf(sorted []float64, percentile float64) float64 {
	idx := int(float64(len(sorted)) * percentile / 100)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Reset は全メトリクスとカウンタをリセットする
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics = make(map[string]*ring)
	c.counters = make(map[string]int64)
	c.start = time.Now()
}
