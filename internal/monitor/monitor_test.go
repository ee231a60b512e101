package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"chaos-mcp/internal/config"
)

func TestHealthRecordRequest(t *testing.T) {
	h := NewHealth(DefaultHealthConfig(), nil)

	h.RecordRequest(10*time.Millisecond, false)
	h.RecordRequest(20*time.Millisecond, false)
	h.RecordRequest(30*time.Millisecond, true)

	errRate := h.ErrorRate()
	if errRate < 0.33 || errRate > 0.34 {
		t.Errorf("expected error rate ~0.33, got %v", errRate)
	}
	if h.SuccessRate() != 1.0-errRate {
		t.Errorf("expected success rate to mirror error rate")
	}
	if h.LatencyP99() < 10*time.Millisecond {
		t.Errorf("expected p99 >= 10ms, got %v", h.LatencyP99())
	}
}

func TestHealthEmptyRates(t *testing.T) {
	h := NewHealth(DefaultHealthConfig(), nil)

	if h.ErrorRate() != 0 {
		t.Errorf("expected error rate 0 with no requests, got %v", h.ErrorRate())
	}
	if h.SuccessRate() != 1.0 {
		t.Errorf("expected success rate 1.0 with no requests, got %v", h.SuccessRate())
	}
	if h.LatencyP99() != 0 {
		t.Errorf("expected p99 0 with no samples, got %v", h.LatencyP99())
	}
}

func TestHealthChecks(t *testing.T) {
	cfg := DefaultHealthConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	h := NewHealth(cfg, nil)

	var passCalls, failCalls atomic.Int32
	h.RegisterCheck("ok", func(ctx context.Context) error {
		passCalls.Add(1)
		return nil
	})
	h.RegisterCheck("bad", func(ctx context.Context) error {
		failCalls.Add(1)
		return errors.New("down")
	})

	h.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	h.Stop()

	if passCalls.Load() == 0 || failCalls.Load() == 0 {
		t.Fatal("expected health checks to run")
	}

	metrics := h.Metrics()
	if metrics.Checks.Passed == 0 {
		t.Error("expected passed checks recorded")
	}
	if metrics.Checks.Failed == 0 {
		t.Error("expected failed checks recorded")
	}
	if metrics.Checks.Healthy {
		t.Error("expected unhealthy with 50% check failures")
	}
	if metrics.Current.Goroutines <= 0 {
		t.Error("expected positive goroutine count")
	}
}

func TestHealthDoubleStartStop(t *testing.T) {
	h := NewHealth(DefaultHealthConfig(), nil)
	ctx := context.Background()

	h.Start(ctx)
	h.Start(ctx)
	if !h.IsRunning() {
		t.Error("expected running after Start")
	}
	h.Stop()
	h.Stop()
	if h.IsRunning() {
		t.Error("expected stopped after Stop")
	}
}

type fakeFault struct {
	active atomic.Bool
}

func (f *fakeFault) IsActive() bool {
	return f.active.Load()
}

func TestFaultMonitorWatchDuration(t *testing.T) {
	m := NewFaultMonitor(nil)
	f := &fakeFault{}
	f.active.Store(true)

	result := m.Watch(context.Background(), "latency-test", config.FaultNetworkLatency, f, 50*time.Millisecond, 10*time.Millisecond)

	if result.Elapsed < 50*time.Millisecond {
		t.Errorf("expected watch to run full duration, got %v", result.Elapsed)
	}
	if m.ActiveCount() != 0 {
		t.Errorf("expected no active watches after return, got %d", m.ActiveCount())
	}
	if len(m.History(10)) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(m.History(10)))
	}
}

func TestFaultMonitorWatchShortDuration(t *testing.T) {
	m := NewFaultMonitor(nil)
	f := &fakeFault{}
	f.active.Store(true)

	// duration が interval より短くても interval 一回分は待たない
	result := m.Watch(context.Background(), "short-window", config.FaultNetworkLatency, f, 20*time.Millisecond, time.Second)

	if result.Elapsed >= 500*time.Millisecond {
		t.Errorf("expected watch to end at duration, got %v", result.Elapsed)
	}
	if result.Elapsed < 20*time.Millisecond {
		t.Errorf("expected watch to run full duration, got %v", result.Elapsed)
	}
}

func TestFaultMonitorWatchStopsWhenInactive(t *testing.T) {
	m := NewFaultMonitor(nil)
	f := &fakeFault{}
	f.active.Store(true)

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.active.Store(false)
	}()

	result := m.Watch(context.Background(), "short", config.FaultCPUPressure, f, 10*time.Second, 10*time.Millisecond)

	if result.Elapsed >= 1*time.Second {
		t.Errorf("expected watch to end when fault went inactive, got %v", result.Elapsed)
	}
}

func TestRecoveryNoBaseline(t *testing.T) {
	r := NewRecovery(DefaultRecoveryConfig(), nil)
	h := NewHealth(DefaultHealthConfig(), nil)

	result := r.WatchRecovery(context.Background(), h)
	if result.Recovered {
		t.Error("expected no recovery without baseline")
	}
	if result.Reason != "no_baseline" {
		t.Errorf("expected reason no_baseline, got %q", result.Reason)
	}
}

func TestRecoveryToBaseline(t *testing.T) {
	cfg := RecoveryConfig{
		BaselineDuration: 40 * time.Millisecond,
		RecoveryTimeout:  500 * time.Millisecond,
		SampleInterval:   10 * time.Millisecond,
		Threshold:        10.0, // テストではランタイムの揺らぎを許容する
		MaxErrorRate:     0.01,
	}
	r := NewRecovery(cfg, nil)
	h := NewHealth(DefaultHealthConfig(), nil)

	if err := r.EstablishBaseline(context.Background(), h); err != nil {
		t.Fatalf("unexpected baseline error: %v", err)
	}
	if !r.HasBaseline() {
		t.Fatal("expected baseline to be established")
	}

	result := r.WatchRecovery(context.Background(), h)
	if !result.Recovered {
		t.Errorf("expected recovery with healthy system, reason=%q", result.Reason)
	}
}

func TestRecoveryTimeout(t *testing.T) {
	cfg := RecoveryConfig{
		BaselineDuration: 30 * time.Millisecond,
		RecoveryTimeout:  80 * time.Millisecond,
		SampleInterval:   10 * time.Millisecond,
		Threshold:        10.0,
		MaxErrorRate:     0.01,
	}
	r := NewRecovery(cfg, nil)
	h := NewHealth(DefaultHealthConfig(), nil)

	if err := r.EstablishBaseline(context.Background(), h); err != nil {
		t.Fatalf("unexpected baseline error: %v", err)
	}

	// 高いエラー率を維持して復旧を妨げる
	for n := 0; n < 100; n++ {
		h.RecordRequest(time.Millisecond, true)
	}

	result := r.WatchRecovery(context.Background(), h)
	if result.Recovered {
		t.Error("expected no recovery with sustained errors")
	}
	if result.Reason != "timeout" {
		t.Errorf("expected reason timeout, got %q", result.Reason)
	}
}
