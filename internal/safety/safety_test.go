package safety

import (
	"context"
	"strings"
	"testing"
	"time"

	"chaos-mcp/internal/config"
)

// fakeHealth は固定値を返す HealthSource
type fakeHealth struct {
	errorRate   float64
	successRate float64
	latencyP99  time.Duration
}

func (f *fakeHealth) ErrorRate() float64        { return f.errorRate }
func (f *fakeHealth) SuccessRate() float64      { return f.successRate }
func (f *fakeHealth) LatencyP99() time.Duration { return f.latencyP99 }

func healthy() *fakeHealth {
	return &fakeHealth{errorRate: 0, successRate: 1, latencyP99: 10 * time.Millisecond}
}

func unhealthy() *fakeHealth {
	return &fakeHealth{errorRate: 0.9, successRate: 0.1, latencyP99: 30 * time.Second}
}

func TestCheckSafetyDisabled(t *testing.T) {
	cfg := config.DefaultSafetyConfig()
	cfg.Enabled = false
	c := New(cfg, nil)

	safe, reasons := c.CheckSafety(context.Background(), unhealthy())
	if !safe {
		t.Errorf("expected safe when disabled, got reasons %v", reasons)
	}
}

func TestCheckSafetyHealthy(t *testing.T) {
	c := New(config.DefaultSafetyConfig(), nil)

	safe, reasons := c.CheckSafety(context.Background(), healthy())
	if !safe {
		t.Errorf("expected safe with healthy metrics, got reasons %v", reasons)
	}
}

func TestCheckSafetyReasons(t *testing.T) {
	c := New(config.DefaultSafetyConfig(), nil)

	safe, reasons := c.CheckSafety(context.Background(), unhealthy())
	if safe {
		t.Fatal("expected unsafe with degraded metrics")
	}
	if len(reasons) != 3 {
		t.Fatalf("expected 3 distinct reasons, got %v", reasons)
	}

	joined := strings.Join(reasons, "; ")
	for _, want := range []string{"error rate too high", "latency too high", "success rate too low"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected reason containing %q, got %v", want, reasons)
		}
	}
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cfg := config.DefaultSafetyConfig()
	cfg.CircuitBreakerTimeout = time.Hour
	c := New(cfg, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		safe, _ := c.CheckSafety(ctx, unhealthy())
		if safe {
			t.Fatalf("expected unsafe at evaluation %d", i+1)
		}
	}

	if !c.BreakerOpen() {
		t.Fatal("expected breaker open after 3 unsafe evaluations")
	}

	// ブレーカーが開いている間はメトリクスを見ずに拒否する
	safe, reasons := c.CheckSafety(ctx, healthy())
	if safe {
		t.Fatal("expected unsafe while breaker open")
	}
	if len(reasons) != 1 || !strings.Contains(reasons[0], "circuit breaker open") {
		t.Errorf("expected breaker reason, got %v", reasons)
	}
}

func TestCircuitBreakerTimedReset(t *testing.T) {
	cfg := config.DefaultSafetyConfig()
	cfg.CircuitBreakerTimeout = 30 * time.Millisecond
	c := New(cfg, nil)

	ctx := context.Background()
	for n := 0; n < 3; n++ {
		c.CheckSafety(ctx, unhealthy())
	}
	if !c.BreakerOpen() {
		t.Fatal("expected breaker open")
	}

	time.Sleep(50 * time.Millisecond)

	safe, reasons := c.CheckSafety(ctx, healthy())
	if !safe {
		t.Errorf("expected safe after breaker timeout, got %v", reasons)
	}
	if c.BreakerOpen() {
		t.Error("expected breaker closed after reset")
	}
}

func TestBreakerCountsAreCumulative(t *testing.T) {
	cfg := config.DefaultSafetyConfig()
	cfg.CircuitBreakerTimeout = time.Hour
	c := New(cfg, nil)

	ctx := context.Background()
	// 不健全な評価の間に健全な評価を挟んでも失敗カウントは減らない
	c.CheckSafety(ctx, unhealthy())
	c.CheckSafety(ctx, healthy())
	c.CheckSafety(ctx, unhealthy())
	c.CheckSafety(ctx, unhealthy())

	if !c.BreakerOpen() {
		t.Error("expected breaker open after 3 cumulative unsafe evaluations")
	}
}

func TestEmergencyStop(t *testing.T) {
	cfg := config.DefaultSafetyConfig()
	cfg.EmergencyContacts = []string{"oncall@example.com"}
	c := New(cfg, nil)

	c.TriggerEmergencyStop("manual")
	c.TriggerEmergencyStop("again") // 冪等

	if !c.EmergencyStopped() {
		t.Fatal("expected emergency stop latched")
	}

	safe, reasons := c.CheckSafety(context.Background(), healthy())
	if safe {
		t.Fatal("expected unsafe after emergency stop")
	}
	if len(reasons) != 1 || reasons[0] != "emergency stop triggered" {
		t.Errorf("unexpected reasons: %v", reasons)
	}
}

func TestIsTargetProtected(t *testing.T) {
	cfg := config.DefaultSafetyConfig()
	cfg.ProtectedServices = []string{"auth-service"}
	cfg.ProtectedHosts = []string{"db-primary"}
	c := New(cfg, nil)

	if !c.IsTargetProtected("auth-service") {
		t.Error("expected auth-service protected")
	}
	if !c.IsTargetProtected("db-primary") {
		t.Error("expected db-primary protected")
	}
	if c.IsTargetProtected("cache") {
		t.Error("expected cache unprotected")
	}
}

func TestIsTimeAllowed(t *testing.T) {
	now := time.Now()

	cfg := config.DefaultSafetyConfig()
	c := New(cfg, nil)
	if !c.IsTimeAllowed() {
		t.Error("expected allowed with no windows")
	}

	cfg.AllowedTimeWindows = []config.TimeWindow{
		{Start: now.Add(-time.Hour), End: now.Add(time.Hour)},
	}
	c = New(cfg, nil)
	if !c.IsTimeAllowed() {
		t.Error("expected allowed inside window")
	}

	cfg.AllowedTimeWindows = []config.TimeWindow{
		{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
	}
	c = New(cfg, nil)
	if c.IsTimeAllowed() {
		t.Error("expected disallowed outside window")
	}
}

func TestBlastRadius(t *testing.T) {
	cfg := config.DefaultSafetyConfig()
	cfg.MaxAffectedInstances = 2
	c := New(cfg, nil)

	if !c.BlastRadiusOK([]string{"a", "b"}) {
		t.Error("expected 2 targets within blast radius")
	}
	if c.BlastRadiusOK([]string{"a", "b", "c"}) {
		t.Error("expected 3 targets to exceed blast radius")
	}
}
