package orchestrator

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chaos-mcp/internal/config"
	"chaos-mcp/internal/fault"
)

func testOrchestrator() *Orchestrator {
	runner := NewRunner(RunnerOptions{
		Shaper:        fault.NewAuditShaper(nil),
		Rand:          rand.New(rand.NewSource(7)),
		WatchInterval: 5 * time.Millisecond,
	})
	return New(Options{
		Runner: runner,
		Rand:   rand.New(rand.NewSource(7)),
	})
}

func latencyFault(name string, probability float64) config.FaultConfig {
	return config.FaultConfig{
		Type:        config.FaultNetworkLatency,
		Name:        name,
		Probability: probability,
		Duration:    20 * time.Millisecond,
		Network:     &config.NetworkParams{LatencyMS: 100},
	}
}

func baseConfig(faults ...config.FaultConfig) config.ExperimentConfig {
	cfg := config.DefaultExperimentConfig()
	cfg.Name = "test-experiment"
	cfg.Faults = faults
	cfg.CooldownPeriod = 0
	return cfg
}

func TestValidateExperiment(t *testing.T) {
	o := testOrchestrator()

	valid, errs := o.ValidateExperiment(baseConfig(latencyFault("f1", 1)))
	if !valid {
		t.Fatalf("expected valid config, got %v", errs)
	}

	tests := []struct {
		name   string
		mutate func(*config.ExperimentConfig)
		want   string
	}{
		{
			name:   "missing name",
			mutate: func(c *config.ExperimentConfig) { c.Name = "" },
			want:   "experiment name is required",
		},
		{
			name:   "no faults",
			mutate: func(c *config.ExperimentConfig) { c.Faults = nil },
			want:   "at least one fault must be defined",
		},
		{
			name:   "fault without name",
			mutate: func(c *config.ExperimentConfig) { c.Faults[0].Name = "" },
			want:   "missing a name",
		},
		{
			name:   "non-positive duration",
			mutate: func(c *config.ExperimentConfig) { c.Faults[0].Duration = 0 },
			want:   "invalid duration",
		},
		{
			name:   "probability out of range",
			mutate: func(c *config.ExperimentConfig) { c.Faults[0].Probability = 1.5 },
			want:   "invalid probability",
		},
		{
			name:   "negative delay",
			mutate: func(c *config.ExperimentConfig) { c.Faults[0].Delay = -time.Second },
			want:   "negative delay",
		},
		{
			name:   "bad error rate",
			mutate: func(c *config.ExperimentConfig) { c.Safety.MaxErrorRate = 2 },
			want:   "invalid max_error_rate",
		},
		{
			name:   "bad success rate",
			mutate: func(c *config.ExperimentConfig) { c.Safety.MinSuccessRate = -1 },
			want:   "invalid min_success_rate",
		},
		{
			name:   "negative start delay",
			mutate: func(c *config.ExperimentConfig) { c.StartDelay = -time.Second },
			want:   "invalid start_delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig(latencyFault("f1", 1))
			tt.mutate(&cfg)
			valid, errs := o.ValidateExperiment(cfg)
			if valid {
				t.Fatal("expected invalid config")
			}
			joined := strings.Join(errs, "; ")
			if !strings.Contains(joined, tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, errs)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	o := testOrchestrator()
	cfg := baseConfig(latencyFault("", 2))
	cfg.Name = ""

	valid, errs := o.ValidateExperiment(cfg)
	if valid {
		t.Fatal("expected invalid config")
	}
	if len(errs) < 3 {
		t.Errorf("expected multiple distinct errors, got %v", errs)
	}
}

func TestRunExperimentCompleted(t *testing.T) {
	o := testOrchestrator()
	cfg := baseConfig(latencyFault("f1", 1), latencyFault("f2", 1))

	result := o.RunExperiment(context.Background(), cfg)

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (errors: %v)", result.Status, result.Errors)
	}
	if result.TotalFaults != 2 || result.SuccessfulFaults != 2 {
		t.Errorf("expected 2/2 successful, got %d/%d",
			result.SuccessfulFaults, result.TotalFaults)
	}
	if result.ExperimentID == "" {
		t.Error("expected experiment id assigned")
	}
	if result.Duration <= 0 {
		t.Error("expected positive duration")
	}
	if o.runner.ActiveCount() != 0 {
		t.Error("expected no active injectors after experiment")
	}

	stored, ok := o.GetExperimentStatus(result.ExperimentID)
	if !ok || stored.Status != StatusCompleted {
		t.Error("expected result persisted")
	}
}

func TestRunExperimentProbabilityZeroSkips(t *testing.T) {
	o := testOrchestrator()
	result := o.RunExperiment(context.Background(), baseConfig(latencyFault("f1", 0)))

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.SkippedFaults != 1 || result.SuccessfulFaults != 0 {
		t.Errorf("expected 1 skipped, got skipped=%d successful=%d",
			result.SkippedFaults, result.SuccessfulFaults)
	}
}

func TestRunExperimentDryRun(t *testing.T) {
	o := testOrchestrator()
	cfg := baseConfig(latencyFault("f1", 1), latencyFault("f2", 1))
	cfg.DryRun = true

	result := o.RunExperiment(context.Background(), cfg)

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.SkippedFaults != 2 {
		t.Errorf("expected all faults skipped in dry run, got %d", result.SkippedFaults)
	}
	if len(result.FaultResults) != 0 {
		t.Errorf("expected no fault results in dry run, got %d", len(result.FaultResults))
	}
}

func TestRunExperimentDuplicateID(t *testing.T) {
	runner := NewRunner(RunnerOptions{
		Shaper:        fault.NewAuditShaper(nil),
		WatchInterval: 5 * time.Millisecond,
	})
	o := New(Options{
		Runner: runner,
		NewID:  func() string { return "fixed-id" },
	})

	cfg := baseConfig(latencyFault("f1", 1))
	cfg.StartDelay = 200 * time.Millisecond

	done := make(chan *Result, 1)
	go func() {
		done <- o.RunExperiment(context.Background(), cfg)
	}()

	time.Sleep(50 * time.Millisecond)

	second := o.RunExperiment(context.Background(), baseConfig(latencyFault("f2", 1)))
	if second.Status != StatusFailed {
		t.Fatalf("expected duplicate to fail immediately, got %s", second.Status)
	}
	if len(second.Errors) != 1 || !strings.Contains(second.Errors[0], "already running") {
		t.Errorf("expected duplicate error, got %v", second.Errors)
	}
	// 重複側は永続化されない
	if _, ok := o.GetExperimentStatus("fixed-id"); ok {
		t.Error("expected no persisted result while first experiment still running")
	}

	first := <-done
	if first.Status != StatusCompleted {
		t.Errorf("expected first experiment to complete, got %s", first.Status)
	}
}

func TestRunExperimentOutsideTimeWindow(t *testing.T) {
	o := testOrchestrator()
	cfg := baseConfig(latencyFault("f1", 1))
	cfg.Safety.AllowedTimeWindows = []config.TimeWindow{
		{Start: time.Now().Add(time.Hour), End: time.Now().Add(2 * time.Hour)},
	}

	result := o.RunExperiment(context.Background(), cfg)

	if result.Status != StatusAborted {
		t.Fatalf("expected aborted, got %s", result.Status)
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "time window") {
		t.Errorf("expected time window error, got %v", result.Errors)
	}
	if result.SuccessfulFaults != 0 {
		t.Error("expected no faults executed")
	}
}

func TestRunExperimentBlastRadiusExceeded(t *testing.T) {
	o := testOrchestrator()
	f1 := latencyFault("f1", 1)
	f1.Target = "svc-a"
	f2 := latencyFault("f2", 1)
	f2.Target = "svc-b"
	cfg := baseConfig(f1, f2)
	cfg.Safety.MaxAffectedInstances = 1

	result := o.RunExperiment(context.Background(), cfg)

	if result.Status != StatusAborted {
		t.Fatalf("expected aborted, got %s", result.Status)
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "blast radius") {
		t.Errorf("expected blast radius error, got %v", result.Errors)
	}
	if len(result.FaultResults) != 0 {
		t.Error("expected no faults executed")
	}
}

func TestSequentialSafetyAbort(t *testing.T) {
	o := testOrchestrator()

	// エラー率を安全しきい値の上に押し上げる
	for n := 0; n < 20; n++ {
		o.runner.Health().RecordRequest(time.Millisecond, true)
	}

	cfg := baseConfig(latencyFault("f1", 1), latencyFault("f2", 1))
	result := o.RunExperiment(context.Background(), cfg)

	if !result.SafetyTriggered {
		t.Fatal("expected safety trigger")
	}
	if result.Status != StatusAborted {
		t.Errorf("expected aborted on safety trigger, got %s", result.Status)
	}
	if !result.RollbackPerformed {
		t.Error("expected rollback performed")
	}
	if len(result.FaultResults) != 0 {
		t.Errorf("expected abort before first fault, got %d results", len(result.FaultResults))
	}
	if len(result.SafetyReasons) == 0 {
		t.Error("expected safety reasons recorded")
	}
}

func TestSequentialSafetyAbortWithoutRollback(t *testing.T) {
	o := testOrchestrator()
	for n := 0; n < 20; n++ {
		o.runner.Health().RecordRequest(time.Millisecond, true)
	}

	cfg := baseConfig(latencyFault("f1", 1))
	cfg.Safety.AutoRollback = false
	result := o.RunExperiment(context.Background(), cfg)

	if result.Status != StatusAborted {
		t.Errorf("expected aborted without rollback, got %s", result.Status)
	}
	if result.RollbackPerformed {
		t.Error("expected no rollback")
	}
}

func TestParallelIsolation(t *testing.T) {
	o := testOrchestrator()
	bad := config.FaultConfig{
		Type:        "unknown_type",
		Name:        "bad",
		Probability: 1,
		Duration:    20 * time.Millisecond,
	}
	cfg := baseConfig(latencyFault("f1", 1), bad, latencyFault("f2", 1))
	cfg.ParallelExecution = true

	result := o.RunExperiment(context.Background(), cfg)

	if result.Status != StatusFailed {
		t.Fatalf("expected failed overall, got %s", result.Status)
	}
	if result.SuccessfulFaults != 2 {
		t.Errorf("expected 2 successful despite failure, got %d", result.SuccessfulFaults)
	}
	if result.FailedFaults != 1 {
		t.Errorf("expected 1 failed, got %d", result.FailedFaults)
	}
	if len(result.FaultResults) != 3 {
		t.Errorf("expected 3 fault results, got %d", len(result.FaultResults))
	}
}

func TestProtectedTargetSkipped(t *testing.T) {
	o := testOrchestrator()
	fc := latencyFault("f1", 1)
	fc.Target = "db-primary"
	cfg := baseConfig(fc)
	cfg.Safety.ProtectedHosts = []string{"db-primary"}

	result := o.RunExperiment(context.Background(), cfg)

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.SkippedFaults != 1 {
		t.Errorf("expected protected fault skipped, got %d", result.SkippedFaults)
	}
	if len(result.FaultResults) != 1 || result.FaultResults[0].Reason != "protected_target" {
		t.Errorf("expected protected_target reason, got %+v", result.FaultResults)
	}
}

func TestSteadyStateBeforeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := testOrchestrator()
	cfg := baseConfig(latencyFault("f1", 1))
	cfg.SteadyStateChecks = []config.SteadyStateCheck{
		{Type: "http_health", URL: srv.URL, ExpectedStatus: http.StatusOK},
	}

	result := o.RunExperiment(context.Background(), cfg)

	if result.Status != StatusFailed {
		t.Fatalf("expected failed on steady state, got %s", result.Status)
	}
	if result.SteadyStateBefore == nil || *result.SteadyStateBefore {
		t.Error("expected steady state before recorded as false")
	}
	if result.SuccessfulFaults != 0 {
		t.Error("expected no faults executed")
	}
}

func TestSteadyStatePasses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := testOrchestrator()
	cfg := baseConfig(latencyFault("f1", 1))
	cfg.SteadyStateChecks = []config.SteadyStateCheck{
		{Type: "http_health", URL: srv.URL},
	}

	result := o.RunExperiment(context.Background(), cfg)

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (errors: %v)", result.Status, result.Errors)
	}
	if result.SteadyStateBefore == nil || !*result.SteadyStateBefore {
		t.Error("expected steady state before true")
	}
	if result.SteadyStateAfter == nil || !*result.SteadyStateAfter {
		t.Error("expected steady state after true")
	}
}

func TestListExperiments(t *testing.T) {
	o := testOrchestrator()
	o.RunExperiment(context.Background(), baseConfig(latencyFault("f1", 0)))
	o.RunExperiment(context.Background(), baseConfig(latencyFault("f2", 0)))

	summaries := o.ListExperiments()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 experiments, got %d", len(summaries))
	}
	for _, s := range summaries {
		if s.Status != StatusCompleted {
			t.Errorf("expected completed summary, got %s", s.Status)
		}
	}
}

func TestScenarioValidate(t *testing.T) {
	s := NewScenario("s", nil)
	if err := s.Validate(); err == nil {
		t.Error("expected error without faults")
	}

	s = NewScenario("s", []config.FaultConfig{latencyFault("f1", 1)})
	s.Order = "diagonal"
	if err := s.Validate(); err == nil {
		t.Error("expected error for invalid order")
	}

	s = NewScenario("s", []config.FaultConfig{latencyFault("f1", 1)})
	s.RepeatCount = 0
	if err := s.Validate(); err == nil {
		t.Error("expected error for zero repeat count")
	}
}

func TestRunScenarioRepeat(t *testing.T) {
	o := testOrchestrator()
	s := NewScenario("repeat", []config.FaultConfig{latencyFault("f1", 1)})
	s.RepeatCount = 3

	results, err := o.RunScenario(context.Background(), s, baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 iterations, got %d", len(results))
	}
	for _, r := range results {
		if r.ScenarioID != s.ID {
			t.Error("expected scenario id on result")
		}
	}
}

func TestRunScenarioIDSetBeforePersist(t *testing.T) {
	o := testOrchestrator()
	s := NewScenario("persist", []config.FaultConfig{latencyFault("f1", 1)})
	s.RepeatCount = 2

	// 永続化済みの結果を並行に読み、シナリオIDが確定後に
	// 書き換えられていないことを確認する
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, summary := range o.ListExperiments() {
				stored, ok := o.GetExperimentStatus(summary.ID)
				if ok && stored.ScenarioID != s.ID {
					t.Errorf("persisted result missing scenario id: %q", stored.ScenarioID)
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	results, err := o.RunScenario(context.Background(), s, baseConfig())
	close(stop)
	wg.Wait()

	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		stored, ok := o.GetExperimentStatus(r.ExperimentID)
		if !ok {
			t.Fatalf("experiment %s not persisted", r.ExperimentID)
		}
		if stored.ScenarioID != s.ID {
			t.Errorf("expected scenario id %s, got %q", s.ID, stored.ScenarioID)
		}
	}
}

func TestRunScenarioEarlyStop(t *testing.T) {
	o := testOrchestrator()
	// 確率0の障害は必ずスキップされ、成功率の条件を満たせない
	s := NewScenario("early-stop", []config.FaultConfig{latencyFault("f1", 0)})
	s.RepeatCount = 3
	minRate := 1.0
	s.Criteria = &SuccessCriteria{MinSuccessRate: &minRate}

	results, err := o.RunScenario(context.Background(), s, baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected early stop after iteration 1, got %d iterations", len(results))
	}
}

func TestGetPreset(t *testing.T) {
	for _, name := range ListPresets() {
		cfg, ok := GetPreset(name)
		if !ok {
			t.Fatalf("expected preset %q", name)
		}
		if valid, errs := testOrchestrator().ValidateExperiment(cfg); !valid {
			t.Errorf("preset %q invalid: %v", name, errs)
		}
	}

	if _, ok := GetPreset("nope"); ok {
		t.Error("expected unknown preset to be missing")
	}
}
