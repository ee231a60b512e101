package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFault() FaultConfig {
	return FaultConfig{
		Type:        FaultNetworkLatency,
		Name:        "latency",
		Probability: 0.5,
		Duration:    30 * time.Second,
		Network:     &NetworkParams{LatencyMS: 100, JitterMS: 10},
	}
}

func TestFaultTypeClassification(t *testing.T) {
	assert.True(t, FaultNetworkLatency.IsNetwork())
	assert.True(t, FaultNetworkDNSFailure.IsNetwork())
	assert.False(t, FaultCPUPressure.IsNetwork())

	assert.True(t, FaultMemoryPressure.IsResource())
	assert.True(t, FaultFDExhaustion.IsResource())
	assert.False(t, FaultProcessKill.IsResource())

	assert.True(t, FaultProcessPause.IsProcess())
	assert.False(t, FaultTimeDrift.IsProcess())
	assert.False(t, FaultTimeDrift.IsNetwork())
}

func TestFaultConfigValidate(t *testing.T) {
	fc := validFault()
	require.NoError(t, fc.Validate())

	tests := []struct {
		name   string
		mutate func(*FaultConfig)
	}{
		{"empty name", func(f *FaultConfig) { f.Name = "" }},
		{"probability above 1", func(f *FaultConfig) { f.Probability = 1.1 }},
		{"negative probability", func(f *FaultConfig) { f.Probability = -0.1 }},
		{"zero duration", func(f *FaultConfig) { f.Duration = 0 }},
		{"duration over limit", func(f *FaultConfig) { f.Duration = MaxFaultDuration + time.Second }},
		{"negative delay", func(f *FaultConfig) { f.Delay = -time.Second }},
		{"latency over limit", func(f *FaultConfig) { f.Network.LatencyMS = MaxLatencyMS + 1 }},
		{"invalid direction", func(f *FaultConfig) { f.Network.Direction = "sideways" }},
		{"loss over 100", func(f *FaultConfig) { f.Network.LossPercentage = 101 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := validFault()
			tt.mutate(&fc)
			assert.Error(t, fc.Validate())
		})
	}
}

func TestResourceParamsValidate(t *testing.T) {
	fc := FaultConfig{
		Type:        FaultMemoryPressure,
		Name:        "mem",
		Probability: 1,
		Duration:    10 * time.Second,
		Resource:    &ResourceParams{MemoryMB: 256},
	}
	require.NoError(t, fc.Validate())

	fc.Resource.MemoryMB = MaxMemoryMB + 1
	assert.Error(t, fc.Validate())

	fc.Resource.MemoryMB = 256
	fc.Resource.FDType = "pipe"
	assert.Error(t, fc.Validate())

	fc.Resource.FDType = "socket"
	assert.NoError(t, fc.Validate())
}

func TestTimeWindowContains(t *testing.T) {
	now := time.Now()
	w := TimeWindow{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}

	assert.True(t, w.Contains(now))
	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.End))
	assert.False(t, w.Contains(now.Add(2*time.Hour)))
	assert.False(t, w.Contains(now.Add(-2*time.Hour)))
}

func TestSafetyConfigValidate(t *testing.T) {
	sc := DefaultSafetyConfig()
	require.NoError(t, sc.Validate())

	sc.MaxErrorRate = 1.5
	assert.Error(t, sc.Validate())

	sc = DefaultSafetyConfig()
	sc.MinSuccessRate = -0.5
	assert.Error(t, sc.Validate())

	sc = DefaultSafetyConfig()
	sc.MaxLatency = -time.Second
	assert.Error(t, sc.Validate())
}

func TestExperimentConfigValidate(t *testing.T) {
	cfg := DefaultExperimentConfig()
	cfg.Name = "test"
	cfg.Faults = []FaultConfig{validFault()}
	require.NoError(t, cfg.Validate())

	cfg.Name = ""
	assert.Error(t, cfg.Validate())

	cfg.Name = "test"
	cfg.Faults = nil
	assert.Error(t, cfg.Validate())

	cfg.Faults = make([]FaultConfig, MaxFaultCount+1)
	for i := range cfg.Faults {
		cfg.Faults[i] = validFault()
	}
	assert.Error(t, cfg.Validate())
}

func TestDefaultExperimentConfig(t *testing.T) {
	cfg := DefaultExperimentConfig()

	assert.True(t, cfg.Safety.Enabled)
	assert.True(t, cfg.Safety.AutoRollback)
	assert.Equal(t, 3, cfg.Safety.CircuitBreakerThreshold)
	assert.True(t, cfg.NotifyOnComplete)
	assert.True(t, cfg.NotifyOnFailure)
	assert.False(t, cfg.NotifyOnStart)
}
