package orchestrator

import (
	"time"

	"chaos-mcp/internal/config"
)

// NetworkLatencyExperiment はネットワーク遅延のプリセットを返す
// APIへの遅延注入、30秒間
func NetworkLatencyExperiment() config.ExperimentConfig {
	cfg := config.DefaultExperimentConfig()
	cfg.Name = "network-latency"
	cfg.Description = "Inject latency into the API network path"
	cfg.Faults = []config.FaultConfig{
		{
			Type:        config.FaultNetworkLatency,
			Name:        "api-latency",
			Probability: 1.0,
			Duration:    30 * time.Second,
			Network:     &config.NetworkParams{LatencyMS: 200, JitterMS: 50},
		},
	}
	return cfg
}

// PacketLossExperiment はパケットロスのプリセットを返す
func PacketLossExperiment() config.ExperimentConfig {
	cfg := config.DefaultExperimentConfig()
	cfg.Name = "packet-loss"
	cfg.Description = "Inject packet loss to test retry behavior"
	cfg.Faults = []config.FaultConfig{
		{
			Type:        config.FaultNetworkPacketLoss,
			Name:        "api-packet-loss",
			Probability: 1.0,
			Duration:    30 * time.Second,
			Network:     &config.NetworkParams{LossPercentage: 10},
		},
	}
	return cfg
}

// ResourceExhaustionExperiment はリソース枯渇のプリセットを返す
// CPU・メモリ・FD を順に圧迫する
func ResourceExhaustionExperiment() config.ExperimentConfig {
	cfg := config.DefaultExperimentConfig()
	cfg.Name = "resource-exhaustion"
	cfg.Description = "Exhaust CPU, memory and file descriptors in sequence"
	cfg.CooldownPeriod = 10 * time.Second
	cfg.Faults = []config.FaultConfig{
		{
			Type:        config.FaultCPUPressure,
			Name:        "cpu-pressure",
			Probability: 1.0,
			Duration:    20 * time.Second,
			Resource:    &config.ResourceParams{CPUWorkers: 4, CPUPercentage: 80},
		},
		{
			Type:        config.FaultMemoryPressure,
			Name:        "memory-pressure",
			Probability: 1.0,
			Duration:    20 * time.Second,
			Resource:    &config.ResourceParams{MemoryMB: 256},
		},
		{
			Type:        config.FaultFDExhaustion,
			Name:        "fd-exhaustion",
			Probability: 0.5,
			Duration:    10 * time.Second,
			Resource:    &config.ResourceParams{FDCount: 500},
		},
	}
	return cfg
}

// ProcessChaosExperiment はプロセス操作のプリセットを返す
func ProcessChaosExperiment() config.ExperimentConfig {
	cfg := config.DefaultExperimentConfig()
	cfg.Name = "process-chaos"
	cfg.Description = "Pause and kill target processes"
	cfg.Faults = []config.FaultConfig{
		{
			Type:        config.FaultProcessPause,
			Name:        "pause-worker",
			Probability: 1.0,
			Duration:    15 * time.Second,
			Target:      "worker",
		},
		{
			Type:        config.FaultProcessKill,
			Name:        "kill-worker",
			Probability: 0.5,
			Duration:    5 * time.Second,
			Target:      "worker",
		},
	}
	return cfg
}

// MixedChaosExperiment は複合障害のプリセットを返す
// ランダム順・並行なしで複数種別を注入する
func MixedChaosExperiment() config.ExperimentConfig {
	cfg := config.DefaultExperimentConfig()
	cfg.Name = "mixed-chaos"
	cfg.Description = "Mixed fault types in random order"
	cfg.RandomizeOrder = true
	cfg.CooldownPeriod = 15 * time.Second
	cfg.Faults = []config.FaultConfig{
		{
			Type:        config.FaultNetworkLatency,
			Name:        "latency",
			Probability: 0.8,
			Duration:    20 * time.Second,
			Network:     &config.NetworkParams{LatencyMS: 300},
		},
		{
			Type:        config.FaultCPUPressure,
			Name:        "cpu",
			Probability: 0.8,
			Duration:    20 * time.Second,
			Resource:    &config.ResourceParams{CPUWorkers: 2},
		},
		{
			Type:        config.FaultTimeDrift,
			Name:        "drift",
			Probability: 0.5,
			Duration:    10 * time.Second,
			Time:        &config.TimeParams{DriftType: "forward", DriftAmount: time.Hour},
		},
	}
	return cfg
}

// GetPreset は名前からプリセット実験を取得する
func GetPreset(name string) (config.ExperimentConfig, bool) {
	presets := map[string]func() config.ExperimentConfig{
		"network-latency":     NetworkLatencyExperiment,
		"packet-loss":         PacketLossExperiment,
		"resource-exhaustion": ResourceExhaustionExperiment,
		"process-chaos":       ProcessChaosExperiment,
		"mixed-chaos":         MixedChaosExperiment,
	}

	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return config.ExperimentConfig{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{
		"network-latency",
		"packet-loss",
		"resource-exhaustion",
		"process-chaos",
		"mixed-chaos",
	}
}
