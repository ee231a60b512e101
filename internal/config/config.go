// Package config provides configuration models for chaos experiments.
package config

import (
	"fmt"
	"time"
)

// FaultType は注入する障害の種類を表す
type FaultType string

const (
	FaultNetworkLatency    FaultType = "network_latency"
	FaultNetworkPacketLoss FaultType = "network_packet_loss"
	FaultNetworkPartition  FaultType = "network_partition"
	FaultNetworkBandwidth  FaultType = "network_bandwidth_limit"
	FaultNetworkDNSFailure FaultType = "network_dns_failure"
	FaultCPUPressure       FaultType = "cpu_pressure"
	FaultMemoryPressure    FaultType = "memory_pressure"
	FaultDiskPressure      FaultType = "disk_pressure"
	FaultFDExhaustion      FaultType = "fd_exhaustion"
	FaultProcessKill       FaultType = "process_kill"
	FaultProcessPause      FaultType = "process_pause"
	FaultTimeDrift         FaultType = "time_drift"
)

// IsNetwork はネットワーク系の障害かどうかを返す
func (t FaultType) IsNetwork() bool {
	switch t {
	case FaultNetworkLatency, FaultNetworkPacketLoss, FaultNetworkPartition,
		FaultNetworkBandwidth, FaultNetworkDNSFailure:
		return true
	}
	return false
}

// IsResource はリソース系の障害かどうかを返す
func (t FaultType) IsResource() bool {
	switch t {
	case FaultCPUPressure, FaultMemoryPressure, FaultDiskPressure, FaultFDExhaustion:
		return true
	}
	return false
}

// IsProcess はプロセス系の障害かどうかを返す
func (t FaultType) IsProcess() bool {
	return t == FaultProcessKill || t == FaultProcessPause
}

// 障害パラメータの上限値
const (
	MaxFaultDuration = time.Hour
	MaxFaultCount    = 100
	MaxLatencyMS     = 60000
	MaxJitterMS      = 10000
	MaxMemoryMB      = 1048576 // 1 TiB
	MaxDiskMB        = 1048576
	MaxFDCount       = 65536
	MaxCPUWorkers    = 256
)

// NetworkParams はネットワーク障害のパラメータ
type NetworkParams struct {
	LatencyMS       int      `yaml:"latency_ms" json:"latency_ms"`
	JitterMS        int      `yaml:"jitter_ms" json:"jitter_ms"`
	Correlation     float64  `yaml:"correlation" json:"correlation"`
	LossPercentage  float64  `yaml:"loss_percentage" json:"loss_percentage"`
	LossCorrelation float64  `yaml:"loss_correlation" json:"loss_correlation"`
	BandwidthMbps   float64  `yaml:"bandwidth_mbps" json:"bandwidth_mbps"`
	TargetHosts     []string `yaml:"target_hosts" json:"target_hosts"`
	TargetPorts     []int    `yaml:"target_ports" json:"target_ports"`
	Interface       string   `yaml:"interface" json:"interface"`
	Direction       string   `yaml:"direction" json:"direction"` // inbound, outbound, both
}

// ResourceParams はリソース障害のパラメータ
type ResourceParams struct {
	CPUWorkers    int     `yaml:"cpu_workers" json:"cpu_workers"`
	CPUPercentage float64 `yaml:"cpu_percentage" json:"cpu_percentage"`
	MemoryMB      int     `yaml:"memory_mb" json:"memory_mb"`
	DiskSizeMB    int     `yaml:"disk_size_mb" json:"disk_size_mb"`
	DiskPath      string  `yaml:"disk_path" json:"disk_path"`
	FDCount       int     `yaml:"fd_count" json:"fd_count"`
	FDType        string  `yaml:"fd_type" json:"fd_type"` // file, socket
}

// TimeParams は時刻ドリフト障害のパラメータ
type TimeParams struct {
	DriftType   string        `yaml:"drift_type" json:"drift_type"` // forward, backward, freeze
	DriftAmount time.Duration `yaml:"drift_amount" json:"drift_amount"`
}

// FaultConfig は単一の障害注入の設定
// Type に応じて Network / Resource / Time のパラメータブロックを参照する
type FaultConfig struct {
	Type        FaultType         `yaml:"type" json:"type"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Probability float64           `yaml:"probability" json:"probability"`
	Duration    time.Duration     `yaml:"duration" json:"duration"`
	Delay       time.Duration     `yaml:"delay" json:"delay"`
	Target      string            `yaml:"target" json:"target"`
	Tags        []string          `yaml:"tags" json:"tags"`
	Metadata    map[string]string `yaml:"metadata" json:"metadata"`

	Network  *NetworkParams  `yaml:"network" json:"network,omitempty"`
	Resource *ResourceParams `yaml:"resource" json:"resource,omitempty"`
	Time     *TimeParams     `yaml:"time" json:"time,omitempty"`
}

// Validate は障害設定の境界値を検証する
func (f *FaultConfig) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("fault name is required")
	}
	if f.Probability < 0 || f.Probability > 1 {
		return fmt.Errorf("fault %q: probability must be between 0 and 1, got %v", f.Name, f.Probability)
	}
	if f.Duration <= 0 {
		return fmt.Errorf("fault %q: duration must be positive, got %v", f.Name, f.Duration)
	}
	if f.Duration > MaxFaultDuration {
		return fmt.Errorf("fault %q: duration cannot exceed %v", f.Name, MaxFaultDuration)
	}
	if f.Delay < 0 {
		return fmt.Errorf("fault %q: delay must be non-negative", f.Name)
	}

	if f.Network != nil {
		if err := f.Network.validate(); err != nil {
			return fmt.Errorf("fault %q: %w", f.Name, err)
		}
	}
	if f.Resource != nil {
		if err := f.Resource.validate(); err != nil {
			return fmt.Errorf("fault %q: %w", f.Name, err)
		}
	}
	return nil
}

func (n *NetworkParams) validate() error {
	if n.LatencyMS < 0 || n.LatencyMS > MaxLatencyMS {
		return fmt.Errorf("latency_ms must be between 0 and %d", MaxLatencyMS)
	}
	if n.JitterMS < 0 || n.JitterMS > MaxJitterMS {
		return fmt.Errorf("jitter_ms must be between 0 and %d", MaxJitterMS)
	}
	if n.Correlation < 0 || n.Correlation > 1 {
		return fmt.Errorf("correlation must be between 0 and 1")
	}
	if n.LossPercentage < 0 || n.LossPercentage > 100 {
		return fmt.Errorf("loss_percentage must be between 0 and 100")
	}
	if n.BandwidthMbps < 0 {
		return fmt.Errorf("bandwidth_mbps must be non-negative")
	}
	switch n.Direction {
	case "", "inbound", "outbound", "both":
	default:
		return fmt.Errorf("direction must be inbound, outbound or both")
	}
	return nil
}

func (r *ResourceParams) validate() error {
	if r.CPUWorkers < 0 || r.CPUWorkers > MaxCPUWorkers {
		return fmt.Errorf("cpu_workers must be between 0 and %d", MaxCPUWorkers)
	}
	if r.CPUPercentage < 0 || r.CPUPercentage > 100 {
		return fmt.Errorf("cpu_percentage must be between 0 and 100")
	}
	if r.MemoryMB < 0 || r.MemoryMB > MaxMemoryMB {
		return fmt.Errorf("memory_mb must be between 0 and %d", MaxMemoryMB)
	}
	if r.DiskSizeMB < 0 || r.DiskSizeMB > MaxDiskMB {
		return fmt.Errorf("disk_size_mb must be between 0 and %d", MaxDiskMB)
	}
	if r.FDCount < 0 || r.FDCount > MaxFDCount {
		return fmt.Errorf("fd_count must be between 0 and %d", MaxFDCount)
	}
	switch r.FDType {
	case "", "file", "socket":
	default:
		return fmt.Errorf("fd_type must be file or socket")
	}
	return nil
}

// TimeWindow は実験の実行を許可する時間帯
type TimeWindow struct {
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end" json:"end"`
}

// Contains は指定時刻がウィンドウ内かどうかを返す
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// SafetyConfig は実験の安全制御の設定
type SafetyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// 中断条件
	MaxErrorRate   float64       `yaml:"max_error_rate" json:"max_error_rate"`
	MaxLatency     time.Duration `yaml:"max_latency" json:"max_latency"`
	MinSuccessRate float64       `yaml:"min_success_rate" json:"min_success_rate"`

	// サーキットブレーカー
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout" json:"circuit_breaker_timeout"`

	// ロールバック
	AutoRollback bool `yaml:"auto_rollback" json:"auto_rollback"`

	// 影響範囲の制限
	MaxAffectedInstances int `yaml:"max_affected_instances" json:"max_affected_instances"`

	// 緊急停止
	EmergencyContacts []string `yaml:"emergency_contacts" json:"emergency_contacts"`

	// 保護対象
	ProtectedServices  []string     `yaml:"protected_services" json:"protected_services"`
	ProtectedHosts     []string     `yaml:"protected_hosts" json:"protected_hosts"`
	AllowedTimeWindows []TimeWindow `yaml:"allowed_time_windows" json:"allowed_time_windows"`
}

// DefaultSafetyConfig はデフォルトの安全設定を返す
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		Enabled:                 true,
		MaxErrorRate:            0.5,
		MaxLatency:              10 * time.Second,
		MinSuccessRate:          0.5,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   60 * time.Second,
		AutoRollback:            true,
		MaxAffectedInstances:    1,
	}
}

// Validate は安全設定の境界値を検証する
func (s *SafetyConfig) Validate() error {
	if s.MaxErrorRate < 0 || s.MaxErrorRate > 1 {
		return fmt.Errorf("max_error_rate must be between 0 and 1, got %v", s.MaxErrorRate)
	}
	if s.MinSuccessRate < 0 || s.MinSuccessRate > 1 {
		return fmt.Errorf("min_success_rate must be between 0 and 1, got %v", s.MinSuccessRate)
	}
	if s.MaxLatency < 0 {
		return fmt.Errorf("max_latency must be non-negative")
	}
	if s.MaxAffectedInstances < 0 {
		return fmt.Errorf("max_affected_instances must be non-negative")
	}
	return nil
}

// SteadyStateCheck は実験前後の定常状態チェックの設定
type SteadyStateCheck struct {
	Type           string  `yaml:"type" json:"type"` // http_health, metric_threshold, custom
	URL            string  `yaml:"url" json:"url"`
	ExpectedStatus int     `yaml:"expected_status" json:"expected_status"`
	Metric         string  `yaml:"metric" json:"metric"`
	Threshold      float64 `yaml:"threshold" json:"threshold"`
	Operator       string  `yaml:"operator" json:"operator"` // lt, gt, eq
	Name           string  `yaml:"name" json:"name"`
}

// RollbackAction はロールバック時に実行する単一のアクション
type RollbackAction struct {
	Type    string `yaml:"type" json:"type"` // restart_service, restore_config, custom
	Service string `yaml:"service" json:"service"`
	Path    string `yaml:"path" json:"path"`
	Command string `yaml:"command" json:"command"`
}

// RollbackPlan は宣言的なロールバック手順
type RollbackPlan struct {
	Actions []RollbackAction `yaml:"actions" json:"actions"`
}

// ExperimentConfig はカオス実験全体の設定
type ExperimentConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Version     string `yaml:"version" json:"version"`

	// 実行モード
	DryRun            bool `yaml:"dry_run" json:"dry_run"`
	ParallelExecution bool `yaml:"parallel_execution" json:"parallel_execution"`
	RandomizeOrder    bool `yaml:"randomize_order" json:"randomize_order"`

	// タイミング
	StartDelay     time.Duration `yaml:"start_delay" json:"start_delay"`
	TotalDuration  time.Duration `yaml:"total_duration" json:"total_duration"`
	CooldownPeriod time.Duration `yaml:"cooldown_period" json:"cooldown_period"`

	Faults []FaultConfig `yaml:"faults" json:"faults"`

	Safety SafetyConfig `yaml:"safety" json:"safety"`

	SteadyStateChecks []SteadyStateCheck `yaml:"steady_state_checks" json:"steady_state_checks"`
	Rollback          *RollbackPlan      `yaml:"rollback" json:"rollback,omitempty"`

	// 通知
	NotifyOnStart        bool     `yaml:"notify_on_start" json:"notify_on_start"`
	NotifyOnComplete     bool     `yaml:"notify_on_complete" json:"notify_on_complete"`
	NotifyOnFailure      bool     `yaml:"notify_on_failure" json:"notify_on_failure"`
	NotificationChannels []string `yaml:"notification_channels" json:"notification_channels"`

	Tags   []string          `yaml:"tags" json:"tags"`
	Labels map[string]string `yaml:"labels" json:"labels"`
}

// DefaultExperimentConfig はデフォルトの実験設定を返す
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		Version:          "1.0.0",
		TotalDuration:    5 * time.Minute,
		CooldownPeriod:   30 * time.Second,
		Safety:           DefaultSafetyConfig(),
		NotifyOnComplete: true,
		NotifyOnFailure:  true,
	}
}

// Validate は実験設定全体を検証する
func (c *ExperimentConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("experiment name is required")
	}
	if len(c.Faults) == 0 {
		return fmt.Errorf("at least one fault must be specified")
	}
	if len(c.Faults) > MaxFaultCount {
		return fmt.Errorf("maximum %d faults per experiment, got %d", MaxFaultCount, len(c.Faults))
	}
	if c.StartDelay < 0 {
		return fmt.Errorf("start_delay must be non-negative")
	}
	if c.CooldownPeriod < 0 {
		return fmt.Errorf("cooldown_period must be non-negative")
	}
	if c.TotalDuration < 0 {
		return fmt.Errorf("total_duration must be non-negative")
	}
	for i := range c.Faults {
		if err := c.Faults[i].Validate(); err != nil {
			return err
		}
	}
	if err := c.Safety.Validate(); err != nil {
		return err
	}
	return nil
}
