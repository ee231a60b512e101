package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Experiment FileExperiment `yaml:"experiment" json:"experiment"`
}

// FileExperiment はファイル上の実験設定
// 時間は "30s" のような文字列で記述する
type FileExperiment struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`

	DryRun            bool `yaml:"dry_run" json:"dry_run"`
	ParallelExecution bool `yaml:"parallel_execution" json:"parallel_execution"`
	RandomizeOrder    bool `yaml:"randomize_order" json:"randomize_order"`

	StartDelay     string `yaml:"start_delay" json:"start_delay"`
	TotalDuration  string `yaml:"total_duration" json:"total_duration"`
	CooldownPeriod string `yaml:"cooldown_period" json:"cooldown_period"`

	Faults []FileFault `yaml:"faults" json:"faults"`

	Safety FileSafety `yaml:"safety" json:"safety"`

	SteadyStateChecks []SteadyStateCheck `yaml:"steady_state_checks" json:"steady_state_checks"`
	Rollback          *RollbackPlan      `yaml:"rollback" json:"rollback"`

	NotifyOnStart        bool     `yaml:"notify_on_start" json:"notify_on_start"`
	NotifyOnComplete     bool     `yaml:"notify_on_complete" json:"notify_on_complete"`
	NotifyOnFailure      bool     `yaml:"notify_on_failure" json:"notify_on_failure"`
	NotificationChannels []string `yaml:"notification_channels" json:"notification_channels"`
}

// FileFault はファイル上の障害設定
type FileFault struct {
	Type        string            `yaml:"type" json:"type"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Probability *float64          `yaml:"probability" json:"probability"`
	Duration    string            `yaml:"duration" json:"duration"`
	Delay       string            `yaml:"delay" json:"delay"`
	Target      string            `yaml:"target" json:"target"`
	Tags        []string          `yaml:"tags" json:"tags"`
	Metadata    map[string]string `yaml:"metadata" json:"metadata"`

	Network  *NetworkParams  `yaml:"network" json:"network"`
	Resource *ResourceParams `yaml:"resource" json:"resource"`
	Time     *FileTimeParams `yaml:"time" json:"time"`
}

// FileTimeParams はファイル上の時刻ドリフト設定
type FileTimeParams struct {
	DriftType   string `yaml:"drift_type" json:"drift_type"`
	DriftAmount string `yaml:"drift_amount" json:"drift_amount"`
}

// FileSafety はファイル上の安全設定
type FileSafety struct {
	Enabled                 *bool    `yaml:"enabled" json:"enabled"`
	MaxErrorRate            *float64 `yaml:"max_error_rate" json:"max_error_rate"`
	MaxLatency              string   `yaml:"max_latency" json:"max_latency"`
	MinSuccessRate          *float64 `yaml:"min_success_rate" json:"min_success_rate"`
	CircuitBreakerThreshold int      `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   string   `yaml:"circuit_breaker_timeout" json:"circuit_breaker_timeout"`
	AutoRollback            *bool    `yaml:"auto_rollback" json:"auto_rollback"`
	MaxAffectedInstances    int      `yaml:"max_affected_instances" json:"max_affected_instances"`
	EmergencyContacts       []string `yaml:"emergency_contacts" json:"emergency_contacts"`
	ProtectedServices       []string `yaml:"protected_services" json:"protected_services"`
	ProtectedHosts          []string `yaml:"protected_hosts" json:"protected_hosts"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &fc, nil
}

// ToExperimentConfig はFileConfigをExperimentConfigに変換する
func (f *FileConfig) ToExperimentConfig() (ExperimentConfig, error) {
	fe := f.Experiment
	cfg := DefaultExperimentConfig()

	cfg.Name = fe.Name
	cfg.Description = fe.Description
	cfg.DryRun = fe.DryRun
	cfg.ParallelExecution = fe.ParallelExecution
	cfg.RandomizeOrder = fe.RandomizeOrder

	var err error
	if cfg.StartDelay, err = parseDuration(fe.StartDelay, 0); err != nil {
		return cfg, fmt.Errorf("invalid start_delay: %w", err)
	}
	if cfg.TotalDuration, err = parseDuration(fe.TotalDuration, cfg.TotalDuration); err != nil {
		return cfg, fmt.Errorf("invalid total_duration: %w", err)
	}
	if cfg.CooldownPeriod, err = parseDuration(fe.CooldownPeriod, cfg.CooldownPeriod); err != nil {
		return cfg, fmt.Errorf("invalid cooldown_period: %w", err)
	}

	for i := range fe.Faults {
		fault, err := fe.Faults[i].toFaultConfig()
		if err != nil {
			return cfg, err
		}
		cfg.Faults = append(cfg.Faults, fault)
	}

	if err := fe.Safety.apply(&cfg.Safety); err != nil {
		return cfg, err
	}

	cfg.SteadyStateChecks = fe.SteadyStateChecks
	cfg.Rollback = fe.Rollback
	cfg.NotifyOnStart = fe.NotifyOnStart
	cfg.NotifyOnComplete = fe.NotifyOnComplete
	cfg.NotifyOnFailure = fe.NotifyOnFailure
	cfg.NotificationChannels = fe.NotificationChannels

	return cfg, nil
}

// toFaultConfig はファイル上の障害設定を変換する
func (ff *FileFault) toFaultConfig() (FaultConfig, error) {
	fc := FaultConfig{
		Type:        FaultType(ff.Type),
		Name:        ff.Name,
		Description: ff.Description,
		Probability: 1.0,
		Target:      ff.Target,
		Tags:        ff.Tags,
		Metadata:    ff.Metadata,
		Network:     ff.Network,
		Resource:    ff.Resource,
	}

	if ff.Probability != nil {
		fc.Probability = *ff.Probability
	}

	var err error
	if fc.Duration, err = parseDuration(ff.Duration, 60*time.Second); err != nil {
		return fc, fmt.Errorf("fault %q: invalid duration: %w", ff.Name, err)
	}
	if fc.Delay, err = parseDuration(ff.Delay, 0); err != nil {
		return fc, fmt.Errorf("fault %q: invalid delay: %w", ff.Name, err)
	}

	if ff.Time != nil {
		amount, err := parseDuration(ff.Time.DriftAmount, time.Hour)
		if err != nil {
			return fc, fmt.Errorf("fault %q: invalid drift_amount: %w", ff.Name, err)
		}
		fc.Time = &TimeParams{
			DriftType:   ff.Time.DriftType,
			DriftAmount: amount,
		}
	}

	return fc, nil
}

// apply はファイル上の安全設定をデフォルト設定に上書きする
func (fs *FileSafety) apply(sc *SafetyConfig) error {
	if fs.Enabled != nil {
		sc.Enabled = *fs.Enabled
	}
	if fs.MaxErrorRate != nil {
		sc.MaxErrorRate = *fs.MaxErrorRate
	}
	if fs.MinSuccessRate != nil {
		sc.MinSuccessRate = *fs.MinSuccessRate
	}
	if fs.AutoRollback != nil {
		sc.AutoRollback = *fs.AutoRollback
	}

	var err error
	if fs.MaxLatency != "" {
		if sc.MaxLatency, err = time.ParseDuration(fs.MaxLatency); err != nil {
			return fmt.Errorf("invalid max_latency: %w", err)
		}
	}
	if fs.CircuitBreakerTimeout != "" {
		if sc.CircuitBreakerTimeout, err = time.ParseDuration(fs.CircuitBreakerTimeout); err != nil {
			return fmt.Errorf("invalid circuit_breaker_timeout: %w", err)
		}
	}
	if fs.CircuitBreakerThreshold > 0 {
		sc.CircuitBreakerThreshold = fs.CircuitBreakerThreshold
	}
	if fs.MaxAffectedInstances > 0 {
		sc.MaxAffectedInstances = fs.MaxAffectedInstances
	}
	if len(fs.EmergencyContacts) > 0 {
		sc.EmergencyContacts = fs.EmergencyContacts
	}
	if len(fs.ProtectedServices) > 0 {
		sc.ProtectedServices = fs.ProtectedServices
	}
	if len(fs.ProtectedHosts) > 0 {
		sc.ProtectedHosts = fs.ProtectedHosts
	}
	return nil
}

// parseDuration は空文字列をデフォルト値として扱う
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
