// Package config loads and validates the node's configuration. Invalid
// values fail fast at load time with a ConfigError rather than surfacing
// as a runtime surprise deep in some component.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/sentinel/internal/agenterrors"
)

// Region caps are defined here rather than in internal/radio so config
// validation can clamp/reject before any component is constructed.
type RegionLimits struct {
	MaxTXPower     int
	MaxDutyCycle   float64
	FrequencyMHz   float64
}

var regionTable = map[string]RegionLimits{
	"BR": {MaxTXPower: 27, MaxDutyCycle: 1.0, FrequencyMHz: 915.0},
	"EU": {MaxTXPower: 14, MaxDutyCycle: 0.01, FrequencyMHz: 868.0},
	"US": {MaxTXPower: 30, MaxDutyCycle: 1.0, FrequencyMHz: 915.0},
	"AU": {MaxTXPower: 30, MaxDutyCycle: 1.0, FrequencyMHz: 915.0},
}

// RegionLimitsFor returns the regulatory caps for a region code and
// whether the region is recognized.
func RegionLimitsFor(region string) (RegionLimits, bool) {
	l, ok := regionTable[region]
	return l, ok
}

// Config is the fully-resolved node configuration, covering identity,
// OTA, radio, membership, and security engine settings.
type Config struct {
	// Identity
	NodeID         string `yaml:"node_id"`
	CurrentVersion int    `yaml:"current_version"`

	// OTA / C1-C2
	ModelPath           string `yaml:"model_path"`
	BackupDir           string `yaml:"backup_dir"`
	MaxRollbackVersions int    `yaml:"max_rollback_versions"`
	VerifySignatures    bool   `yaml:"verify_signatures"`
	VerifyChecksums     bool   `yaml:"verify_checksums"`
	TimeoutSeconds      int    `yaml:"timeout"`
	MaxRetries          int    `yaml:"max_retries"`
	ChunkSize           int    `yaml:"chunk_size"`
	AggregatorBaseURL   string `yaml:"aggregator_base_url"`

	// Radio / C3
	Region          string  `yaml:"region"`
	FrequencyMHz    float64 `yaml:"frequency"`
	SpreadingFactor int     `yaml:"spreading_factor"`
	TXPower         int     `yaml:"tx_power"`
	Bandwidth       int     `yaml:"bandwidth"`
	CodingRate      string  `yaml:"coding_rate"`
	OptimizationMode string `yaml:"optimization_mode"`

	// Membership / C4
	HealthCheckIntervalSeconds int      `yaml:"health_check_interval"`
	RecoveryTimeoutSeconds     int      `yaml:"recovery_timeout"`
	Peers                      []string `yaml:"peers"`

	// Shard & service redistribution / C5
	RedundancyFactor float64 `yaml:"redundancy_factor"`

	// Security / C6-C8
	ThreatThreshold   float64 `yaml:"threat_threshold"`
	MemorySize        int     `yaml:"memory_size"`
	ImmuneCellsCount  int     `yaml:"immune_cells_count"`
	MemoryCellsCount  int     `yaml:"memory_cells_count"`
	ResponseThreshold float64 `yaml:"response_threshold"`
	LearningRate      float64 `yaml:"learning_rate"`

	// LLM oracle
	LLMEndpoint string `yaml:"llm_endpoint"`
	ModelName   string `yaml:"model_name"`

	// Local HTTP surface
	Listen string `yaml:"listen"`
	Env    string `yaml:"env"`
}

// Default returns a Config populated with the agent's documented
// defaults (max_rollback_versions=3, health_check_interval=300,
// recovery_timeout=600, redundancy_factor=1.5, ring sizes, etc).
func Default() Config {
	return Config{
		CurrentVersion:             0,
		ModelPath:                  "model.bin",
		BackupDir:                  "backups",
		MaxRollbackVersions:        3,
		VerifyChecksums:            true,
		TimeoutSeconds:             30,
		MaxRetries:                 3,
		ChunkSize:                  8192,
		Region:                     "BR",
		SpreadingFactor:            7,
		TXPower:                   14,
		Bandwidth:                  125000,
		CodingRate:                 "4/5",
		OptimizationMode:           "balanced",
		HealthCheckIntervalSeconds: 300,
		RecoveryTimeoutSeconds:     600,
		RedundancyFactor:           1.5,
		ThreatThreshold:            0.7,
		MemorySize:                 100,
		ImmuneCellsCount:           50,
		MemoryCellsCount:           20,
		ResponseThreshold:          0.5,
		LearningRate:               0.1,
		Listen:                     ":8090",
		Env:                        "development",
	}
}

// Load reads a YAML config file and merges it over Default(), applying
// environment-variable overrides for the operator-facing subset, then
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, agenterrors.Config("reading config file", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, agenterrors.Config("parsing config file", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("SENTINEL_MODEL_PATH"); v != "" {
		cfg.ModelPath = v
	}
	if v := os.Getenv("SENTINEL_BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}
	if v := os.Getenv("SENTINEL_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("SENTINEL_COORDINATOR_ADDR"); v != "" {
		cfg.AggregatorBaseURL = v
	}
	if v := os.Getenv("SENTINEL_LISTEN"); v != "" {
		cfg.Listen = v
	}
}

// Validate checks the invariants required at construction time: node id
// present, region recognized, radio parameters within physical and
// regional bounds. Returns a *agenterrors.Error of KindConfig.
func (c Config) Validate() error {
	if c.NodeID == "" {
		return agenterrors.Config("node_id must not be empty", nil)
	}

	limits, ok := RegionLimitsFor(c.Region)
	if !ok {
		return agenterrors.Config(fmt.Sprintf("unknown region %q", c.Region), nil)
	}
	if c.SpreadingFactor < 7 || c.SpreadingFactor > 12 {
		return agenterrors.Config(fmt.Sprintf("spreading_factor %d out of range [7,12]", c.SpreadingFactor), nil)
	}
	if c.TXPower < 5 || c.TXPower > limits.MaxTXPower {
		return agenterrors.Config(fmt.Sprintf("tx_power %d out of range [5,%d] for region %s", c.TXPower, limits.MaxTXPower, c.Region), nil)
	}
	if c.Bandwidth < 125000 || c.Bandwidth > 500000 {
		return agenterrors.Config(fmt.Sprintf("bandwidth %d out of range [125000,500000]", c.Bandwidth), nil)
	}
	switch c.CodingRate {
	case "4/5", "4/6", "4/7", "4/8":
	default:
		return agenterrors.Config(fmt.Sprintf("unknown coding_rate %q", c.CodingRate), nil)
	}
	if c.MaxRollbackVersions <= 0 {
		return agenterrors.Config("max_rollback_versions must be positive", nil)
	}
	return nil
}

// HealthCheckInterval returns the configured health check interval as a
// time.Duration.
func (c Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

// RecoveryTimeout returns the configured recovery timeout as a
// time.Duration.
func (c Config) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSeconds) * time.Second
}

// Timeout returns the configured HTTP timeout as a time.Duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
