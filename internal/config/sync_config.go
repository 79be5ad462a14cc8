package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads as "5s" or as a number of seconds
// in JSON and YAML files.
type Duration time.Duration

// Std returns the standard library value
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func parseDuration(s string) (Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return Duration(d), nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	v, err := parseDuration(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// SyncConfig holds replication configuration
type SyncConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Collections to open; empty means every known collection
	Collections []string `json:"collections" yaml:"collections"`

	// ============ TIMING ============
	ProbeTimeout      Duration `json:"probe_timeout" yaml:"probe_timeout"`
	HeartbeatInterval Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	SweepInterval     Duration `json:"sweep_interval" yaml:"sweep_interval"`
	ReconnectDelay    Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	RetryBaseDelay    Duration `json:"retry_base_delay" yaml:"retry_base_delay"`

	// ============ LIMITS ============
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	BatchSize  int `json:"batch_size" yaml:"batch_size"`

	// ============ CONFLICTS ============
	ResolveConflicts bool `json:"resolve_conflicts" yaml:"resolve_conflicts"`
}

// LoadSyncConfig reads SYNC_CONFIG_PATH (JSON or YAML) on top of the
// environment defaults. A broken file is logged and ignored.
func LoadSyncConfig() *SyncConfig {
	cfg := getDefaultSyncConfig()

	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		if err := loadSyncConfigFromFile(configPath, cfg); err != nil {
			log.Printf("⚠️ Sync config %s ignored: %v", configPath, err)
			cfg = getDefaultSyncConfig()
		}
	}

	cfg.normalize()
	return cfg
}

// loadSyncConfigFromFile overlays the file on cfg; keys missing from the
// file keep their current values.
func loadSyncConfigFromFile(path string, cfg *SyncConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// getDefaultSyncConfig returns default sync configuration
func getDefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Enabled: getBoolEnv("SYNC_ENABLED", true),

		ProbeTimeout:      Duration(getDurationEnv("SYNC_PROBE_TIMEOUT", 5*time.Second)),
		HeartbeatInterval: Duration(getDurationEnv("SYNC_HEARTBEAT_INTERVAL", 10*time.Second)),
		SweepInterval:     Duration(getDurationEnv("SYNC_SWEEP_INTERVAL", 30*time.Second)),
		ReconnectDelay:    Duration(getDurationEnv("SYNC_RECONNECT_DELAY", 5*time.Second)),
		RetryBaseDelay:    Duration(getDurationEnv("SYNC_RETRY_BASE_DELAY", 2*time.Second)),

		MaxRetries: getIntEnv("SYNC_MAX_RETRIES", 3),
		BatchSize:  getIntEnv("SYNC_BATCH_SIZE", 100),

		ResolveConflicts: getBoolEnv("SYNC_RESOLVE_CONFLICTS", true),
	}
}

// normalize replaces unusable values with defaults
func (c *SyncConfig) normalize() {
	fix := func(d *Duration, def time.Duration) {
		if *d <= 0 {
			*d = Duration(def)
		}
	}
	fix(&c.ProbeTimeout, 5*time.Second)
	fix(&c.HeartbeatInterval, 10*time.Second)
	fix(&c.SweepInterval, 30*time.Second)
	fix(&c.ReconnectDelay, 5*time.Second)
	fix(&c.RetryBaseDelay, 2*time.Second)
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}
