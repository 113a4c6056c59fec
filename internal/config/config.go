package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Tracker         TrackerConfig     `yaml:"tracker"`
	Persistence     PersistenceConfig `yaml:"persistence"`
	Inventory       InventoryConfig   `yaml:"inventory"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Status          StatusConfig      `yaml:"status"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	Colors     bool   `yaml:"colors"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`        // Optional rotating log file, empty = stderr only
	MaxSizeMB  int    `yaml:"max_size_mb"` // Rotate after this many megabytes (default: 10)
	MaxBackups int    `yaml:"max_backups"` // Rotated files to keep (default: 3)
}

// TrackerConfig contains tracking engine settings
type TrackerConfig struct {
	TickInterval     Duration `yaml:"tick_interval"`      // Host tick period (default: 50ms)
	RateWindow       Duration `yaml:"rate_window"`        // Sliding rate window (default: 60s)
	RateRefreshTicks int      `yaml:"rate_refresh_ticks"` // Ticks between rate refreshes (default: 20)
	FullScanRPS      float64  `yaml:"full_scan_rps"`      // Full scans per second, 0 = unlimited
	FullScanBurst    int      `yaml:"full_scan_burst"`    // Full scan burst (default: 1)
	MaxDepth         int      `yaml:"max_depth"`          // Container nesting bound (default: 8)
}

// PersistenceConfig contains project save settings
type PersistenceConfig struct {
	Debounce Duration `yaml:"debounce"` // Quiet period before a save (default: 500ms)
}

// InventoryConfig points at the inventory sources
type InventoryConfig struct {
	File   string `yaml:"file"`   // YAML inventory snapshot, watched for changes
	Script string `yaml:"script"` // Optional Lua extension providing extra containers
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// StatusConfig contains status server settings
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./goald.sqlite"
	}

	// Tracker defaults
	if cfg.Tracker.TickInterval == 0 {
		cfg.Tracker.TickInterval = Duration(50 * time.Millisecond)
	}
	if cfg.Tracker.RateWindow == 0 {
		cfg.Tracker.RateWindow = Duration(60 * time.Second)
	}
	if cfg.Tracker.RateRefreshTicks == 0 {
		cfg.Tracker.RateRefreshTicks = 20
	}
	if cfg.Tracker.FullScanBurst == 0 {
		cfg.Tracker.FullScanBurst = 1
	}
	if cfg.Tracker.MaxDepth == 0 {
		cfg.Tracker.MaxDepth = 8
	}

	if cfg.Persistence.Debounce == 0 {
		cfg.Persistence.Debounce = Duration(500 * time.Millisecond)
	}
	if cfg.Inventory.File == "" {
		cfg.Inventory.File = "inventory.yaml"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Status server defaults
	if cfg.Status.Port == 0 {
		cfg.Status.Port = 9090
	}
	if cfg.Status.Host == "" {
		cfg.Status.Host = "127.0.0.1"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
