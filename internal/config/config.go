package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/readtrail/config.yaml"

// Config holds all readtrail configuration.
type Config struct {
	Tracking TrackingConfig `yaml:"tracking"`
	Library  LibraryConfig  `yaml:"library"`
	Storage  StorageConfig  `yaml:"storage"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type TrackingConfig struct {
	// ScanPeriod is the sampling interval in seconds.
	ScanPeriod int `yaml:"scan_period" env:"READTRAIL_SCAN_PERIOD"`
	// ToleranceFactor multiplies ScanPeriod into the merge tolerance.
	ToleranceFactor float64  `yaml:"tolerance_factor" env:"READTRAIL_TOLERANCE_FACTOR"`
	ExcludedTags    []string `yaml:"excluded_tags" env:"READTRAIL_EXCLUDED_TAGS" envSeparator:","`
	// CheckpointTicks is how many ticks pass between flushes of open sessions.
	CheckpointTicks int `yaml:"checkpoint_ticks" env:"READTRAIL_CHECKPOINT_TICKS"`
}

type LibraryConfig struct {
	ID   int64  `yaml:"id" env:"READTRAIL_LIBRARY_ID"`
	Name string `yaml:"name" env:"READTRAIL_LIBRARY_NAME"`
}

type StorageConfig struct {
	Path       string `yaml:"path" env:"READTRAIL_STORAGE_PATH"`
	SQLiteFile string `yaml:"sqlite_file" env:"READTRAIL_SQLITE_FILE"`
}

type DaemonConfig struct {
	Host           string `yaml:"host" env:"READTRAIL_DAEMON_HOST"`
	Port           int    `yaml:"port" env:"READTRAIL_DAEMON_PORT"`
	MaxRequestSize int64  `yaml:"max_request_size" env:"READTRAIL_MAX_REQUEST_SIZE"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"READTRAIL_LOG_LEVEL"`
	File   string `yaml:"file" env:"READTRAIL_LOG_FILE"`
	Format string `yaml:"format" env:"READTRAIL_LOG_FORMAT"`
}

// Timing returns the merge tolerance and the dwell floor, in seconds, that
// go with a scan period of the given length.
func (t TrackingConfig) Timing(scanPeriod int) (tolerance, floor int64) {
	return int64(math.Round(float64(scanPeriod) * t.ToleranceFactor)), int64(scanPeriod)
}

// Tolerance is the merge tolerance in seconds: scan period times factor.
func (c *Config) Tolerance() int64 {
	tol, _ := c.Tracking.Timing(c.Tracking.ScanPeriod)
	return tol
}

// DwellFloor is the reading time credited to a single sample.
func (c *Config) DwellFloor() int64 {
	_, floor := c.Tracking.Timing(c.Tracking.ScanPeriod)
	return floor
}

// DBPath returns the expanded path of the SQLite database.
func (c *Config) DBPath() (string, error) {
	dir, err := ExpandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// Load reads a YAML config file at path, merges it with defaults and
// applies READTRAIL_* environment overrides. Returns an error if the file
// cannot be read or contains invalid YAML. Call Validate on the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv overrides target with the environment variables named in its env
// tags. Unset variables leave fields untouched.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads DefaultConfigPath, writing a default file first when
// there is none.
func LoadOrCreate() (*Config, error) {
	path, err := ExpandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads path, writing a default file first when there is
// none. Environment overrides apply either way.
func LoadOrCreateAt(path string) (*Config, error) {
	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := writeDefaults(path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	return Load(path)
}

func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
