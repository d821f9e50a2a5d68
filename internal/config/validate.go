package config

import (
	"fmt"
	"strings"
)

// ConfigError reports a configuration value that was replaced. It is a
// warning: the replacement is already applied.
type ConfigError struct {
	Field   string
	Value   any
	Applied any
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v %s, using %v", e.Field, e.Value, e.Reason, e.Applied)
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate clamps or defaults every out-of-range value and returns one
// ConfigError per change. It never fails.
func (c *Config) Validate() []*ConfigError {
	var errs []*ConfigError
	defaults := DefaultConfig()

	if c.Tracking.ScanPeriod < 1 {
		errs = append(errs, &ConfigError{"tracking.scan_period", c.Tracking.ScanPeriod, 1, "is below 1"})
		c.Tracking.ScanPeriod = 1
	}
	if c.Tracking.ToleranceFactor < 1 {
		errs = append(errs, &ConfigError{"tracking.tolerance_factor", c.Tracking.ToleranceFactor, 1.0, "is below 1"})
		c.Tracking.ToleranceFactor = 1
	}
	c.Tracking.ExcludedTags = NormalizeTags(c.Tracking.ExcludedTags)
	if c.Tracking.CheckpointTicks < 1 {
		errs = append(errs, &ConfigError{"tracking.checkpoint_ticks", c.Tracking.CheckpointTicks, 1, "is below 1"})
		c.Tracking.CheckpointTicks = 1
	}

	if c.Library.ID < 1 {
		errs = append(errs, &ConfigError{"library.id", c.Library.ID, defaults.Library.ID, "is not a valid library id"})
		c.Library.ID = defaults.Library.ID
	}

	if c.Storage.SQLiteFile == "" {
		errs = append(errs, &ConfigError{"storage.sqlite_file", c.Storage.SQLiteFile, defaults.Storage.SQLiteFile, "is empty"})
		c.Storage.SQLiteFile = defaults.Storage.SQLiteFile
	}

	if c.Daemon.Port < 1 || c.Daemon.Port > 65535 {
		errs = append(errs, &ConfigError{"daemon.port", c.Daemon.Port, defaults.Daemon.Port, "is out of range"})
		c.Daemon.Port = defaults.Daemon.Port
	}
	if c.Daemon.MaxRequestSize < 1 {
		errs = append(errs, &ConfigError{"daemon.max_request_size", c.Daemon.MaxRequestSize, defaults.Daemon.MaxRequestSize, "is not positive"})
		c.Daemon.MaxRequestSize = defaults.Daemon.MaxRequestSize
	}

	level := strings.ToLower(c.Logging.Level)
	if !logLevels[level] {
		errs = append(errs, &ConfigError{"logging.level", c.Logging.Level, defaults.Logging.Level, "is unknown"})
		level = defaults.Logging.Level
	}
	c.Logging.Level = level

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, &ConfigError{"logging.format", c.Logging.Format, defaults.Logging.Format, "is unknown"})
		c.Logging.Format = defaults.Logging.Format
	}
	return errs
}
