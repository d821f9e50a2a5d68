package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Tracking: TrackingConfig{
			ScanPeriod:      10,
			ToleranceFactor: 2,
			ExcludedTags:    []string{},
			CheckpointTicks: 6,
		},
		Library: LibraryConfig{
			ID:   1,
			Name: "",
		},
		Storage: StorageConfig{
			Path:       "~/.config/readtrail",
			SQLiteFile: "readtrail.db",
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8722,
			MaxRequestSize: 10485760,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "text",
		},
	}
}
