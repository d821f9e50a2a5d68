package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/readtrail/internal/app"
	"github.com/runnerr0/readtrail/internal/config"
	"github.com/runnerr0/readtrail/internal/guard"
	"github.com/runnerr0/readtrail/internal/history"
	"github.com/runnerr0/readtrail/internal/logging"
)

// loadConfig reads --config, or the default config file, creating it when
// missing.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.LoadOrCreateAt(globals.Config)
	}
	return config.LoadOrCreate()
}

// openApp loads the config and opens the application. Logs and integrity
// warnings go to stderr.
func openApp(globals *GlobalFlags) (*app.App, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, err
	}

	level := "warn"
	if globals != nil && globals.Verbose {
		level = "debug"
	}
	opts := app.Options{
		Logger:    logging.NewWithWriter(os.Stderr, logging.Options{Level: level, Format: "text"}),
		OnWarning: printIntegrityWarning,
	}
	return app.Open(cfg, opts)
}

// withApp opens the application, runs fn and closes it again.
func withApp(globals *GlobalFlags, fn func(ctx context.Context, a *app.App) error) error {
	a, err := openApp(globals)
	if err != nil {
		return err
	}
	ctx := context.Background()
	runErr := fn(ctx, a)
	if err := a.Close(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("close: %w", err)
	}
	return runErr
}

func printIntegrityWarning(w guard.IntegrityWarning) {
	fmt.Fprintf(os.Stderr, "warning: %s\n", w.Error())
}

// libraryOr returns id, or the configured library when id is zero.
func libraryOr(a *app.App, id int64) int64 {
	if id == 0 {
		return a.Config.Library.ID
	}
	return id
}

func refFor(a *app.App, library int64, key string) history.DocRef {
	return history.DocRef{LibraryID: libraryOr(a, library), Key: key}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 's':
		return time.Duration(n) * time.Second, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, m or s suffix)", s)
	}
}

// formatSeconds formats reading time like "1h 02m 05s".
func formatSeconds(sec int64) string {
	d := time.Duration(sec) * time.Second
	h := int64(d.Hours())
	m := int64(d.Minutes()) % 60
	s := sec % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
