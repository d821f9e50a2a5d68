package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/runnerr0/readtrail/internal/app"
	"github.com/runnerr0/readtrail/internal/config"
	"github.com/runnerr0/readtrail/internal/daemon"
)

// Execute implements the go-flags Commander interface for IngestCommand.
func (c *IngestCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	c.apply(cfg)

	a, err := app.Open(cfg, app.Options{OnWarning: printIntegrityWarning})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("readtrail daemon listening on %s:%d\n", cfg.Daemon.Host, cfg.Daemon.Port)
	runErr := daemon.New(a, c.version).Run(ctx)
	if err := a.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = fmt.Errorf("close: %w", err)
	}
	return runErr
}

// apply copies the command line overrides into cfg.
func (c *IngestCommand) apply(cfg *config.Config) {
	if c.Host != "" {
		cfg.Daemon.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.globals != nil && c.globals.Verbose {
		cfg.Logging.Level = "debug"
	}
}
