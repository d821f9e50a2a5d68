// Package app wires the object store, guard, history engine and sampler
// into one unit for the CLI and the daemon.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/runnerr0/readtrail/internal/config"
	"github.com/runnerr0/readtrail/internal/guard"
	"github.com/runnerr0/readtrail/internal/history"
	"github.com/runnerr0/readtrail/internal/legacy"
	"github.com/runnerr0/readtrail/internal/logging"
	"github.com/runnerr0/readtrail/internal/sampler"
	"github.com/runnerr0/readtrail/internal/storage"
	"github.com/runnerr0/readtrail/internal/view"
)

// Options customize Open.
type Options struct {
	// Logger replaces the logger built from the logging config.
	Logger *slog.Logger
	// OnWarning receives integrity warnings as they happen.
	OnWarning func(guard.IntegrityWarning)
}

// App is an opened readtrail instance.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DBPath   string
	DB       *sql.DB
	Objects  *storage.SQLiteStore
	Guard    *guard.Guard
	Registry *history.Registry
	Tracker  *history.Tracker
	Sampler  *sampler.Sampler
	Importer *legacy.Importer

	// ConfigWarnings lists the values Validate replaced.
	ConfigWarnings []*config.ConfigError

	unwatch  func()
	closeLog func() error
}

// Open validates cfg, opens the database and starts the history engine.
func Open(cfg *config.Config, opts Options) (*App, error) {
	warnings := cfg.Validate()

	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	closeLog := func() error { return nil }
	if logger == nil {
		logger, closeLog, err = logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			File:   cfg.Logging.File,
			Dir:    filepath.Dir(dbPath),
		})
		if err != nil {
			return nil, err
		}
	}
	for _, w := range warnings {
		logger.Warn("config value replaced", slog.String("field", w.Field), slog.String("error", w.Error()))
	}

	db, err := storage.OpenDB(dbPath)
	if err != nil {
		closeLog()
		return nil, err
	}
	objects, err := storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		closeLog()
		return nil, fmt.Errorf("create store: %w", err)
	}

	a := &App{
		Config:         cfg,
		Logger:         logger,
		DBPath:         dbPath,
		DB:             db,
		Objects:        objects,
		ConfigWarnings: warnings,
		closeLog:       closeLog,
	}

	a.Guard = guard.New(objects, guard.Options{
		Logger:    logger,
		Auditor:   objects,
		OnWarning: opts.OnWarning,
	})
	a.unwatch = a.Guard.Watch(objects)

	histOpts := history.Options{
		Tolerance:    cfg.Tolerance(),
		DwellFloor:   cfg.DwellFloor(),
		ExcludedTags: cfg.Tracking.ExcludedTags,
	}
	a.Registry = history.NewRegistry(a.Guard.Internal(), histOpts, logger)
	a.Tracker = history.NewTracker(a.Registry, logger)
	a.Sampler = sampler.New(a.Tracker, a.Guard, sampler.Options{
		ScanPeriod:      cfg.Tracking.ScanPeriod,
		ExcludedTags:    cfg.Tracking.ExcludedTags,
		CheckpointTicks: cfg.Tracking.CheckpointTicks,
		Logger:          logger,
	})
	a.Importer = legacy.NewImporter(a.Guard, a.Tracker, cfg.Tolerance(), logger)

	if cfg.Library.Name != "" {
		if err := objects.SetLibraryName(context.Background(), cfg.Library.ID, cfg.Library.Name); err != nil {
			a.Close(context.Background())
			return nil, fmt.Errorf("set library name: %w", err)
		}
	}
	return a, nil
}

// Ref names a document of the configured library.
func (a *App) Ref(documentKey string) history.DocRef {
	return history.DocRef{LibraryID: a.Config.Library.ID, Key: documentKey}
}

// Tree builds the view tree of a library.
func (a *App) Tree(ctx context.Context, libraryID int64, opts ...view.Option) (*view.Node, error) {
	store, err := a.Registry.Library(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return view.BuildTree(snap, opts...), nil
}

// Search runs q through the guard, so history notes never match, and
// returns the matching objects in key order.
func (a *App) Search(ctx context.Context, q storage.SearchQuery) ([]storage.Object, error) {
	keys, err := a.Guard.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]storage.Object, 0, len(keys))
	for _, k := range keys {
		obj, err := a.Guard.Get(ctx, k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		out = append(out, *obj)
	}
	return out, nil
}

// SetScanPeriod changes the sampling interval of the running instance. The
// merge tolerance and dwell floor follow it, keeping the configured factor.
// It returns the timing now in effect.
func (a *App) SetScanPeriod(seconds int) history.Options {
	if seconds < 1 {
		seconds = 1
	}
	tolerance, floor := a.Config.Tracking.Timing(seconds)
	a.Registry.SetTiming(tolerance, floor)
	a.Sampler.SetScanPeriod(seconds)
	a.Logger.Info("scan period updated",
		slog.Int("seconds", seconds),
		slog.Int64("tolerance", tolerance),
	)
	return a.Registry.Options()
}

// Summary returns the dashboard numbers of one document.
func (a *App) Summary(ctx context.Context, libraryID int64, documentKey string) (history.Summary, bool, error) {
	store, err := a.Registry.Library(ctx, libraryID)
	if err != nil {
		return history.Summary{}, false, err
	}
	sum, ok := store.Summary(documentKey)
	return sum, ok, nil
}

// Close closes open sessions, flushes pending history and releases the
// database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Sampler != nil {
		errs = append(errs, a.Sampler.CloseAll(ctx))
	}
	if a.Tracker != nil {
		errs = append(errs, a.Tracker.Close(ctx))
	}
	if a.unwatch != nil {
		a.unwatch()
	}
	errs = append(errs, a.Objects.Close(), a.DB.Close(), a.closeLog())
	return errors.Join(errs...)
}
