package cli

import (
	"context"
	"os"
	"testing"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/readtrail/internal/app"
	"github.com/runnerr0/readtrail/internal/config"
	"github.com/runnerr0/readtrail/internal/guard"
	"github.com/runnerr0/readtrail/internal/logging"
	"github.com/runnerr0/readtrail/internal/storage"
)

// captureOutput runs fn with stdout sent to a temp file and returns what
// fn printed.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "stdout-*")
	require.NoError(t, err)
	defer f.Close()

	saved := os.Stdout
	os.Stdout = f
	func() {
		defer func() { os.Stdout = saved }()
		fn()
	}()

	out, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return string(out)
}

// openTestApp opens an app on a fresh database. mutate may adjust the
// default config first.
func openTestApp(t *testing.T, mutate func(*config.Config)) *app.App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = t.TempDir()
	cfg.Daemon.Port = 1
	if mutate != nil {
		mutate(cfg)
	}
	a, err := app.Open(cfg, app.Options{
		Logger:    logging.Discard(),
		OnWarning: func(guard.IntegrityWarning) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func putDocument(t *testing.T, a *app.App, key, title string, tags ...string) {
	t.Helper()
	require.NoError(t, a.Guard.Put(context.Background(), &storage.Object{
		Key:       key,
		LibraryID: 1,
		Kind:      storage.KindDocument,
		Title:     title,
		Tags:      tags,
	}))
}

// recordVisits feeds samples for one page and flushes them.
func recordVisits(t *testing.T, a *app.App, key string, page int, ts ...int64) {
	t.Helper()
	ctx := context.Background()
	for _, at := range ts {
		require.NoError(t, a.Tracker.RecordVisit(ctx, a.Ref(key), page, at))
	}
	require.NoError(t, a.Tracker.Flush(ctx, a.Ref(key)))
}
