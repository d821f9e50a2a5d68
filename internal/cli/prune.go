package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/runnerr0/readtrail/internal/app"
	"github.com/runnerr0/readtrail/internal/storage"
)

// pruneJSON is the JSON output structure for the prune command.
type pruneJSON struct {
	LibraryID int64    `json:"library_id"`
	DryRun    bool     `json:"dry_run"`
	Orphans   []string `json:"orphans,omitempty"`
	Removed   int      `json:"removed"`
}

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp prunes the history of an opened app (for testing).
func (c *PruneCommand) executeWithApp(ctx context.Context, a *app.App) error {
	lib := libraryOr(a, c.Library)
	store, err := a.Registry.Library(ctx, lib)
	if err != nil {
		return err
	}

	out := pruneJSON{LibraryID: lib, DryRun: c.DryRun}
	if c.DryRun {
		for _, key := range store.Keys() {
			_, err := a.Guard.Get(ctx, key)
			if errors.Is(err, storage.ErrNotFound) {
				out.Orphans = append(out.Orphans, key)
				continue
			}
			if err != nil {
				return fmt.Errorf("get %s: %w", key, err)
			}
		}
	} else {
		out.Removed, err = store.Prune(ctx)
		if err != nil {
			return err
		}
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(out)
	}
	if c.DryRun {
		fmt.Printf("Would prune %d document(s)\n", len(out.Orphans))
		for _, key := range out.Orphans {
			fmt.Printf("  %s\n", key)
		}
		return nil
	}
	fmt.Printf("Pruned %d document(s)\n", out.Removed)
	return nil
}
