package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/runnerr0/readtrail/internal/app"
	"github.com/runnerr0/readtrail/internal/legacy"
)

// importJSON is the JSON output structure for the import command.
type importJSON struct {
	File      string `json:"file"`
	LibraryID int64  `json:"library_id"`
	Items     int    `json:"items"`
	Imported  int    `json:"imported"`
	Missing   int    `json:"missing"`
	Malformed int    `json:"malformed"`
}

// Execute implements the go-flags Commander interface for ImportCommand.
func (c *ImportCommand) Execute(args []string) error {
	if c.File == "" {
		return fmt.Errorf("--file is required")
	}
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp imports the file into an opened app (for testing).
func (c *ImportCommand) executeWithApp(ctx context.Context, a *app.App) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	exp, err := legacy.Parse(filepath.Base(c.File), data)
	if err != nil {
		return fmt.Errorf("import aborted: %w", err)
	}

	jsonOut := c.globals != nil && c.globals.JSON
	var progress legacy.ProgressFunc
	if !c.Quiet && !jsonOut {
		progress = func(done, total int, percent float64) {
			fmt.Fprintf(os.Stderr, "\rImporting: %3.0f%% (%d/%d)", percent, done, total)
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		}
	}

	report, err := a.Importer.Import(ctx, exp, progress)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	if jsonOut {
		return printJSON(importJSON{
			File:      c.File,
			LibraryID: exp.LibraryID,
			Items:     len(exp.Entries),
			Imported:  report.Imported,
			Missing:   report.Missing,
			Malformed: report.Malformed,
		})
	}
	fmt.Printf("Imported %d of %d item(s) into library %d\n", report.Imported, len(exp.Entries), exp.LibraryID)
	if report.Missing > 0 {
		fmt.Printf("Skipped %d item(s) without a document\n", report.Missing)
	}
	if report.Malformed > 0 {
		fmt.Printf("Skipped %d malformed item(s)\n", report.Malformed)
	}
	return nil
}
