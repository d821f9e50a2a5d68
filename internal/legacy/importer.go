package legacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/runnerr0/readtrail/internal/history"
	"github.com/runnerr0/readtrail/internal/metrics"
	"github.com/runnerr0/readtrail/internal/storage"
)

// Merger folds records into live history. *history.Tracker implements it.
type Merger interface {
	Merge(ctx context.Context, ref history.DocRef, rec *history.Record) error
	Flush(ctx context.Context, ref history.DocRef) error
}

// ProgressFunc is called after each item with the share of items done, in
// percent.
type ProgressFunc func(done, total int, percent float64)

// Report counts the outcome of an import.
type Report struct {
	Imported  int
	Missing   int
	Malformed int
}

// Importer merges parsed exports into the history of existing documents.
type Importer struct {
	objects   storage.ObjectStore
	merger    Merger
	tolerance int64
	logger    *slog.Logger
}

// NewImporter creates an importer. Records are compressed with tolerance.
func NewImporter(objects storage.ObjectStore, merger Merger, tolerance int64, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		objects:   objects,
		merger:    merger,
		tolerance: tolerance,
		logger:    logger.With(slog.String("component", "legacy")),
	}
}

// Import processes every entry of exp. Items for documents missing from the
// object store are skipped, malformed items are skipped and counted. The
// context is checked between items.
func (im *Importer) Import(ctx context.Context, exp *Export, progress ProgressFunc) (Report, error) {
	var report Report
	total := len(exp.Entries)

	for i, entry := range exp.Entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := im.importEntry(ctx, exp.LibraryID, entry, &report); err != nil {
			return report, err
		}
		if progress != nil {
			progress(i+1, total, float64(i+1)*100/float64(total))
		}
	}

	im.logger.Info("legacy import finished",
		slog.Int64("library", exp.LibraryID),
		slog.Int("imported", report.Imported),
		slog.Int("missing", report.Missing),
		slog.Int("malformed", report.Malformed),
	)
	return report, nil
}

func (im *Importer) importEntry(ctx context.Context, lib int64, entry Entry, report *Report) error {
	if entry.Err != nil {
		report.Malformed++
		metrics.LegacyItems.WithLabelValues("malformed").Inc()
		im.logger.Warn("skipping malformed legacy item", slog.String("error", entry.Err.Error()))
		return nil
	}

	_, err := im.objects.Get(ctx, entry.Key)
	if errors.Is(err, storage.ErrNotFound) {
		report.Missing++
		metrics.LegacyItems.WithLabelValues("missing").Inc()
		im.logger.Debug("skipping legacy item without document", slog.String("document", entry.Key))
		return nil
	}
	if err != nil {
		return fmt.Errorf("import %s: %w", entry.Key, err)
	}

	ref := history.DocRef{LibraryID: lib, Key: entry.Key}
	if err := im.merger.Merge(ctx, ref, entry.Item.Record(im.tolerance)); err != nil {
		return fmt.Errorf("import %s: %w", entry.Key, err)
	}
	if err := im.merger.Flush(ctx, ref); err != nil {
		return fmt.Errorf("import %s: %w", entry.Key, err)
	}
	report.Imported++
	metrics.LegacyItems.WithLabelValues("imported").Inc()
	return nil
}
