package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runnerr0/readtrail/internal/app"
	"github.com/runnerr0/readtrail/internal/sampler"
	"github.com/runnerr0/readtrail/internal/storage"
)

// visitJSON is the JSON output structure for the visit command.
type visitJSON struct {
	Key         string `json:"key"`
	Page        int    `json:"page"`
	Samples     int    `json:"samples"`
	Start       int64  `json:"start"`
	PageSeconds int64  `json:"page_seconds"`
	PageVisits  int    `json:"page_visits"`
}

// Execute implements the go-flags Commander interface for VisitCommand.
func (c *VisitCommand) Execute(args []string) error {
	if c.Key == "" {
		return fmt.Errorf("--key is required")
	}
	if c.Page < 1 {
		return fmt.Errorf("--page must be at least 1")
	}
	if c.Samples < 1 {
		return fmt.Errorf("--samples must be at least 1")
	}
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp records the visits against an opened app (for testing).
func (c *VisitCommand) executeWithApp(ctx context.Context, a *app.App) error {
	start := time.Now()
	if c.Ago != "" {
		d, err := parseDuration(c.Ago)
		if err != nil {
			return fmt.Errorf("--ago: %w", err)
		}
		start = start.Add(-d)
	}

	ref := refFor(a, c.Library, c.Key)
	obj, err := a.Guard.Get(ctx, c.Key)
	switch {
	case err == nil:
		if tags := a.Config.Tracking.ExcludedTags; len(tags) > 0 && obj.HasTag(tags...) {
			return fmt.Errorf("visit %s: %w", c.Key, sampler.ErrExcluded)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("get %s: %w", c.Key, err)
	}

	if c.PageCount > 0 {
		if err := a.Tracker.ObservePageCount(ctx, ref, c.PageCount); err != nil {
			return err
		}
	}
	step := int64(a.Sampler.ScanPeriod() / time.Second)
	for i := 0; i < c.Samples; i++ {
		if err := a.Tracker.RecordVisit(ctx, ref, c.Page, start.Unix()+int64(i)*step); err != nil {
			return err
		}
	}
	if err := a.Tracker.Flush(ctx, ref); err != nil {
		return fmt.Errorf("save history: %w", err)
	}

	sum, _, err := a.Summary(ctx, ref.LibraryID, ref.Key)
	if err != nil {
		return err
	}
	out := visitJSON{
		Key:         c.Key,
		Page:        c.Page,
		Samples:     c.Samples,
		Start:       start.Unix(),
		PageSeconds: sum.PerPage[c.Page],
		PageVisits:  sum.Visits[c.Page],
	}
	if c.globals != nil && c.globals.JSON {
		return printJSON(out)
	}
	fmt.Printf("Recorded %d sample(s) on page %d of %s\n", c.Samples, c.Page, c.Key)
	fmt.Printf("Page %d: %s over %d visit(s)\n", c.Page, formatSeconds(out.PageSeconds), out.PageVisits)
	return nil
}
