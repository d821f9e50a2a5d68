package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/runnerr0/readtrail/internal/app"
)

// pageJSON is one row of the document summary output.
type pageJSON struct {
	Page    int   `json:"page"`
	Seconds int64 `json:"seconds"`
	Visits  int   `json:"visits"`
}

// documentSummaryJSON is the JSON output structure for summary --key.
type documentSummaryJSON struct {
	Key       string     `json:"key"`
	PageCount int        `json:"page_count"`
	Total     int64      `json:"total"`
	Pages     []pageJSON `json:"pages"`
}

// Execute implements the go-flags Commander interface for SummaryCommand.
func (c *SummaryCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp prints the summary of an opened app (for testing).
func (c *SummaryCommand) executeWithApp(ctx context.Context, a *app.App) error {
	lib := libraryOr(a, c.Library)
	if c.Key != "" {
		return c.documentSummary(ctx, a, lib)
	}

	store, err := a.Registry.Library(ctx, lib)
	if err != nil {
		return err
	}
	sum, err := store.LibrarySummary(ctx, c.Limit)
	if err != nil {
		return err
	}
	if c.globals != nil && c.globals.JSON {
		return printJSON(sum)
	}

	fmt.Printf("Library %d: %d document(s), %d page(s) read, %s\n",
		sum.LibraryID, sum.Documents, sum.PagesRead, formatSeconds(sum.Total))
	if sum.Excluded > 0 {
		fmt.Printf("Excluded: %d document(s)\n", sum.Excluded)
	}
	if len(sum.Top) > 0 {
		fmt.Println()
		fmt.Println("Most read:")
		for _, d := range sum.Top {
			pages := fmt.Sprintf("%d", d.PagesRead)
			if d.PageCount > 0 {
				pages = fmt.Sprintf("%d/%d", d.PagesRead, d.PageCount)
			}
			fmt.Printf("  %-30s %12s  %s pages\n", d.Title, formatSeconds(d.Seconds), pages)
		}
	}
	return nil
}

func (c *SummaryCommand) documentSummary(ctx context.Context, a *app.App, lib int64) error {
	sum, ok, err := a.Summary(ctx, lib, c.Key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no reading history for %s", c.Key)
	}

	out := documentSummaryJSON{
		Key:       sum.DocumentKey,
		PageCount: sum.PageCount,
		Total:     sum.Total,
		Pages:     make([]pageJSON, 0, len(sum.PerPage)),
	}
	for page, sec := range sum.PerPage {
		out.Pages = append(out.Pages, pageJSON{Page: page, Seconds: sec, Visits: sum.Visits[page]})
	}
	sort.Slice(out.Pages, func(i, j int) bool { return out.Pages[i].Page < out.Pages[j].Page })

	if c.globals != nil && c.globals.JSON {
		return printJSON(out)
	}

	pageCount := "unknown"
	if out.PageCount > 0 {
		pageCount = fmt.Sprintf("%d", out.PageCount)
	}
	fmt.Printf("%s: %s (%s pages)\n", out.Key, formatSeconds(out.Total), pageCount)
	for _, p := range out.Pages {
		fmt.Printf("  page %-5d %12s  %d visit(s)\n", p.Page, formatSeconds(p.Seconds), p.Visits)
	}
	return nil
}
