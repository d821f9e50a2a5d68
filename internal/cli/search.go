package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/runnerr0/readtrail/internal/app"
	"github.com/runnerr0/readtrail/internal/storage"
)

// searchResultJSON is one object in the search output.
type searchResultJSON struct {
	Key       string   `json:"key"`
	Kind      string   `json:"kind"`
	ParentKey string   `json:"parent_key,omitempty"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	Trashed   bool     `json:"trashed"`
}

// Execute implements the go-flags Commander interface for SearchCommand.
func (c *SearchCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp searches an opened app (for testing).
func (c *SearchCommand) executeWithApp(ctx context.Context, a *app.App) error {
	kind, err := storage.ParseKind(c.Kind)
	if err != nil {
		return err
	}
	objs, err := a.Search(ctx, storage.SearchQuery{
		LibraryID:      libraryOr(a, c.Library),
		Kind:           kind,
		ParentKey:      c.Parent,
		Text:           c.Text,
		IncludeTrashed: c.IncludeTrashed,
		Limit:          c.Limit,
	})
	if err != nil {
		return err
	}

	results := make([]searchResultJSON, 0, len(objs))
	for _, o := range objs {
		tags := o.Tags
		if tags == nil {
			tags = []string{}
		}
		results = append(results, searchResultJSON{
			Key:       o.Key,
			Kind:      string(o.Kind),
			ParentKey: o.ParentKey,
			Title:     o.Title,
			Tags:      tags,
			Trashed:   o.Deleted,
		})
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No matching objects.")
		return nil
	}
	for _, r := range results {
		line := fmt.Sprintf("%-28s %-9s %s", r.Key, r.Kind, r.Title)
		if len(r.Tags) > 0 {
			line += " [" + strings.Join(r.Tags, ", ") + "]"
		}
		if r.Trashed {
			line += " (trashed)"
		}
		fmt.Println(strings.TrimRight(line, " "))
	}
	fmt.Printf("\n%d result(s)\n", len(results))
	return nil
}
