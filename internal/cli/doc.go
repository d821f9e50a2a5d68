package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/runnerr0/readtrail/internal/app"
	"github.com/runnerr0/readtrail/internal/config"
	"github.com/runnerr0/readtrail/internal/storage"
)

// docJSON is the JSON output structure for the doc command.
type docJSON struct {
	Key       string   `json:"key"`
	LibraryID int64    `json:"library_id"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	Version   int64    `json:"version"`
	Created   bool     `json:"created"`
}

// Execute implements the go-flags Commander interface for DocCommand.
func (c *DocCommand) Execute(args []string) error {
	if c.Key == "" {
		return fmt.Errorf("--key is required")
	}
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp registers the document against an opened app (for testing).
func (c *DocCommand) executeWithApp(ctx context.Context, a *app.App) error {
	existing, err := a.Guard.Get(ctx, c.Key)
	created := errors.Is(err, storage.ErrNotFound)
	if err != nil && !created {
		return fmt.Errorf("get %s: %w", c.Key, err)
	}

	obj := &storage.Object{
		Key:       c.Key,
		LibraryID: libraryOr(a, c.Library),
		Kind:      storage.KindDocument,
		Title:     c.Title,
		Tags:      config.NormalizeTags(c.Tags),
	}
	if !created {
		if existing.Kind != storage.KindDocument {
			return fmt.Errorf("%s is a %s, not a document", c.Key, existing.Kind)
		}
		if c.Title == "" {
			obj.Title = existing.Title
		}
		if len(c.Tags) == 0 {
			obj.Tags = existing.Tags
		}
		if c.Library == 0 {
			obj.LibraryID = existing.LibraryID
		}
	}

	if err := a.Guard.Put(ctx, obj); err != nil {
		return fmt.Errorf("put %s: %w", c.Key, err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(docJSON{
			Key:       obj.Key,
			LibraryID: obj.LibraryID,
			Title:     obj.Title,
			Tags:      append([]string{}, obj.Tags...),
			Version:   obj.Version,
			Created:   created,
		})
	}
	if created {
		fmt.Printf("Registered %s", obj.Key)
	} else {
		fmt.Printf("Updated %s", obj.Key)
	}
	if obj.Title != "" {
		fmt.Printf(" (%s)", obj.Title)
	}
	fmt.Println()
	return nil
}
