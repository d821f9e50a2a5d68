package history

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/runnerr0/readtrail/internal/storage"
)

// Summary is the dashboard view of one document.
type Summary struct {
	DocumentKey string
	PageCount   int
	PerPage     map[int]int64 // seconds per visited page
	Visits      map[int]int   // reading spans per visited page
	Total       int64
}

// Summary computes the dashboard numbers for documentKey. The second result
// is false when the document has no history.
func (s *Store) Summary(documentKey string) (Summary, bool) {
	rec, ok := s.Get(documentKey)
	if !ok {
		return Summary{}, false
	}
	return summarize(documentKey, rec, s.Options().DwellFloor), true
}

func summarize(key string, rec *Record, floor int64) Summary {
	sum := Summary{
		DocumentKey: key,
		PageCount:   rec.PageCount,
		PerPage:     make(map[int]int64, len(rec.Pages)),
		Visits:      make(map[int]int, len(rec.Pages)),
	}
	for _, p := range rec.PageNumbers() {
		d := rec.PageDwell(p, floor)
		sum.PerPage[p] = d
		sum.Visits[p] = rec.VisitCount(p)
		sum.Total += d
	}
	return sum
}

// DocumentTotal pairs a document with its reading time.
type DocumentTotal struct {
	DocumentKey string `json:"document_key"`
	Title       string `json:"title"`
	Seconds     int64  `json:"seconds"`
	PagesRead   int    `json:"pages_read"`
	PageCount   int    `json:"page_count"`
}

// LibrarySummary aggregates every tracked document of a library.
type LibrarySummary struct {
	LibraryID int64           `json:"library_id"`
	Documents int             `json:"documents"`
	Excluded  int             `json:"excluded"`
	PagesRead int             `json:"pages_read"`
	Total     int64           `json:"total"`
	Top       []DocumentTotal `json:"top"`
}

// LibrarySummary aggregates the library's history, leaving out documents
// tagged with one of the excluded tags. Top lists at most limit documents by
// reading time.
func (s *Store) LibrarySummary(ctx context.Context, limit int) (LibrarySummary, error) {
	out := LibrarySummary{LibraryID: s.libraryID, Top: []DocumentTotal{}}
	opts := s.Options()

	for _, key := range s.Keys() {
		rec, ok := s.Get(key)
		if !ok {
			continue
		}
		title := key
		obj, err := s.objects.Get(ctx, key)
		switch {
		case err == nil:
			if len(opts.ExcludedTags) > 0 && obj.HasTag(opts.ExcludedTags...) {
				out.Excluded++
				continue
			}
			if obj.Title != "" {
				title = obj.Title
			}
		case !errors.Is(err, storage.ErrNotFound):
			return out, fmt.Errorf("library summary: %w", err)
		}

		sum := summarize(key, rec, opts.DwellFloor)
		out.Documents++
		out.PagesRead += len(sum.PerPage)
		out.Total += sum.Total
		out.Top = append(out.Top, DocumentTotal{
			DocumentKey: key,
			Title:       title,
			Seconds:     sum.Total,
			PagesRead:   len(sum.PerPage),
			PageCount:   sum.PageCount,
		})
	}

	sort.SliceStable(out.Top, func(i, j int) bool {
		return out.Top[i].Seconds > out.Top[j].Seconds
	})
	if limit > 0 && len(out.Top) > limit {
		out.Top = out.Top[:limit]
	}
	return out, nil
}
