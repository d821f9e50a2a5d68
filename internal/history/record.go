package history

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = errors.New("page numbers start at 1")
	// ErrInvalidTimestamp is returned for visit times outside
	// [MinTimestamp, MaxTimestamp].
	ErrInvalidTimestamp = errors.New("timestamp out of range")
)

// Visit times are Unix seconds between the epoch and the end of year 9999.
const (
	MinTimestamp int64 = 0
	MaxTimestamp int64 = 253402300799
)

// ValidTimestamp reports whether ts is an acceptable visit time.
func ValidTimestamp(ts int64) bool { return ts >= MinTimestamp && ts <= MaxTimestamp }

// VisitLog holds the visits of one page. Raw collects samples until the next
// Finalize folds them into Spans.
type VisitLog struct {
	Raw   []int64
	Spans []Interval
}

// Record is the reading history of one document: page count plus a sparse
// page -> VisitLog map. A Record is not safe for concurrent use; the Tracker
// gives each document a single writer.
type Record struct {
	PageCount int
	Pages     map[int]*VisitLog

	tolerance int64
}

// NewRecord returns an empty record compressing with the given tolerance.
func NewRecord(tolerance int64) *Record {
	return &Record{
		Pages:     make(map[int]*VisitLog),
		tolerance: tolerance,
	}
}

// Tolerance returns the merge tolerance used by Finalize.
func (r *Record) Tolerance() int64 { return r.tolerance }

// SetTolerance changes the merge tolerance for subsequent finalizations.
func (r *Record) SetTolerance(tolerance int64) { r.tolerance = tolerance }

// Resolved reports whether the page count is known.
func (r *Record) Resolved() bool { return r.PageCount > 0 }

func (r *Record) log(page int) *VisitLog {
	if r.Pages == nil {
		r.Pages = make(map[int]*VisitLog)
	}
	l, ok := r.Pages[page]
	if !ok {
		l = &VisitLog{}
		r.Pages[page] = l
	}
	return l
}

// RecordVisit appends a raw sample for page. Duplicate timestamps are
// harmless; compression removes them. A page beyond a known page count
// raises the count.
func (r *Record) RecordVisit(page int, ts int64) error {
	if page < 1 {
		return fmt.Errorf("record visit on page %d: %w", page, ErrInvalidPage)
	}
	if !ValidTimestamp(ts) {
		return fmt.Errorf("record visit at %d: %w", ts, ErrInvalidTimestamp)
	}
	l := r.log(page)
	l.Raw = append(l.Raw, ts)
	if r.PageCount > 0 && page > r.PageCount {
		r.PageCount = page
	}
	return nil
}

// ObservePageCount raises the page count to n. It never lowers it.
func (r *Record) ObservePageCount(n int) {
	if n > r.PageCount {
		r.PageCount = n
	}
	// a re-paginated document may still hold visits past the new count
	if r.PageCount > 0 {
		if last := r.lastPage(); last > r.PageCount {
			r.PageCount = last
		}
	}
}

func (r *Record) lastPage() int {
	last := 0
	for p := range r.Pages {
		if p > last {
			last = p
		}
	}
	return last
}

// Finalize compresses every page, folding raw samples into spans.
func (r *Record) Finalize() {
	for page, l := range r.Pages {
		spans := make([]Interval, 0, len(l.Spans)+len(l.Raw))
		spans = append(spans, l.Spans...)
		for _, t := range l.Raw {
			spans = append(spans, Interval{Start: t, End: t})
		}
		l.Spans = Coalesce(spans, r.tolerance)
		l.Raw = nil
		if len(l.Spans) == 0 {
			delete(r.Pages, page)
		}
	}
}

// Merge folds other into r: page counts take the maximum, visits are the
// per-page union followed by Finalize. The result is the same whatever
// order records are merged in.
func (r *Record) Merge(other *Record) {
	if other == nil {
		return
	}
	for page, ol := range other.Pages {
		l := r.log(page)
		l.Raw = append(l.Raw, ol.Raw...)
		l.Spans = append(l.Spans, ol.Spans...)
	}
	if other.PageCount > r.PageCount {
		r.PageCount = other.PageCount
	}
	r.Finalize()
	if r.PageCount > 0 {
		if last := r.lastPage(); last > r.PageCount {
			r.PageCount = last
		}
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := &Record{
		PageCount: r.PageCount,
		Pages:     make(map[int]*VisitLog, len(r.Pages)),
		tolerance: r.tolerance,
	}
	for page, l := range r.Pages {
		c.Pages[page] = &VisitLog{
			Raw:   append([]int64(nil), l.Raw...),
			Spans: append([]Interval(nil), l.Spans...),
		}
	}
	return c
}

// PageNumbers returns the visited pages in ascending order.
func (r *Record) PageNumbers() []int {
	pages := make([]int, 0, len(r.Pages))
	for p := range r.Pages {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// Spans returns the compact form of page. Raw samples not yet finalized are
// included.
func (r *Record) Spans(page int) []Interval {
	l, ok := r.Pages[page]
	if !ok {
		return []Interval{}
	}
	if len(l.Raw) == 0 {
		return append([]Interval{}, l.Spans...)
	}
	spans := append([]Interval{}, l.Spans...)
	for _, t := range l.Raw {
		spans = append(spans, Interval{Start: t, End: t})
	}
	return Coalesce(spans, r.tolerance)
}

// PageDwell is the reading time of page in seconds.
func (r *Record) PageDwell(page int, floor int64) int64 {
	return Dwell(r.Spans(page), floor)
}

// TotalDwell is the reading time of the whole document in seconds.
func (r *Record) TotalDwell(floor int64) int64 {
	var total int64
	for p := range r.Pages {
		total += r.PageDwell(p, floor)
	}
	return total
}

// VisitCount is the number of separate reading spans on page.
func (r *Record) VisitCount(page int) int {
	return len(r.Spans(page))
}

// Equal reports whether both records hold the same page count and compact
// visits. Raw samples are compared after compression.
func (r *Record) Equal(other *Record) bool {
	if other == nil || r.PageCount != other.PageCount {
		return false
	}
	a, b := r.PageNumbers(), other.PageNumbers()
	if len(a) != len(b) {
		return false
	}
	for i, p := range a {
		if b[i] != p {
			return false
		}
		sa, sb := r.Spans(p), other.Spans(p)
		if len(sa) != len(sb) {
			return false
		}
		for j := range sa {
			if sa[j] != sb[j] {
				return false
			}
		}
	}
	return true
}
