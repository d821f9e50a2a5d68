package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/runnerr0/readtrail/internal/storage"
)

const (
	// NoteMarker prefixes the body of every history note, followed by the
	// document key and a newline.
	NoteMarker = "readtrail#"
	// MainItemMarker prefixes the body of every library's main item.
	MainItemMarker = "readtrail-main#"

	mainItemKeyPrefix = "readtrail-main-"
)

// MainItemKey is the deterministic key of a library's main item.
func MainItemKey(libraryID int64) string {
	return mainItemKeyPrefix + strconv.FormatInt(libraryID, 10)
}

// IsMainItemKey reports whether key has the shape of a main item key.
func IsMainItemKey(key string) bool {
	_, err := strconv.ParseInt(strings.TrimPrefix(key, mainItemKeyPrefix), 10, 64)
	return strings.HasPrefix(key, mainItemKeyPrefix) && err == nil
}

// IsMainItem reports whether obj is a library's synthetic anchor item.
func IsMainItem(obj *storage.Object) bool {
	return obj != nil && obj.Kind == storage.KindItem && strings.HasPrefix(obj.Body, MainItemMarker)
}

// IsHistoryNote reports whether obj is a note carrying a serialized record.
func IsHistoryNote(obj *storage.Object) bool {
	return obj != nil && obj.Kind == storage.KindNote && strings.HasPrefix(obj.Body, NoteMarker)
}

// ParseError reports malformed history data: a corrupt note body or a
// malformed legacy export. Callers skip the offending record and continue.
type ParseError struct {
	Source string // note key, file name or item key
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "parse " + e.Source + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// noteJSON is the persisted form of a finalized record.
type noteJSON struct {
	NumPages int                   `json:"numPages"`
	Pages    map[string][]Interval `json:"pages"`
}

// EncodeNote serializes a finalized copy of rec into a history note body.
func EncodeNote(documentKey string, rec *Record) (string, error) {
	if documentKey == "" || strings.ContainsAny(documentKey, "\n") {
		return "", fmt.Errorf("encode note: invalid document key %q", documentKey)
	}
	c := rec.Clone()
	c.Finalize()

	out := noteJSON{NumPages: c.PageCount, Pages: make(map[string][]Interval, len(c.Pages))}
	for page, l := range c.Pages {
		out.Pages[strconv.Itoa(page)] = l.Spans
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode note: %w", err)
	}
	return NoteMarker + documentKey + "\n" + string(data), nil
}

// DecodeNote parses a history note body. Any failure is a *ParseError.
func DecodeNote(source, body string, tolerance int64) (string, *Record, error) {
	if !strings.HasPrefix(body, NoteMarker) {
		return "", nil, &ParseError{Source: source, Reason: "missing history marker"}
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(body, NoteMarker), "\n")
	if !ok || header == "" {
		return "", nil, &ParseError{Source: source, Reason: "missing document key"}
	}

	var in noteJSON
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return "", nil, &ParseError{Source: source, Reason: "invalid record payload", Err: err}
	}
	if in.NumPages < 0 {
		return "", nil, &ParseError{Source: source, Reason: fmt.Sprintf("negative page count %d", in.NumPages)}
	}

	rec := NewRecord(tolerance)
	rec.PageCount = in.NumPages
	pageKeys := make([]string, 0, len(in.Pages))
	for k := range in.Pages {
		pageKeys = append(pageKeys, k)
	}
	sort.Strings(pageKeys)
	for _, k := range pageKeys {
		page, err := strconv.Atoi(k)
		if err != nil || page < 1 {
			return "", nil, &ParseError{Source: source, Reason: fmt.Sprintf("invalid page %q", k)}
		}
		if len(in.Pages[k]) == 0 {
			continue
		}
		for _, iv := range in.Pages[k] {
			if !ValidTimestamp(iv.Start) || !ValidTimestamp(iv.End) {
				return "", nil, &ParseError{Source: source, Reason: fmt.Sprintf("page %d: timestamp out of range", page)}
			}
		}
		rec.Pages[page] = &VisitLog{Spans: in.Pages[k]}
	}
	rec.Finalize()
	if rec.PageCount > 0 {
		if last := rec.lastPage(); last > rec.PageCount {
			rec.PageCount = last
		}
	}
	return header, rec, nil
}
