// Package legacy imports reading history exported by older versions:
//
//	{"lib": 1, "items": {"<documentKey>": {"n": 10, "p": {"3": {"t": [1, 2, 50]}}}}}
package legacy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/runnerr0/readtrail/internal/history"
)

// Export is a parsed legacy file. Items keep their export order by key.
type Export struct {
	LibraryID int64
	Entries   []Entry
}

// Entry is either a valid Item or the ParseError that rejected it.
type Entry struct {
	Key  string
	Item *Item
	Err  *history.ParseError
}

// Item is one validated legacy document history.
type Item struct {
	PageCount int
	Pages     map[int][]int64
}

// Record builds an attachment record from the item, finalized with
// tolerance.
func (it *Item) Record(tolerance int64) *history.Record {
	rec := history.NewRecord(tolerance)
	for page, ts := range it.Pages {
		for _, t := range ts {
			// page >= 1 is checked during parsing
			_ = rec.RecordVisit(page, t)
		}
	}
	rec.ObservePageCount(it.PageCount)
	rec.Finalize()
	return rec
}

// Parse validates the top level of a legacy export. A non-integer lib or a
// non-object items aborts with a *history.ParseError; problems inside a
// single item only mark that entry.
func Parse(source string, data []byte) (*Export, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &history.ParseError{Source: source, Reason: "export is not a JSON object", Err: err}
	}

	lib, ok := asInt(top["lib"])
	if !ok {
		return nil, &history.ParseError{Source: source, Reason: "lib must be an integer"}
	}

	var items map[string]json.RawMessage
	if !isObject(top["items"]) {
		return nil, &history.ParseError{Source: source, Reason: "items must be an object"}
	}
	if err := json.Unmarshal(top["items"], &items); err != nil {
		return nil, &history.ParseError{Source: source, Reason: "items must be an object", Err: err}
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	exp := &Export{LibraryID: lib, Entries: make([]Entry, 0, len(keys))}
	for _, k := range keys {
		item, perr := parseItem(k, items[k])
		exp.Entries = append(exp.Entries, Entry{Key: k, Item: item, Err: perr})
	}
	return exp, nil
}

type rawItem struct {
	N json.RawMessage            `json:"n"`
	P map[string]json.RawMessage `json:"p"`
}

type rawPage struct {
	T []json.RawMessage `json:"t"`
}

func parseItem(key string, data json.RawMessage) (*Item, *history.ParseError) {
	fail := func(format string, args ...any) (*Item, *history.ParseError) {
		return nil, &history.ParseError{Source: key, Reason: fmt.Sprintf(format, args...)}
	}

	if key == "" {
		return fail("empty document key")
	}
	if !isObject(data) {
		return fail("item is not an object")
	}
	var raw rawItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return fail("item is malformed: %v", err)
	}

	item := &Item{Pages: make(map[int][]int64, len(raw.P))}
	if len(raw.N) > 0 && string(raw.N) != "null" {
		n, ok := asInt(raw.N)
		if !ok || n < 0 {
			return fail("n must be a non-negative integer")
		}
		item.PageCount = int(n)
	}

	for pageKey, pageData := range raw.P {
		page, err := strconv.Atoi(pageKey)
		if err != nil || page < 1 {
			return fail("invalid page %q", pageKey)
		}
		if !isObject(pageData) {
			return fail("page %d is not an object", page)
		}
		var rp rawPage
		if err := json.Unmarshal(pageData, &rp); err != nil {
			return fail("page %d is malformed: %v", page, err)
		}
		ts := make([]int64, 0, len(rp.T))
		for _, v := range rp.T {
			t, ok := asInt(v)
			if !ok {
				return fail("page %d has a non-integer timestamp %s", page, string(v))
			}
			if !history.ValidTimestamp(t) {
				return fail("page %d has an out of range timestamp %d", page, t)
			}
			ts = append(ts, t)
		}
		if len(ts) > 0 {
			item.Pages[page] = ts
		}
	}
	return item, nil
}

// asInt accepts a JSON number without a fractional part.
func asInt(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	n, err := num.Int64()
	if err != nil {
		f, ferr := num.Float64()
		if ferr != nil || f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	}
	return n, true
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
