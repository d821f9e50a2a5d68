package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/runnerr0/readtrail/internal/metrics"
	"github.com/runnerr0/readtrail/internal/storage"
)

// Options tune how records are compressed and summarized.
type Options struct {
	// Tolerance is the largest gap, in seconds, between two samples of the
	// same reading span.
	Tolerance int64
	// DwellFloor is the reading time credited to a single observation,
	// normally one scan period.
	DwellFloor int64
	// ExcludedTags keeps tagged documents out of library aggregates.
	ExcludedTags []string
}

// LibraryNamer is implemented by object stores that know library display
// names.
type LibraryNamer interface {
	LibraryName(ctx context.Context, id int64) (string, error)
}

// LoadReport summarizes a LoadAll scan.
type LoadReport struct {
	Loaded     int
	Skipped    int
	Duplicates int
}

// Store maps document keys of one library to their records and persists
// them as history notes under the library's main item.
type Store struct {
	libraryID int64
	objects   storage.ObjectStore
	logger    *slog.Logger

	optsMu sync.RWMutex
	opts   Options

	mainMu sync.Mutex

	mu       sync.RWMutex
	records  map[string]*Record
	noteKeys map[string]string
}

// NewStore returns an empty store for one library. Call LoadAll to populate
// it from existing notes.
func NewStore(libraryID int64, objects storage.ObjectStore, opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		libraryID: libraryID,
		objects:   objects,
		opts:      opts,
		logger:    logger.With(slog.String("component", "history"), slog.Int64("library", libraryID)),
		records:   make(map[string]*Record),
		noteKeys:  make(map[string]string),
	}
}

// LibraryID returns the library this store serves.
func (s *Store) LibraryID() int64 { return s.libraryID }

// Options returns the store's tuning options.
func (s *Store) Options() Options {
	s.optsMu.RLock()
	defer s.optsMu.RUnlock()
	return s.opts
}

// SetTiming changes the merge tolerance and dwell floor. Records written
// afterwards are compressed with the new tolerance; stored spans are kept.
func (s *Store) SetTiming(tolerance, floor int64) {
	s.optsMu.Lock()
	s.opts.Tolerance = tolerance
	s.opts.DwellFloor = floor
	s.optsMu.Unlock()
}

// NewRecord returns an empty record using the store's tolerance.
func (s *Store) NewRecord() *Record { return NewRecord(s.Options().Tolerance) }

// Get returns a copy of the record for documentKey.
func (s *Store) Get(documentKey string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[documentKey]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Keys returns the tracked document keys in ascending order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of tracked documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Upsert finalizes a copy of rec and writes it into the document's history
// note, creating the main item and the note when absent.
func (s *Store) Upsert(ctx context.Context, documentKey string, rec *Record) error {
	c := rec.Clone()
	c.SetTolerance(s.Options().Tolerance)
	c.Finalize()

	body, err := EncodeNote(documentKey, c)
	if err != nil {
		return err
	}

	main, err := s.ensureMainItem(ctx)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", documentKey, err)
	}

	s.mu.RLock()
	noteKey := s.noteKeys[documentKey]
	s.mu.RUnlock()
	if noteKey == "" {
		noteKey = ulid.Make().String()
	}

	note := &storage.Object{
		Key:        noteKey,
		LibraryID:  s.libraryID,
		Kind:       storage.KindNote,
		ParentKey:  main.Key,
		RelatedKey: documentKey,
		Title:      "Reading history",
		Body:       body,
	}
	if err := s.objects.Put(ctx, note); err != nil {
		return fmt.Errorf("upsert %s: %w", documentKey, err)
	}

	s.mu.Lock()
	s.records[documentKey] = c
	s.noteKeys[documentKey] = noteKey
	s.mu.Unlock()

	s.logger.Debug("history note written",
		slog.String("document", documentKey),
		slog.String("note", noteKey),
		slog.Int("pages", len(c.Pages)),
	)
	return nil
}

// ensureMainItem returns the library's main item, creating or repairing it.
func (s *Store) ensureMainItem(ctx context.Context) (*storage.Object, error) {
	s.mainMu.Lock()
	defer s.mainMu.Unlock()

	key := MainItemKey(s.libraryID)
	obj, err := s.objects.Get(ctx, key)
	switch {
	case err == nil && IsMainItem(obj) && !obj.Deleted:
		return obj, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("get main item: %w", err)
	}

	main := &storage.Object{
		Key:       key,
		LibraryID: s.libraryID,
		Kind:      storage.KindItem,
		Title:     "Reading history",
		Body:      MainItemMarker + strconv.FormatInt(s.libraryID, 10),
	}
	if err := s.objects.Put(ctx, main); err != nil {
		return nil, fmt.Errorf("create main item: %w", err)
	}
	s.logger.Info("main item created", slog.String("key", key))
	return main, nil
}

// LoadAll rebuilds the index from the notes under the main item. Malformed
// or foreign notes are skipped and counted; duplicate notes for one document
// are merged and the extras erased.
func (s *Store) LoadAll(ctx context.Context) (LoadReport, error) {
	var report LoadReport

	children, err := s.objects.ScanChildren(ctx, MainItemKey(s.libraryID))
	if err != nil {
		return report, fmt.Errorf("load history: %w", err)
	}

	records := make(map[string]*Record)
	noteKeys := make(map[string]string)
	extras := make(map[string][]string)

	for i := range children {
		note := &children[i]
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !IsHistoryNote(note) {
			report.Skipped++
			metrics.NotesSkipped.Inc()
			s.logger.Debug("skipping foreign note", slog.String("note", note.Key))
			continue
		}
		docKey, rec, err := DecodeNote(note.Key, note.Body, s.Options().Tolerance)
		if err != nil {
			report.Skipped++
			metrics.NotesSkipped.Inc()
			s.logger.Warn("skipping malformed history note",
				slog.String("note", note.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if existing, ok := records[docKey]; ok {
			existing.Merge(rec)
			extras[docKey] = append(extras[docKey], note.Key)
			report.Duplicates++
			continue
		}
		records[docKey] = rec
		noteKeys[docKey] = note.Key
		report.Loaded++
	}

	s.mu.Lock()
	s.records = records
	s.noteKeys = noteKeys
	s.mu.Unlock()

	for docKey, noteKeys := range extras {
		if err := s.compactDuplicates(ctx, docKey, noteKeys); err != nil {
			return report, err
		}
	}

	s.logger.Info("history loaded",
		slog.Int("loaded", report.Loaded),
		slog.Int("skipped", report.Skipped),
		slog.Int("duplicates", report.Duplicates),
	)
	return report, nil
}

// compactDuplicates rewrites the merged record of docKey into its primary
// note and erases the extra notes.
func (s *Store) compactDuplicates(ctx context.Context, docKey string, extras []string) error {
	rec, ok := s.Get(docKey)
	if !ok {
		return nil
	}
	if err := s.Upsert(ctx, docKey, rec); err != nil {
		return err
	}
	if err := s.objects.Erase(ctx, extras...); err != nil {
		return fmt.Errorf("erase duplicate notes of %s: %w", docKey, err)
	}
	return nil
}

// Clear deletes the history of one document. This is the only path that
// removes history notes.
func (s *Store) Clear(ctx context.Context, documentKey string) error {
	s.mu.RLock()
	noteKey, ok := s.noteKeys[documentKey]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := s.objects.Erase(ctx, noteKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("clear %s: %w", documentKey, err)
	}

	s.mu.Lock()
	delete(s.records, documentKey)
	delete(s.noteKeys, documentKey)
	s.mu.Unlock()

	s.logger.Info("history cleared", slog.String("document", documentKey))
	return nil
}

// ClearAll deletes the main item and every history note of the library.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mainMu.Lock()
	defer s.mainMu.Unlock()

	err := s.objects.Erase(ctx, MainItemKey(s.libraryID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("clear library history: %w", err)
	}

	s.mu.Lock()
	s.records = make(map[string]*Record)
	s.noteKeys = make(map[string]string)
	s.mu.Unlock()

	s.logger.Info("library history cleared")
	return nil
}

// Prune clears the history of documents that no longer exist in the object
// store and returns how many were removed. Trashed documents are kept: they
// can still come back.
func (s *Store) Prune(ctx context.Context) (int, error) {
	removed := 0
	for _, key := range s.Keys() {
		_, err := s.objects.Get(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return removed, fmt.Errorf("prune: %w", err)
		}
		if err := s.Clear(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// DocumentSnapshot is one tracked document with its resolved title.
type DocumentSnapshot struct {
	Key    string
	Title  string
	Tags   []string
	Record *Record
}

// Snapshot is an in-memory copy of a library's history, with all lookups
// already done, for read-only consumers such as the view builder.
type Snapshot struct {
	LibraryID   int64
	LibraryName string
	Documents   []DocumentSnapshot
}

// Snapshot copies the library's history and resolves document titles.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		LibraryID:   s.libraryID,
		LibraryName: fmt.Sprintf("Library %d", s.libraryID),
		Documents:   []DocumentSnapshot{},
	}
	if namer, ok := s.objects.(LibraryNamer); ok {
		name, err := namer.LibraryName(ctx, s.libraryID)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		if name != "" {
			snap.LibraryName = name
		}
	}

	for _, key := range s.Keys() {
		rec, ok := s.Get(key)
		if !ok {
			continue
		}
		doc := DocumentSnapshot{Key: key, Title: key, Record: rec}
		obj, err := s.objects.Get(ctx, key)
		switch {
		case err == nil:
			if obj.Title != "" {
				doc.Title = obj.Title
			}
			doc.Tags = obj.Tags
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		snap.Documents = append(snap.Documents, doc)
	}
	return snap, nil
}
