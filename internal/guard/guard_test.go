package guard

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/readtrail/internal/history"
	"github.com/runnerr0/readtrail/internal/storage"
)

type fixture struct {
	raw     *storage.SQLiteStore
	guard   *Guard
	history *history.Store
	warned  []IntegrityWarning
}

var opts = history.Options{Tolerance: 20, DwellFloor: 10}

// setup wires a guarded store with one tracked document, DOC.
func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "guard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	raw, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	f := &fixture{raw: raw}
	f.guard = New(raw, Options{
		Auditor:   raw,
		OnWarning: func(w IntegrityWarning) { f.warned = append(f.warned, w) },
	})
	t.Cleanup(f.guard.Watch(raw))

	require.NoError(t, raw.Put(ctx, &storage.Object{Key: "DOC", LibraryID: 1, Kind: storage.KindDocument, Title: "Doc"}))
	f.history = history.NewStore(1, f.guard.Internal(), opts, nil)

	rec := history.NewRecord(opts.Tolerance)
	rec.ObservePageCount(10)
	for _, ts := range []int64{1, 2, 50} {
		require.NoError(t, rec.RecordVisit(3, ts))
	}
	require.NoError(t, f.history.Upsert(ctx, "DOC", rec))
	return f
}

func (f *fixture) noteKey(t *testing.T) string {
	t.Helper()
	notes, err := f.raw.ScanChildren(context.Background(), history.MainItemKey(1))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	return notes[0].Key
}

func reload(t *testing.T, objects storage.ObjectStore) *history.Record {
	t.Helper()
	s := history.NewStore(1, objects, opts, nil)
	_, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	rec, ok := s.Get("DOC")
	require.True(t, ok)
	return rec
}

func TestGuard_RestoresTrashedNote(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	before, _ := f.history.Get("DOC")
	noteKey := f.noteKey(t)

	require.NoError(t, f.guard.Trash(ctx, noteKey))

	note, err := f.raw.Get(ctx, noteKey)
	require.NoError(t, err)
	assert.False(t, note.Deleted)
	assert.True(t, reload(t, f.raw).Equal(before))

	keys, err := f.guard.Search(ctx, storage.SearchQuery{ParentKey: history.MainItemKey(1), Kind: storage.KindNote})
	require.NoError(t, err)
	assert.Empty(t, keys, "history notes stay out of search results")

	entries, err := f.raw.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "store_conflict", entries[0].Action)
	assert.Equal(t, noteKey, entries[0].ObjectKey)
}

func TestGuard_RestoresCascadeFromMainItem(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	noteKey := f.noteKey(t)

	require.NoError(t, f.raw.Trash(ctx, history.MainItemKey(1)))

	main, err := f.raw.Get(ctx, history.MainItemKey(1))
	require.NoError(t, err)
	assert.False(t, main.Deleted)
	note, err := f.raw.Get(ctx, noteKey)
	require.NoError(t, err)
	assert.False(t, note.Deleted)
}

func TestGuard_RecreatesErasedNote(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	before, _ := f.history.Get("DOC")
	noteKey := f.noteKey(t)

	require.NoError(t, f.guard.Erase(ctx, noteKey))

	note, err := f.raw.Get(ctx, noteKey)
	require.NoError(t, err)
	assert.True(t, history.IsHistoryNote(note))
	assert.True(t, reload(t, f.raw).Equal(before))
}

func TestGuard_RecreatesErasedMainItemWithNotes(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	before, _ := f.history.Get("DOC")

	require.NoError(t, f.raw.Erase(ctx, history.MainItemKey(1)))

	main, err := f.raw.Get(ctx, history.MainItemKey(1))
	require.NoError(t, err)
	assert.True(t, history.IsMainItem(main))
	assert.True(t, reload(t, f.raw).Equal(before))
}

func TestGuard_LeavesOrdinaryObjectsAlone(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.raw.Put(ctx, &storage.Object{Key: "user-note", LibraryID: 1, Kind: storage.KindNote, ParentKey: "DOC", Body: "my thoughts"}))

	require.NoError(t, f.guard.Trash(ctx, "DOC"))
	doc, err := f.raw.Get(ctx, "DOC")
	require.NoError(t, err)
	assert.True(t, doc.Deleted)

	keys, err := f.guard.Search(ctx, storage.SearchQuery{Kind: storage.KindNote, IncludeTrashed: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"user-note"}, keys)
}

func TestGuard_InternalClearIsNotReverted(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	noteKey := f.noteKey(t)

	require.NoError(t, f.history.Clear(ctx, "DOC"))
	_, err := f.raw.Get(ctx, noteKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, f.history.Upsert(ctx, "DOC", history.NewRecord(opts.Tolerance)))
	require.NoError(t, f.history.ClearAll(ctx))
	_, err = f.raw.Get(ctx, history.MainItemKey(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, f.warned)
}

func TestGuard_WarnsOnDirectModification(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	noteKey := f.noteKey(t)

	note, err := f.raw.Get(ctx, noteKey)
	require.NoError(t, err)
	note.Body = note.Body + " "
	require.NoError(t, f.guard.Put(ctx, note))

	require.Len(t, f.warned, 1)
	assert.Equal(t, noteKey, f.warned[0].NoteKey)
	assert.Equal(t, "DOC", f.warned[0].DocumentKey)
	assert.Len(t, f.guard.Warnings(), 1)

	stored, err := f.raw.Get(ctx, noteKey)
	require.NoError(t, err)
	assert.Equal(t, note.Body, stored.Body, "the modification proceeds")
}

func TestGuard_UpsertThroughInternalDoesNotWarn(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	rec, _ := f.history.Get("DOC")
	require.NoError(t, rec.RecordVisit(4, 100))
	require.NoError(t, f.history.Upsert(ctx, "DOC", rec))
	assert.Empty(t, f.warned)
}

func TestGuard_LibraryNameForwarded(t *testing.T) {
	f := setup(t)
	snap, err := f.history.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "My Library", snap.LibraryName)
}

func TestErrorMessages(t *testing.T) {
	c := &StoreConflict{Event: storage.EventTrash, Key: "k", Kind: storage.KindNote}
	assert.Contains(t, c.Error(), "trash")
	w := &IntegrityWarning{NoteKey: "n", DocumentKey: "d", Version: 3}
	assert.Contains(t, w.Error(), "n")
}
