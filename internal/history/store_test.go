package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/readtrail/internal/storage"
)

var testOpts = Options{Tolerance: 20, DwellFloor: 10, ExcludedTags: []string{"private"}}

func openObjects(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	objects, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { objects.Close() })
	return objects
}

func putDocument(t *testing.T, objects storage.ObjectStore, key, title string, tags ...string) {
	t.Helper()
	require.NoError(t, objects.Put(context.Background(), &storage.Object{
		Key:       key,
		LibraryID: 1,
		Kind:      storage.KindDocument,
		Title:     title,
		Tags:      tags,
	}))
}

func TestUpsert_CreatesMainItemAndNote(t *testing.T) {
	ctx := context.Background()
	objects := openObjects(t)
	s := NewStore(1, objects, testOpts, nil)

	rec := buildRecord(t, 10, map[int][]int64{3: {1, 2, 50}})
	require.NoError(t, s.Upsert(ctx, "DOC1", rec))

	main, err := objects.Get(ctx, MainItemKey(1))
	require.NoError(t, err)
	assert.True(t, IsMainItem(main))

	notes, err := objects.ScanChildren(ctx, main.Key)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.True(t, IsHistoryNote(&notes[0]))
	assert.Equal(t, "DOC1", notes[0].RelatedKey)

	got, ok := s.Get("DOC1")
	require.True(t, ok)
	assert.True(t, got.Equal(rec))
}

func TestUpsert_ReusesNote(t *testing.T) {
	ctx := context.Background()
	objects := openObjects(t)
	s := NewStore(1, objects, testOpts, nil)

	rec := buildRecord(t, 2, map[int][]int64{1: {100}})
	require.NoError(t, s.Upsert(ctx, "DOC1", rec))
	require.NoError(t, rec.RecordVisit(2, 500))
	require.NoError(t, s.Upsert(ctx, "DOC1", rec))

	notes, err := objects.ScanChildren(ctx, MainItemKey(1))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, int64(2), notes[0].Version)
}

func TestGet_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore(1, openObjects(t), testOpts, nil)
	require.NoError(t, s.Upsert(ctx, "DOC1", buildRecord(t, 1, map[int][]int64{1: {5}})))

	got, _ := s.Get("DOC1")
	require.NoError(t, got.RecordVisit(1, 999))
	again, _ := s.Get("DOC1")
	assert.Equal(t, 1, again.VisitCount(1))

	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestLoadAll_RebuildsIndex(t *testing.T) {
	ctx := context.Background()
	objects := openObjects(t)
	writer := NewStore(1, objects, testOpts, nil)
	require.NoError(t, writer.Upsert(ctx, "A", buildRecord(t, 3, map[int][]int64{1: {10}})))
	require.NoError(t, writer.Upsert(ctx, "B", buildRecord(t, 5, map[int][]int64{2: {10, 20}})))

	reader := NewStore(1, objects, testOpts, nil)
	report, err := reader.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, LoadReport{Loaded: 2}, report)
	assert.Equal(t, []string{"A", "B"}, reader.Keys())

	b, ok := reader.Get("B")
	require.True(t, ok)
	assert.Equal(t, []Interval{{10, 20}}, b.Spans(2))
}

func TestLoadAll_SkipsForeignAndMalformedNotes(t *testing.T) {
	ctx := context.Background()
	objects := openObjects(t)
	s := NewStore(1, objects, testOpts, nil)
	require.NoError(t, s.Upsert(ctx, "A", buildRecord(t, 3, map[int][]int64{1: {10}})))

	require.NoError(t, objects.Put(ctx, &storage.Object{
		Key: "user-note", LibraryID: 1, Kind: storage.KindNote,
		ParentKey: MainItemKey(1), Body: "remember the milk",
	}))
	require.NoError(t, objects.Put(ctx, &storage.Object{
		Key: "broken", LibraryID: 1, Kind: storage.KindNote,
		ParentKey: MainItemKey(1), Body: "readtrail#B\n{not json",
	}))

	fresh := NewStore(1, objects, testOpts, nil)
	report, err := fresh.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, []string{"A"}, fresh.Keys())
}

func TestLoadAll_MergesDuplicateNotes(t *testing.T) {
	ctx := context.Background()
	objects := openObjects(t)
	s := NewStore(1, objects, testOpts, nil)
	require.NoError(t, s.Upsert(ctx, "A", buildRecord(t, 3, map[int][]int64{1: {10}})))

	dupBody, err := EncodeNote("A", buildRecord(t, 6, map[int][]int64{2: {500}}))
	require.NoError(t, err)
	require.NoError(t, objects.Put(ctx, &storage.Object{
		Key: "zz-duplicate", LibraryID: 1, Kind: storage.KindNote,
		ParentKey: MainItemKey(1), RelatedKey: "A", Body: dupBody,
	}))

	fresh := NewStore(1, objects, testOpts, nil)
	report, err := fresh.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)

	rec, ok := fresh.Get("A")
	require.True(t, ok)
	assert.Equal(t, 6, rec.PageCount)
	assert.Equal(t, []int{1, 2}, rec.PageNumbers())

	notes, err := objects.ScanChildren(ctx, MainItemKey(1))
	require.NoError(t, err)
	assert.Len(t, notes, 1, "extra notes are erased after merging")
}

func TestLoadAll_NoMainItem(t *testing.T) {
	s := NewStore(1, openObjects(t), testOpts, nil)
	report, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LoadReport{}, report)
	assert.Equal(t, 0, s.Len())
}

func TestUpsert_RepairsTrashedMainItem(t *testing.T) {
	ctx := context.Background()
	objects := openObjects(t)
	s := NewStore(1, objects, testOpts, nil)
	require.NoError(t, s.Upsert(ctx, "A", buildRecord(t, 1, map[int][]int64{1: {1}})))
	require.NoError(t, objects.Trash(ctx, MainItemKey(1)))

	require.NoError(t, s.Upsert(ctx, "A", buildRecord(t, 1, map[int][]int64{1: {1, 2}})))
	main, err := objects.Get(ctx, MainItemKey(1))
	require.NoError(t, err)
	assert.False(t, main.Deleted)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	objects := openObjects(t)
	s := NewStore(1, objects, testOpts, nil)
	require.NoError(t, s.Upsert(ctx, "A", buildRecord(t, 1, map[int][]int64{1: {1}})))
	require.NoError(t, s.Upsert(ctx, "B", buildRecord(t, 1, map[int][]int64{1: {1}})))

	require.NoError(t, s.Clear(ctx, "A"))
	_, ok := s.Get("A")
	assert.False(t, ok)
	assert.NoError(t, s.Clear(ctx, "never-tracked"))

	notes, err := objects.ScanChildren(ctx, MainItemKey(1))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "B", notes[0].RelatedKey)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	objects := openObjects(t)
	s := NewStore(1, objects, testOpts, nil)
	require.NoError(t, s.Upsert(ctx, "A", buildRecord(t, 1, map[int][]int64{1: {1}})))

	require.NoError(t, s.ClearAll(ctx))
	assert.Equal(t, 0, s.Len())
	_, err := objects.Get(ctx, MainItemKey(1))
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.NoError(t, s.ClearAll(ctx))
}

func TestPrune_RemovesMissingDocuments(t *testing.T) {
	ctx := context.Background()
	objects := openObjects(t)
	putDocument(t, objects, "KEEP", "Kept")
	putDocument(t, objects, "TRASHED", "Trashed")
	require.NoError(t, objects.Trash(ctx, "TRASHED"))

	s := NewStore(1, objects, testOpts, nil)
	for _, k := range []string{"KEEP", "TRASHED", "GONE"} {
		require.NoError(t, s.Upsert(ctx, k, buildRecord(t, 1, map[int][]int64{1: {1}})))
	}

	removed, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"KEEP", "TRASHED"}, s.Keys())
}

func TestSnapshot_ResolvesTitles(t *testing.T) {
	ctx := context.Background()
	objects := openObjects(t)
	putDocument(t, objects, "A", "Alpha")
	s := NewStore(1, objects, testOpts, nil)
	require.NoError(t, s.Upsert(ctx, "A", buildRecord(t, 1, map[int][]int64{1: {1}})))
	require.NoError(t, s.Upsert(ctx, "Z", buildRecord(t, 1, map[int][]int64{1: {1}})))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "My Library", snap.LibraryName)
	require.Len(t, snap.Documents, 2)
	assert.Equal(t, "Alpha", snap.Documents[0].Title)
	assert.Equal(t, "Z", snap.Documents[1].Title, "missing documents fall back to their key")

	other := NewStore(7, objects, testOpts, nil)
	snap, err = other.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Library 7", snap.LibraryName)
	assert.NotNil(t, snap.Documents)
	assert.Empty(t, snap.Documents)
}
