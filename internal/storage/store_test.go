package storage

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore creates a migrated, file-backed store in a temp directory.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

// recordNotifications subscribes to the store and collects notifications.
func recordNotifications(t *testing.T, store *SQLiteStore) *[]Notification {
	t.Helper()
	var got []Notification
	unsubscribe := store.Subscribe(func(_ context.Context, n Notification) {
		got = append(got, n)
	})
	t.Cleanup(unsubscribe)
	return &got
}

// --- Put + Get roundtrip ---

func TestPut_Get_Roundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := &Object{
		Key:       "DOC1",
		LibraryID: 1,
		Kind:      KindDocument,
		Title:     "Attention Is All You Need",
		Tags:      []string{"ml", "to-read"},
	}
	require.NoError(t, store.Put(ctx, doc))
	assert.Equal(t, int64(1), doc.Version)

	got, err := store.Get(ctx, "DOC1")
	require.NoError(t, err)
	assert.Equal(t, "DOC1", got.Key)
	assert.Equal(t, KindDocument, got.Kind)
	assert.Equal(t, "Attention Is All You Need", got.Title)
	assert.Equal(t, []string{"ml", "to-read"}, got.Tags)
	assert.False(t, got.Deleted)
	assert.False(t, got.UpdatedAt.IsZero(), "updated_at should be set")
}

func TestPut_BumpsVersionAndNotifies(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	events := recordNotifications(t, store)

	obj := &Object{Key: "N1", Kind: KindNote, Body: "first"}
	require.NoError(t, store.Put(ctx, obj))
	obj.Body = "second"
	require.NoError(t, store.Put(ctx, obj))

	got, err := store.Get(ctx, "N1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "second", got.Body)

	require.Len(t, *events, 2)
	assert.Equal(t, EventCreate, (*events)[0].Event)
	assert.Equal(t, EventModify, (*events)[1].Event)
	assert.Equal(t, "second", (*events)[1].Objects[0].Body)
}

func TestPut_RejectsEmptyKeyOrKind(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.Put(ctx, &Object{Kind: KindNote}))
	assert.Error(t, store.Put(ctx, &Object{Key: "X"}))
}

func TestGet_NotFound(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, got)
}

// --- ScanChildren ---

func TestScanChildren_ExcludesTrashed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Object{Key: "P", Kind: KindItem}))
	require.NoError(t, store.Put(ctx, &Object{Key: "C1", Kind: KindNote, ParentKey: "P"}))
	require.NoError(t, store.Put(ctx, &Object{Key: "C2", Kind: KindNote, ParentKey: "P"}))
	require.NoError(t, store.Put(ctx, &Object{Key: "C3", Kind: KindNote, ParentKey: "P", Deleted: true}))

	children, err := store.ScanChildren(ctx, "P")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "C1", children[0].Key)
	assert.Equal(t, "C2", children[1].Key)
}

func TestScanChildren_EmptyIsNotNil(t *testing.T) {
	store := openTestStore(t)

	children, err := store.ScanChildren(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, children)
	assert.Empty(t, children)
}

// --- Trash / Restore / Erase ---

func TestTrash_CascadesToChildren(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Object{Key: "P", Kind: KindItem}))
	require.NoError(t, store.Put(ctx, &Object{Key: "C1", Kind: KindNote, ParentKey: "P"}))
	require.NoError(t, store.Put(ctx, &Object{Key: "OTHER", Kind: KindNote}))
	events := recordNotifications(t, store)

	require.NoError(t, store.Trash(ctx, "P"))

	for _, k := range []string{"P", "C1"} {
		o, err := store.Get(ctx, k)
		require.NoError(t, err)
		assert.True(t, o.Deleted, "%s should be trashed", k)
	}
	other, err := store.Get(ctx, "OTHER")
	require.NoError(t, err)
	assert.False(t, other.Deleted)

	require.Len(t, *events, 1)
	assert.Equal(t, EventTrash, (*events)[0].Event)
	assert.Equal(t, []string{"P", "C1"}, (*events)[0].Keys())
	assert.False(t, (*events)[0].Objects[0].Deleted, "snapshot should hold pre-trash state")
}

func TestTrash_MissingKey(t *testing.T) {
	store := openTestStore(t)

	err := store.Trash(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestore_OnlyTrashed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Object{Key: "A", Kind: KindNote}))
	require.NoError(t, store.Put(ctx, &Object{Key: "B", Kind: KindNote}))
	require.NoError(t, store.Trash(ctx, "A"))
	events := recordNotifications(t, store)

	require.NoError(t, store.Restore(ctx, "A", "B"))

	a, err := store.Get(ctx, "A")
	require.NoError(t, err)
	assert.False(t, a.Deleted)

	require.Len(t, *events, 1)
	assert.Equal(t, []string{"A"}, (*events)[0].Keys())
}

func TestErase_RemovesSubtree(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Object{Key: "P", Kind: KindItem}))
	require.NoError(t, store.Put(ctx, &Object{Key: "C1", Kind: KindNote, ParentKey: "P", Body: "keep me"}))
	require.NoError(t, store.Put(ctx, &Object{Key: "C2", Kind: KindNote, ParentKey: "P", Deleted: true}))
	events := recordNotifications(t, store)

	require.NoError(t, store.Erase(ctx, "P"))

	for _, k := range []string{"P", "C1", "C2"} {
		_, err := store.Get(ctx, k)
		assert.ErrorIs(t, err, ErrNotFound, "%s should be erased", k)
	}

	require.Len(t, *events, 1)
	assert.Equal(t, EventErase, (*events)[0].Event)
	assert.ElementsMatch(t, []string{"P", "C1", "C2"}, (*events)[0].Keys())
	assert.Equal(t, "P", (*events)[0].Objects[0].Key, "parents come first")
}

// --- Search ---

func TestSearch_Filters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seed := []*Object{
		{Key: "D1", LibraryID: 1, Kind: KindDocument, Title: "Golang in Practice"},
		{Key: "D2", LibraryID: 2, Kind: KindDocument, Title: "Rust in Action"},
		{Key: "N1", LibraryID: 1, Kind: KindNote, ParentKey: "D1", Body: "golang notes"},
		{Key: "N2", LibraryID: 1, Kind: KindNote, ParentKey: "D1", Deleted: true},
	}
	for _, o := range seed {
		require.NoError(t, store.Put(ctx, o))
	}

	tests := []struct {
		name string
		q    SearchQuery
		want []string
	}{
		{"by library", SearchQuery{LibraryID: 1}, []string{"D1", "N1"}},
		{"by kind", SearchQuery{Kind: KindDocument}, []string{"D1", "D2"}},
		{"by parent", SearchQuery{ParentKey: "D1"}, []string{"N1"}},
		{"with trashed", SearchQuery{ParentKey: "D1", IncludeTrashed: true}, []string{"N1", "N2"}},
		{"by text", SearchQuery{Text: "golang"}, []string{"D1", "N1"}},
		{"limit", SearchQuery{Limit: 1}, []string{"D1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.Search(ctx, tc.q)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// --- Libraries, audit, stats ---

func TestLibraryName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	name, err := store.LibraryName(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "My Library", name)

	require.NoError(t, store.SetLibraryName(ctx, 7, "Group Papers"))
	name, err = store.LibraryName(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Group Papers", name)

	name, err = store.LibraryName(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestAudit_RecentFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Audit(ctx, "restore", "first", "K1"))
	require.NoError(t, store.Audit(ctx, "warn", "second", "K2"))

	entries, err := store.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0].Action)
	assert.Equal(t, "K2", entries[0].ObjectKey)
	assert.Equal(t, "restore", entries[1].Action)
}

func TestGetStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Object{Key: "D1", Kind: KindDocument}))
	require.NoError(t, store.Put(ctx, &Object{Key: "D2", Kind: KindDocument, Deleted: true}))
	require.NoError(t, store.Put(ctx, &Object{Key: "N1", Kind: KindNote}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalObjects)
	assert.Equal(t, int64(1), stats.Documents)
	assert.Equal(t, int64(1), stats.Notes)
	assert.Equal(t, int64(1), stats.Trashed)
	assert.Equal(t, int64(1), stats.Libraries)
	assert.Greater(t, stats.DatabaseSizeBytes, int64(0))
}

func TestObject_HasTag(t *testing.T) {
	o := &Object{Tags: []string{"a", "b"}}
	assert.True(t, o.HasTag("x", "b"))
	assert.False(t, o.HasTag("x"))
	assert.False(t, o.HasTag())
}
