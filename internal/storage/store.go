package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SQLiteStore implements ObjectStore backed by a SQLite database. Every
// committed mutation is announced to subscribers.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements
	upsertObject  *sql.Stmt
	getObject     *sql.Stmt
	scanChildren  *sql.Stmt
	setDeleted    *sql.Stmt
	deleteObject  *sql.Stmt
	insertAudit   *sql.Stmt
	upsertLibrary *sql.Stmt

	subMu  sync.RWMutex
	subs   map[int]func(ctx context.Context, n Notification)
	nextID int
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{
		db:   db,
		subs: make(map[int]func(ctx context.Context, n Notification)),
	}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

const objectColumns = `key, library_id, kind, parent_key, related_key, title, body, tags, deleted, version, updated_at`

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.upsertObject, err = s.db.Prepare(`
		INSERT INTO objects (` + objectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			library_id  = excluded.library_id,
			kind        = excluded.kind,
			parent_key  = excluded.parent_key,
			related_key = excluded.related_key,
			title       = excluded.title,
			body        = excluded.body,
			tags        = excluded.tags,
			deleted     = excluded.deleted,
			version     = excluded.version,
			updated_at  = excluded.updated_at
	`)
	if err != nil {
		return err
	}

	s.getObject, err = s.db.Prepare(`SELECT ` + objectColumns + ` FROM objects WHERE key = ?`)
	if err != nil {
		return err
	}

	s.scanChildren, err = s.db.Prepare(`
		SELECT ` + objectColumns + ` FROM objects
		WHERE parent_key = ? AND deleted = 0
		ORDER BY key
	`)
	if err != nil {
		return err
	}

	s.setDeleted, err = s.db.Prepare(`UPDATE objects SET deleted = ?, updated_at = ? WHERE key = ?`)
	if err != nil {
		return err
	}

	s.deleteObject, err = s.db.Prepare(`DELETE FROM objects WHERE key = ?`)
	if err != nil {
		return err
	}

	s.insertAudit, err = s.db.Prepare(`INSERT INTO audit_log (action, detail, object_key) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}

	s.upsertLibrary, err = s.db.Prepare(`
		INSERT INTO libraries (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`)
	if err != nil {
		return err
	}

	return nil
}

// Subscribe registers fn for change notifications. Notifications are
// delivered synchronously, after the mutation has been committed, on the
// goroutine that performed it.
func (s *SQLiteStore) Subscribe(fn func(ctx context.Context, n Notification)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *SQLiteStore) notify(ctx context.Context, n Notification) {
	if len(n.Objects) == 0 {
		return
	}
	s.subMu.RLock()
	fns := make([]func(ctx context.Context, n Notification), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ctx, n)
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(r rowScanner) (Object, error) {
	var (
		o       Object
		kind    string
		tagsStr string
		tsStr   string
	)
	if err := r.Scan(
		&o.Key, &o.LibraryID, &kind, &o.ParentKey, &o.RelatedKey,
		&o.Title, &o.Body, &tagsStr, &o.Deleted, &o.Version, &tsStr,
	); err != nil {
		return Object{}, err
	}
	o.Kind = Kind(kind)
	if tagsStr != "" {
		if err := json.Unmarshal([]byte(tagsStr), &o.Tags); err != nil {
			return Object{}, fmt.Errorf("decode tags of %s: %w", o.Key, err)
		}
	}
	o.UpdatedAt, _ = parseTimestamp(tsStr)
	return o, nil
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// Put inserts or replaces an object. Version is bumped on every write and
// written back into obj.
func (s *SQLiteStore) Put(ctx context.Context, obj *Object) error {
	if obj.Key == "" {
		return fmt.Errorf("put object: empty key")
	}
	if obj.Kind == "" {
		return fmt.Errorf("put object %s: empty kind", obj.Key)
	}

	event := EventCreate
	obj.Version = 1
	prev, err := s.Get(ctx, obj.Key)
	switch {
	case err == nil:
		event = EventModify
		obj.Version = prev.Version + 1
	case !errors.Is(err, ErrNotFound):
		return err
	}

	tags := obj.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	obj.UpdatedAt = time.Now().UTC()
	_, err = s.upsertObject.ExecContext(ctx,
		obj.Key, obj.LibraryID, string(obj.Kind), obj.ParentKey, obj.RelatedKey,
		obj.Title, obj.Body, string(tagsJSON), obj.Deleted, obj.Version,
		obj.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put object %s: %w", obj.Key, err)
	}

	s.notify(ctx, Notification{Event: event, Objects: []Object{*obj}})
	return nil
}

// Get retrieves a single object by key, including trashed ones.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Object, error) {
	o, err := scanObject(s.getObject.QueryRowContext(ctx, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return &o, nil
}

// ScanChildren returns the live (not trashed) children of parentKey.
func (s *SQLiteStore) ScanChildren(ctx context.Context, parentKey string) ([]Object, error) {
	rows, err := s.scanChildren.QueryContext(ctx, parentKey)
	if err != nil {
		return nil, fmt.Errorf("scan children: %w", err)
	}
	return collectObjects(rows)
}

func collectObjects(rows *sql.Rows) ([]Object, error) {
	defer rows.Close()

	objs := []Object{}
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		objs = append(objs, o)
	}
	return objs, rows.Err()
}

// subtree returns the objects named by keys followed by all their
// descendants, parents before children. Rows are fully drained before the
// next query so the store works with a single connection.
func (s *SQLiteStore) subtree(ctx context.Context, keys []string, includeTrashed bool) ([]Object, error) {
	var out []Object
	seen := make(map[string]bool)

	for _, k := range keys {
		o, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if seen[o.Key] || (o.Deleted && !includeTrashed) {
			continue
		}
		seen[o.Key] = true
		out = append(out, *o)
	}

	query := `SELECT ` + objectColumns + ` FROM objects WHERE parent_key = ?`
	if !includeTrashed {
		query += ` AND deleted = 0`
	}
	query += ` ORDER BY key`

	for i := 0; i < len(out); i++ {
		rows, err := s.db.QueryContext(ctx, query, out[i].Key)
		if err != nil {
			return nil, fmt.Errorf("descendants of %s: %w", out[i].Key, err)
		}
		children, err := collectObjects(rows)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if !seen[c.Key] {
				seen[c.Key] = true
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// Trash moves objects and their live descendants to the trash.
func (s *SQLiteStore) Trash(ctx context.Context, keys ...string) error {
	objs, err := s.subtree(ctx, keys, false)
	if err != nil {
		return fmt.Errorf("trash: %w", err)
	}

	if err := s.setDeletedFlag(ctx, objs, true); err != nil {
		return fmt.Errorf("trash: %w", err)
	}

	s.notify(ctx, Notification{Event: EventTrash, Objects: objs})
	return nil
}

// Restore takes objects out of the trash. Keys that are not trashed are
// ignored.
func (s *SQLiteStore) Restore(ctx context.Context, keys ...string) error {
	var restored []Object
	for _, k := range keys {
		o, err := s.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		if o.Deleted {
			o.Deleted = false
			restored = append(restored, *o)
		}
	}

	if err := s.setDeletedFlag(ctx, restored, false); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	s.notify(ctx, Notification{Event: EventRestore, Objects: restored})
	return nil
}

func (s *SQLiteStore) setDeletedFlag(ctx context.Context, objs []Object, deleted bool) error {
	if len(objs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC().Format(time.RFC3339Nano)
	stmt := tx.StmtContext(ctx, s.setDeleted)
	for _, o := range objs {
		if _, err := stmt.ExecContext(ctx, deleted, now, o.Key); err != nil {
			return fmt.Errorf("update %s: %w", o.Key, err)
		}
	}
	return tx.Commit()
}

// Erase permanently deletes objects and all their descendants, trashed or not.
func (s *SQLiteStore) Erase(ctx context.Context, keys ...string) error {
	objs, err := s.subtree(ctx, keys, true)
	if err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	if len(objs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := tx.StmtContext(ctx, s.deleteObject)
	for _, o := range objs {
		if _, err := stmt.ExecContext(ctx, o.Key); err != nil {
			return fmt.Errorf("erase %s: %w", o.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("erase: %w", err)
	}

	s.notify(ctx, Notification{Event: EventErase, Objects: objs})
	return nil
}

// Search returns the keys of objects matching q, ordered by key.
func (s *SQLiteStore) Search(ctx context.Context, q SearchQuery) ([]string, error) {
	var clauses []string
	var args []interface{}

	if q.LibraryID != 0 {
		clauses = append(clauses, "library_id = ?")
		args = append(args, q.LibraryID)
	}
	if q.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.ParentKey != "" {
		clauses = append(clauses, "parent_key = ?")
		args = append(args, q.ParentKey)
	}
	if q.Text != "" {
		clauses = append(clauses, "(title LIKE ? OR body LIKE ?)")
		like := "%" + q.Text + "%"
		args = append(args, like, like)
	}
	if !q.IncludeTrashed {
		clauses = append(clauses, "deleted = 0")
	}

	query := "SELECT key FROM objects"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY key"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SetLibraryName records the display name of a library.
func (s *SQLiteStore) SetLibraryName(ctx context.Context, id int64, name string) error {
	if _, err := s.upsertLibrary.ExecContext(ctx, id, name); err != nil {
		return fmt.Errorf("set library name: %w", err)
	}
	return nil
}

// LibraryName returns the display name of a library, or "" when unknown.
func (s *SQLiteStore) LibraryName(ctx context.Context, id int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT name FROM libraries WHERE id = ?", id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("library name: %w", err)
	}
	return name, nil
}

// Audit appends an entry to the audit log.
func (s *SQLiteStore) Audit(ctx context.Context, action, detail, objectKey string) error {
	if _, err := s.insertAudit.ExecContext(ctx, action, detail, objectKey); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	Action    string
	Detail    string
	ObjectKey string
	Timestamp time.Time
}

// RecentAudit returns the newest audit entries first.
func (s *SQLiteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT action, detail, COALESCE(object_key, ''), ts FROM audit_log ORDER BY id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var tsStr string
		if err := rows.Scan(&e.Action, &e.Detail, &e.ObjectKey, &tsStr); err != nil {
			return nil, err
		}
		e.Timestamp, _ = parseTimestamp(tsStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetStats returns aggregate statistics about the database.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM objects", &stats.TotalObjects},
		{"SELECT COUNT(*) FROM objects WHERE kind = 'document' AND deleted = 0", &stats.Documents},
		{"SELECT COUNT(*) FROM objects WHERE kind = 'note' AND deleted = 0", &stats.Notes},
		{"SELECT COUNT(*) FROM objects WHERE deleted = 1", &stats.Trashed},
		{"SELECT COUNT(*) FROM libraries", &stats.Libraries},
		{"SELECT COUNT(*) FROM audit_log", &stats.AuditEntries},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats (%s): %w", c.query, err)
		}
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DatabaseSizeBytes = pageCount * pageSize
		}
	}

	return stats, nil
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.upsertObject, s.getObject, s.scanChildren, s.setDeleted,
		s.deleteObject, s.insertAudit, s.upsertLibrary,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
