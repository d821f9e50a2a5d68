// Package guard keeps the history notes and main items of the object store
// intact while the store's generic operations run against them.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/runnerr0/readtrail/internal/history"
	"github.com/runnerr0/readtrail/internal/metrics"
	"github.com/runnerr0/readtrail/internal/storage"
)

// MaxWarnings bounds the warnings kept for Warnings.
const MaxWarnings = 100

// Options configure a Guard.
type Options struct {
	Logger *slog.Logger
	// Auditor receives one entry per repair and per warning. Optional.
	Auditor storage.Auditor
	// OnWarning is called for every integrity warning. Optional.
	OnWarning func(IntegrityWarning)
}

// Guard decorates an object store: searches leave history notes out, and
// once watching the store's notifications it reverts trash and erase of
// protected objects and reports direct edits of history notes.
type Guard struct {
	storage.ObjectStore

	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	allowed  map[string]int
	warnings []IntegrityWarning
}

// New wraps inner.
func New(inner storage.ObjectStore, opts Options) *Guard {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		ObjectStore: inner,
		opts:        opts,
		logger:      logger.With(slog.String("component", "guard")),
		allowed:     make(map[string]int),
	}
}

// Watch subscribes the guard to n and returns the unsubscribe function.
func (g *Guard) Watch(n storage.Notifier) func() {
	return n.Subscribe(g.handle)
}

// Internal returns the privileged handle the history store writes through.
// Mutations made with it are never reverted or reported.
func (g *Guard) Internal() storage.ObjectStore {
	return &internalStore{g: g}
}

// Search runs q on the wrapped store and drops history notes from the
// result.
func (g *Guard) Search(ctx context.Context, q storage.SearchQuery) ([]string, error) {
	keys, err := g.ObjectStore.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.Kind != "" && q.Kind != storage.KindNote {
		return keys, nil
	}

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		obj, err := g.ObjectStore.Get(ctx, k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if g.isHistoryNote(obj) {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

// LibraryName forwards to the wrapped store when it knows library names.
func (g *Guard) LibraryName(ctx context.Context, id int64) (string, error) {
	if namer, ok := g.ObjectStore.(history.LibraryNamer); ok {
		return namer.LibraryName(ctx, id)
	}
	return "", nil
}

// Warnings returns the most recent integrity warnings, oldest first.
func (g *Guard) Warnings() []IntegrityWarning {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]IntegrityWarning{}, g.warnings...)
}

func (g *Guard) isHistoryNote(obj *storage.Object) bool {
	if history.IsHistoryNote(obj) {
		return true
	}
	// a tampered body still sits under the main item
	return obj.Kind == storage.KindNote && history.IsMainItemKey(obj.ParentKey)
}

func (g *Guard) isProtected(obj *storage.Object) bool {
	return history.IsMainItem(obj) || g.isHistoryNote(obj)
}

func (g *Guard) allow(keys []string) {
	g.mu.Lock()
	for _, k := range keys {
		g.allowed[k]++
	}
	g.mu.Unlock()
}

func (g *Guard) release(keys []string) {
	g.mu.Lock()
	for _, k := range keys {
		if g.allowed[k]--; g.allowed[k] <= 0 {
			delete(g.allowed, k)
		}
	}
	g.mu.Unlock()
}

// privileged reports whether obj, or the parent it cascaded from, is being
// mutated through the internal handle.
func (g *Guard) privileged(obj *storage.Object) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowed[obj.Key] > 0 || (obj.ParentKey != "" && g.allowed[obj.ParentKey] > 0)
}

func (g *Guard) handle(ctx context.Context, n storage.Notification) {
	switch n.Event {
	case storage.EventTrash:
		g.revertTrash(ctx, n.Objects)
	case storage.EventErase:
		g.revertErase(ctx, n.Objects)
	case storage.EventModify:
		g.checkModify(ctx, n.Objects)
	}
}

func (g *Guard) revertTrash(ctx context.Context, objs []storage.Object) {
	var keys []string
	var conflicts []*StoreConflict
	for i := range objs {
		obj := &objs[i]
		if !g.isProtected(obj) || g.privileged(obj) {
			continue
		}
		keys = append(keys, obj.Key)
		conflicts = append(conflicts, &StoreConflict{Event: storage.EventTrash, Key: obj.Key, Kind: obj.Kind})
	}
	if len(keys) == 0 {
		return
	}

	if err := g.Internal().Restore(ctx, keys...); err != nil {
		g.logger.Error("restore protected objects failed",
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, c := range conflicts {
		g.reportConflict(ctx, c)
	}
}

func (g *Guard) revertErase(ctx context.Context, objs []storage.Object) {
	internal := g.Internal()
	for i := range objs {
		obj := objs[i]
		if !g.isProtected(&obj) || g.privileged(&obj) {
			continue
		}
		// parents come first in the notification, so notes find their main item
		obj.Deleted = false
		if err := internal.Put(ctx, &obj); err != nil {
			g.logger.Error("re-create protected object failed",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		g.reportConflict(ctx, &StoreConflict{Event: storage.EventErase, Key: obj.Key, Kind: obj.Kind})
	}
}

func (g *Guard) checkModify(ctx context.Context, objs []storage.Object) {
	for i := range objs {
		obj := &objs[i]
		if !g.isHistoryNote(obj) || g.privileged(obj) {
			continue
		}
		w := IntegrityWarning{
			NoteKey:     obj.Key,
			DocumentKey: obj.RelatedKey,
			Version:     obj.Version,
			At:          time.Now().UTC(),
		}
		g.mu.Lock()
		g.warnings = append(g.warnings, w)
		if len(g.warnings) > MaxWarnings {
			g.warnings = g.warnings[len(g.warnings)-MaxWarnings:]
		}
		g.mu.Unlock()

		metrics.IntegrityWarnings.Inc()
		g.logger.Warn("history note modified directly",
			slog.String("note", w.NoteKey),
			slog.String("document", w.DocumentKey),
			slog.Int64("version", w.Version),
		)
		g.audit(ctx, "integrity_warning", w.Error(), w.NoteKey)
		if g.opts.OnWarning != nil {
			g.opts.OnWarning(w)
		}
	}
}

func (g *Guard) reportConflict(ctx context.Context, c *StoreConflict) {
	metrics.GuardRepairs.WithLabelValues(string(c.Event)).Inc()
	g.logger.Warn("reverted operation on protected object",
		slog.String("event", string(c.Event)),
		slog.String("key", c.Key),
		slog.String("kind", string(c.Kind)),
	)
	g.audit(ctx, "store_conflict", c.Error(), c.Key)
}

func (g *Guard) audit(ctx context.Context, action, detail, key string) {
	if g.opts.Auditor == nil {
		return
	}
	if err := g.opts.Auditor.Audit(ctx, action, detail, key); err != nil {
		g.logger.Error("audit failed", slog.String("action", action), slog.String("error", err.Error()))
	}
}

// internalStore is the privileged handle. Every mutation registers its keys
// with the guard for the duration of the call; notifications are delivered
// synchronously, so the guard sees them while they are registered.
type internalStore struct {
	g *Guard
}

func (s *internalStore) inner() storage.ObjectStore { return s.g.ObjectStore }

func (s *internalStore) Put(ctx context.Context, obj *storage.Object) error {
	keys := []string{obj.Key}
	s.g.allow(keys)
	defer s.g.release(keys)
	return s.inner().Put(ctx, obj)
}

func (s *internalStore) Get(ctx context.Context, key string) (*storage.Object, error) {
	return s.inner().Get(ctx, key)
}

func (s *internalStore) ScanChildren(ctx context.Context, parentKey string) ([]storage.Object, error) {
	return s.inner().ScanChildren(ctx, parentKey)
}

func (s *internalStore) Trash(ctx context.Context, keys ...string) error {
	s.g.allow(keys)
	defer s.g.release(keys)
	return s.inner().Trash(ctx, keys...)
}

func (s *internalStore) Restore(ctx context.Context, keys ...string) error {
	s.g.allow(keys)
	defer s.g.release(keys)
	return s.inner().Restore(ctx, keys...)
}

func (s *internalStore) Erase(ctx context.Context, keys ...string) error {
	s.g.allow(keys)
	defer s.g.release(keys)
	return s.inner().Erase(ctx, keys...)
}

func (s *internalStore) Search(ctx context.Context, q storage.SearchQuery) ([]string, error) {
	return s.inner().Search(ctx, q)
}

func (s *internalStore) LibraryName(ctx context.Context, id int64) (string, error) {
	return s.g.LibraryName(ctx, id)
}

