package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an object key does not exist in the store.
var ErrNotFound = errors.New("object not found")

// Kind classifies objects held by the shared store.
type Kind string

const (
	KindDocument Kind = "document"
	KindNote     Kind = "note"
	KindItem     Kind = "item"
)

// ParseKind validates a kind name. The empty string is accepted and means
// any kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "", KindDocument, KindNote, KindItem:
		return k, nil
	}
	return "", fmt.Errorf("unknown object kind %q", s)
}

// Object is a single entry of the shared object store. The store is generic:
// documents, notes and synthetic items all share this shape.
type Object struct {
	Key        string
	LibraryID  int64
	Kind       Kind
	ParentKey  string // ownership: trashing the parent cascades
	RelatedKey string // relation only
	Title      string
	Body       string
	Tags       []string
	Deleted    bool // in the trash
	Version    int64
	UpdatedAt  time.Time
}

// HasTag reports whether the object carries any of the given tags.
func (o *Object) HasTag(tags ...string) bool {
	for _, have := range o.Tags {
		for _, want := range tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// SearchQuery defines filters for the generic search path.
type SearchQuery struct {
	LibraryID      int64
	Kind           Kind
	ParentKey      string
	Text           string // substring match on title and body
	IncludeTrashed bool
	Limit          int
}

// EventType names a change notification.
type EventType string

const (
	EventCreate  EventType = "create"
	EventModify  EventType = "modify"
	EventTrash   EventType = "trash"
	EventRestore EventType = "restore"
	EventErase   EventType = "erase"
)

// Notification describes a committed mutation. Objects holds the state
// before the mutation for trash and erase, and after it otherwise. Cascaded
// children are included.
type Notification struct {
	Event   EventType
	Objects []Object
}

// Keys returns the keys of all objects in the notification.
func (n Notification) Keys() []string {
	keys := make([]string, len(n.Objects))
	for i, o := range n.Objects {
		keys[i] = o.Key
	}
	return keys
}

// ObjectStore is the key-value persistence surface the history engine is
// written against. Any backing store able to put, get and scan children can
// serve it; trash, restore, erase and search model the generic operations a
// host store exposes to unrelated callers.
type ObjectStore interface {
	Put(ctx context.Context, obj *Object) error
	Get(ctx context.Context, key string) (*Object, error)
	ScanChildren(ctx context.Context, parentKey string) ([]Object, error)
	Trash(ctx context.Context, keys ...string) error
	Restore(ctx context.Context, keys ...string) error
	Erase(ctx context.Context, keys ...string) error
	Search(ctx context.Context, q SearchQuery) ([]string, error)
}

// Notifier delivers change notifications to subscribers. The returned
// function removes the subscription.
type Notifier interface {
	Subscribe(fn func(ctx context.Context, n Notification)) (unsubscribe func())
}

// Auditor records noteworthy actions for later inspection.
type Auditor interface {
	Audit(ctx context.Context, action, detail, objectKey string) error
}

// Stats holds aggregate statistics about the object store.
type Stats struct {
	TotalObjects      int64
	Documents         int64
	Notes             int64
	Trashed           int64
	Libraries         int64
	AuditEntries      int64
	DatabaseSizeBytes int64
}
