package guard

import (
	"fmt"
	"time"

	"github.com/runnerr0/readtrail/internal/storage"
)

// StoreConflict describes a generic store operation that hit a protected
// object and was undone.
type StoreConflict struct {
	Event storage.EventType
	Key   string
	Kind  storage.Kind
}

func (e *StoreConflict) Error() string {
	return fmt.Sprintf("store conflict: %s of protected %s %s was reverted", e.Event, e.Kind, e.Key)
}

// IntegrityWarning reports a history note modified outside the history
// store. The modification is kept.
type IntegrityWarning struct {
	NoteKey     string
	DocumentKey string
	Version     int64
	At          time.Time
}

func (w *IntegrityWarning) Error() string {
	return fmt.Sprintf("history note %s of document %s was modified directly (version %d)",
		w.NoteKey, w.DocumentKey, w.Version)
}
