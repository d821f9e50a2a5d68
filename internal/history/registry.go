package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/runnerr0/readtrail/internal/storage"
)

// Registry hands out one loaded Store per library.
type Registry struct {
	objects storage.ObjectStore
	opts    Options
	logger  *slog.Logger

	mu     sync.Mutex
	stores map[int64]*Store
}

// NewRegistry creates a registry whose stores persist through objects.
func NewRegistry(objects storage.ObjectStore, opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		objects: objects,
		opts:    opts,
		logger:  logger,
		stores:  make(map[int64]*Store),
	}
}

// Options returns the options every store is created with.
func (r *Registry) Options() Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts
}

// SetTiming changes the merge tolerance and dwell floor of every loaded
// store and of stores loaded later.
func (r *Registry) SetTiming(tolerance, floor int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Tolerance = tolerance
	r.opts.DwellFloor = floor
	for _, s := range r.stores {
		s.SetTiming(tolerance, floor)
	}
}

// Library returns the store of libraryID, loading it on first use.
func (r *Registry) Library(ctx context.Context, libraryID int64) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[libraryID]; ok {
		return s, nil
	}

	s := NewStore(libraryID, r.objects, r.opts, r.logger)
	if _, err := s.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("load library %d: %w", libraryID, err)
	}
	r.stores[libraryID] = s
	return s, nil
}

// Loaded returns the stores loaded so far.
func (r *Registry) Loaded() []*Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		out = append(out, s)
	}
	return out
}
