// Package sampler turns "the reader is on page P of document D" into
// timestamped visits. Each open session is Idle, Active on a page, or
// Flushed once closed.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/runnerr0/readtrail/internal/history"
	"github.com/runnerr0/readtrail/internal/metrics"
	"github.com/runnerr0/readtrail/internal/storage"
)

var (
	// ErrExcluded is returned when opening a document tagged with an
	// excluded tag.
	ErrExcluded = errors.New("document is excluded from tracking")
	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("session is closed")
)

// Recorder receives the sampler's output. *history.Tracker implements it.
type Recorder interface {
	RecordVisit(ctx context.Context, ref history.DocRef, page int, ts int64) error
	ObservePageCount(ctx context.Context, ref history.DocRef, n int) error
	Flush(ctx context.Context, ref history.DocRef) error
}

// Options configure a Sampler.
type Options struct {
	// ScanPeriod is the tick interval in seconds. Values below 1 become 1.
	ScanPeriod   int
	ExcludedTags []string
	// CheckpointTicks is how many ticks pass between flushes of the open
	// sessions. Values below 1 become 1.
	CheckpointTicks int
	Logger          *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Sampler owns the open reading sessions and emits a visit for the focused
// one on every tick.
type Sampler struct {
	recorder Recorder
	objects  storage.ObjectStore
	excluded []string
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	sessions   map[string]*Session
	focused    *Session
	period     time.Duration
	reset      chan time.Duration
	checkpoint int
	ticks      int
}

// New creates a sampler. objects is consulted for document tags and may be
// nil when no tags are excluded.
func New(recorder Recorder, objects storage.ObjectStore, opts Options) *Sampler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	checkpoint := opts.CheckpointTicks
	if checkpoint < 1 {
		checkpoint = 1
	}
	return &Sampler{
		recorder:   recorder,
		objects:    objects,
		excluded:   opts.ExcludedTags,
		logger:     logger.With(slog.String("component", "sampler")),
		now:        now,
		sessions:   make(map[string]*Session),
		period:     clampPeriod(opts.ScanPeriod),
		reset:      make(chan time.Duration, 1),
		checkpoint: checkpoint,
	}
}

func clampPeriod(seconds int) time.Duration {
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// ScanPeriod returns the current tick interval.
func (s *Sampler) ScanPeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// SetScanPeriod changes the tick interval, in seconds, of a running loop.
func (s *Sampler) SetScanPeriod(seconds int) {
	d := clampPeriod(seconds)
	s.mu.Lock()
	s.period = d
	s.mu.Unlock()

	// keep only the latest request
	select {
	case <-s.reset:
	default:
	}
	select {
	case s.reset <- d:
	default:
	}
}

// Open starts a session on page of ref and focuses it. pageCount is
// recorded when positive.
func (s *Sampler) Open(ctx context.Context, ref history.DocRef, page, pageCount int) (*Session, error) {
	if page < 1 {
		return nil, fmt.Errorf("open %s on page %d: %w", ref, page, history.ErrInvalidPage)
	}
	if err := s.checkExcluded(ctx, ref); err != nil {
		return nil, err
	}
	if pageCount > 0 {
		if err := s.recorder.ObservePageCount(ctx, ref, pageCount); err != nil {
			return nil, fmt.Errorf("open %s: %w", ref, err)
		}
	}

	sess := &Session{
		id:        ulid.Make().String(),
		ref:       ref,
		sampler:   s,
		page:      page,
		enteredAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.focused = sess
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	s.logger.Debug("session opened",
		slog.String("session", sess.id),
		slog.String("document", ref.String()),
		slog.Int("page", page),
	)
	return sess, nil
}

func (s *Sampler) checkExcluded(ctx context.Context, ref history.DocRef) error {
	if len(s.excluded) == 0 || s.objects == nil {
		return nil
	}
	obj, err := s.objects.Get(ctx, ref.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", ref, err)
	}
	if obj.HasTag(s.excluded...) {
		return fmt.Errorf("open %s: %w", ref, ErrExcluded)
	}
	return nil
}

// Session returns the open session with id.
func (s *Sampler) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns the open sessions ordered by id, which is creation order.
func (s *Sampler) Sessions() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Focused returns the focused session, if any.
func (s *Sampler) Focused() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// Tick emits a visit for the focused session's current page. Every
// CheckpointTicks ticks it also flushes the open sessions.
func (s *Sampler) Tick(ctx context.Context) error {
	s.mu.Lock()
	sess := s.focused
	s.ticks++
	due := s.ticks%s.checkpoint == 0
	s.mu.Unlock()

	var err error
	if sess != nil {
		if err = sess.emit(ctx); errors.Is(err, ErrSessionClosed) {
			err = nil
		}
	}
	if due {
		err = errors.Join(err, s.Checkpoint(ctx))
	}
	return err
}

// Checkpoint flushes the record of every open session.
func (s *Sampler) Checkpoint(ctx context.Context) error {
	seen := make(map[history.DocRef]bool)
	var errs []error
	for _, sess := range s.Sessions() {
		if seen[sess.ref] {
			continue
		}
		seen[sess.ref] = true
		if err := s.recorder.Flush(ctx, sess.ref); err != nil {
			errs = append(errs, fmt.Errorf("checkpoint %s: %w", sess.ref, err))
		}
	}
	return errors.Join(errs...)
}

// Run ticks until ctx is done, then closes every open session.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.ScanPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.CloseAll(context.WithoutCancel(ctx))
			return ctx.Err()
		case d := <-s.reset:
			ticker.Reset(d)
			s.logger.Info("scan period changed", slog.Duration("period", d))
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Warn("tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// CloseAll closes every open session, flushing its record.
func (s *Sampler) CloseAll(ctx context.Context) error {
	var errs []error
	for _, sess := range s.Sessions() {
		if err := sess.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sampler) focus(sess *Session) {
	s.mu.Lock()
	s.focused = sess
	s.mu.Unlock()
}

func (s *Sampler) unfocus(sess *Session) {
	s.mu.Lock()
	if s.focused == sess {
		s.focused = nil
	}
	s.mu.Unlock()
}

func (s *Sampler) remove(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	if s.focused == sess {
		s.focused = nil
	}
	s.mu.Unlock()
	metrics.ActiveSessions.Dec()
}
