package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/runnerr0/readtrail/internal/metrics"
)

// ErrTrackerClosed is returned for requests sent after Close.
var ErrTrackerClosed = errors.New("tracker is closed")

// DefaultQueueSize is the inbox capacity of each document worker.
const DefaultQueueSize = 64

// DocRef identifies a tracked document.
type DocRef struct {
	LibraryID int64
	Key       string
}

func (r DocRef) String() string { return fmt.Sprintf("%d/%s", r.LibraryID, r.Key) }

type messageKind int

const (
	msgVisit messageKind = iota
	msgPageCount
	msgMerge
	msgFlush
	msgClear
)

type message struct {
	kind messageKind
	ctx  context.Context
	page int
	ts   int64
	n    int
	rec  *Record
	done chan error // nil when the sender does not wait
}

// worker owns the live record of one document. Everything that mutates
// the record runs on its goroutine, in arrival order. A worker left clean
// by a flush with nothing queued retires; the next message starts a new one
// from the stored record.
type worker struct {
	ref     DocRef
	tracker *Tracker
	store   *Store
	inbox   chan message
	rec     *Record
	dirty   bool
	logger  *slog.Logger

	// senders counts the callers between acquire and release. Guarded by
	// Tracker.mu; pinned mirrors it for Close to wait on.
	senders int
	pinned  sync.WaitGroup
}

// Tracker routes visits, merges and flushes to one worker goroutine per
// document, so each record has a single writer without a global lock.
type Tracker struct {
	registry  *Registry
	logger    *slog.Logger
	queueSize int

	mu      sync.Mutex
	workers map[DocRef]*worker
	closed  bool
	wg      sync.WaitGroup
}

// NewTracker creates a tracker persisting through the registry's stores.
func NewTracker(registry *Registry, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		registry:  registry,
		logger:    logger.With(slog.String("component", "tracker")),
		queueSize: DefaultQueueSize,
		workers:   make(map[DocRef]*worker),
	}
}

// RecordVisit queues a sample for page of ref at ts (Unix seconds).
func (t *Tracker) RecordVisit(ctx context.Context, ref DocRef, page int, ts int64) error {
	if page < 1 {
		return fmt.Errorf("record visit on page %d: %w", page, ErrInvalidPage)
	}
	if !ValidTimestamp(ts) {
		return fmt.Errorf("record visit at %d: %w", ts, ErrInvalidTimestamp)
	}
	return t.send(ctx, ref, message{kind: msgVisit, page: page, ts: ts})
}

// ObservePageCount queues a page count observation for ref.
func (t *Tracker) ObservePageCount(ctx context.Context, ref DocRef, n int) error {
	return t.send(ctx, ref, message{kind: msgPageCount, n: n})
}

// Merge folds rec into the live record of ref and waits for it to be
// applied.
func (t *Tracker) Merge(ctx context.Context, ref DocRef, rec *Record) error {
	return t.call(ctx, ref, message{kind: msgMerge, rec: rec.Clone()})
}

// Flush finalizes the live record of ref and upserts it, after every
// message queued before it.
func (t *Tracker) Flush(ctx context.Context, ref DocRef) error {
	return t.call(ctx, ref, message{kind: msgFlush})
}

// Clear drops the live record of ref and deletes its stored history.
func (t *Tracker) Clear(ctx context.Context, ref DocRef) error {
	return t.call(ctx, ref, message{kind: msgClear})
}

// Close flushes every worker and stops them. Further requests fail with
// ErrTrackerClosed.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	workers := make([]*worker, 0, len(t.workers))
	for _, w := range t.workers {
		workers = append(workers, w)
	}
	t.mu.Unlock()

	var errs []error
	for _, w := range workers {
		w.pinned.Wait()
		done := make(chan error, 1)
		w.inbox <- message{kind: msgFlush, ctx: ctx, done: done}
		if err := <-done; err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", w.ref, err))
		}
		close(w.inbox)
	}
	t.wg.Wait()
	return errors.Join(errs...)
}

func (t *Tracker) call(ctx context.Context, ref DocRef, msg message) error {
	msg.done = make(chan error, 1)
	if err := t.send(ctx, ref, msg); err != nil {
		return err
	}
	select {
	case err := <-msg.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) send(ctx context.Context, ref DocRef, msg message) error {
	if ref.Key == "" {
		return fmt.Errorf("empty document key")
	}
	w, err := t.acquire(ctx, ref)
	if err != nil {
		return err
	}
	defer t.release(w)

	msg.ctx = ctx
	select {
	case w.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire returns the worker of ref, starting one when there is none, and
// keeps it from retiring or being closed until release.
func (t *Tracker) acquire(ctx context.Context, ref DocRef) (*worker, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTrackerClosed
	}
	if w, ok := t.workers[ref]; ok {
		t.pin(w)
		t.mu.Unlock()
		return w, nil
	}
	t.mu.Unlock()

	store, err := t.registry.Library(ctx, ref.LibraryID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTrackerClosed
	}
	if w, ok := t.workers[ref]; ok {
		t.pin(w)
		return w, nil
	}

	rec, ok := store.Get(ref.Key)
	if !ok {
		rec = store.NewRecord()
	}
	w := &worker{
		ref:     ref,
		tracker: t,
		store:   store,
		inbox:   make(chan message, t.queueSize),
		rec:     rec,
		logger:  t.logger.With(slog.String("document", ref.String())),
	}
	t.workers[ref] = w
	t.pin(w)
	t.wg.Add(1)
	metrics.TrackerWorkers.Inc()
	go func() {
		defer t.wg.Done()
		defer metrics.TrackerWorkers.Dec()
		w.run()
	}()
	return w, nil
}

// pin must be called with t.mu held.
func (t *Tracker) pin(w *worker) {
	w.senders++
	w.pinned.Add(1)
}

func (t *Tracker) release(w *worker) {
	t.mu.Lock()
	w.senders--
	t.mu.Unlock()
	w.pinned.Done()
}

// Workers returns the number of live workers.
func (t *Tracker) Workers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workers)
}

// retire removes w from the tracker when nobody is about to send to it.
// Called on the worker's goroutine.
func (t *Tracker) retire(w *worker) bool {
	if w.dirty {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || w.senders > 0 || len(w.inbox) > 0 {
		return false
	}
	delete(t.workers, w.ref)
	w.logger.Debug("worker retired")
	return true
}

func (w *worker) run() {
	for msg := range w.inbox {
		err := w.handle(msg)
		if msg.done != nil {
			msg.done <- err
		}
		if msg.kind == msgFlush && err == nil && w.tracker.retire(w) {
			return
		}
	}
}

func (w *worker) handle(msg message) error {
	switch msg.kind {
	case msgVisit:
		if err := w.rec.RecordVisit(msg.page, msg.ts); err != nil {
			return err
		}
		w.dirty = true
		metrics.VisitsRecorded.Inc()

	case msgPageCount:
		before := w.rec.PageCount
		w.rec.ObservePageCount(msg.n)
		w.dirty = w.dirty || w.rec.PageCount != before

	case msgMerge:
		w.rec.Merge(msg.rec)
		w.dirty = true

	case msgFlush:
		return w.flush(msg.ctx)

	case msgClear:
		if err := w.store.Clear(msg.ctx, w.ref.Key); err != nil {
			return err
		}
		w.rec = w.store.NewRecord()
		w.dirty = false
	}
	return nil
}

// flush persists the record. A document never visited gets no note.
func (w *worker) flush(ctx context.Context) error {
	if !w.dirty || len(w.rec.Pages) == 0 {
		return nil
	}
	w.rec.SetTolerance(w.store.Options().Tolerance)
	w.rec.Finalize()
	if err := w.store.Upsert(ctx, w.ref.Key, w.rec); err != nil {
		metrics.Flushes.WithLabelValues("error").Inc()
		w.logger.Error("flush failed", slog.String("error", err.Error()))
		return err
	}
	w.dirty = false
	metrics.Flushes.WithLabelValues("ok").Inc()
	return nil
}
