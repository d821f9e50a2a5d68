package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/runnerr0/readtrail/internal/history"
)

// Session is one open reading session on a document.
type Session struct {
	id      string
	ref     history.DocRef
	sampler *Sampler

	mu        sync.Mutex
	page      int
	enteredAt time.Time
	closed    bool

	closeOnce sync.Once
	closeErr  error
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Ref returns the document the session reads.
func (s *Session) Ref() history.DocRef { return s.ref }

// Page returns the current page and when the reader arrived on it.
func (s *Session) Page() (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page, s.enteredAt
}

// Focused reports whether the session receives ticks.
func (s *Session) Focused() bool {
	return s.sampler.Focused() == s
}

// emit records a visit for the current page at the sampler's clock.
func (s *Session) emit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.sampler.recorder.RecordVisit(ctx, s.ref, s.page, s.sampler.now().Unix())
}

// ChangePage emits a final visit for the outgoing page, flushes the record
// and moves the session to page.
func (s *Session) ChangePage(ctx context.Context, page int) error {
	if page < 1 {
		return fmt.Errorf("change page to %d: %w", page, history.ErrInvalidPage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if page == s.page {
		return nil
	}

	now := s.sampler.now()
	rec := s.sampler.recorder
	if err := rec.RecordVisit(ctx, s.ref, s.page, now.Unix()); err != nil {
		return err
	}
	if err := rec.Flush(ctx, s.ref); err != nil {
		return fmt.Errorf("change page to %d: %w", page, err)
	}
	s.page = page
	s.enteredAt = now
	return nil
}

// SetFocus gives or takes away the focus. At most one session of a
// sampler is focused.
func (s *Session) SetFocus(focused bool) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if focused {
		s.sampler.focus(s)
	} else {
		s.sampler.unfocus(s)
	}
	return nil
}

// ObservePageCount forwards a page count learned while reading.
func (s *Session) ObservePageCount(ctx context.Context, n int) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return s.sampler.recorder.ObservePageCount(ctx, s.ref, n)
}

// Close emits a final visit, then flushes the record. Only the first call
// does anything; later calls return its result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		page := s.page
		s.closed = true
		s.mu.Unlock()

		s.sampler.remove(s)

		rec := s.sampler.recorder
		if err := rec.RecordVisit(ctx, s.ref, page, s.sampler.now().Unix()); err != nil {
			s.closeErr = fmt.Errorf("close session %s: %w", s.id, err)
			return
		}
		if err := rec.Flush(ctx, s.ref); err != nil {
			s.closeErr = fmt.Errorf("close session %s: %w", s.id, err)
			return
		}
		s.sampler.logger.Debug("session closed",
			slog.String("session", s.id),
			slog.String("document", s.ref.String()),
		)
	})
	return s.closeErr
}
