package editor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chronicle/editor/internal/clock"
)

// phase is the autosave scheduler state.
//
//	idle --edit--> scheduled --timer-fire--> in-flight --success/failure--> idle
//
// An edit during a flight re-arms the timer without leaving in-flight. A
// timer that fires during a flight only records that another save is owed.
type phase int

const (
	phaseIdle phase = iota
	phaseScheduled
	phaseInFlight
)

func (p phase) String() string {
	switch p {
	case phaseScheduled:
		return "scheduled"
	case phaseInFlight:
		return "in-flight"
	default:
		return "idle"
	}
}

type baseline struct {
	title   string
	content string
}

// Session holds the live title and content of one document, the last
// persisted baseline, and the autosave state machine. All content changes
// go through mutate or replaceBaseline.
type Session struct {
	documentID string
	api        DocumentAPI
	clock      clock.Clock
	delay      time.Duration
	logger     *slog.Logger
	notify     func()

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	title     string
	content   string
	saved     baseline
	updatedAt time.Time
	saveState SaveState
	lastErr   error
	savedAt   time.Time
	phase     phase
	timer     *clock.Timer
	timerGen  uint64
	resave    bool
	closed    bool
}

func newSession(doc Document, api DocumentAPI, opts Options, notify func()) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		documentID: doc.ID,
		api:        api,
		clock:      opts.Clock,
		delay:      opts.AutosaveDelay,
		logger:     opts.Logger,
		notify:     notify,
		ctx:        ctx,
		cancel:     cancel,
		title:      doc.Title,
		content:    doc.Content,
		saved:      baseline{title: doc.Title, content: doc.Content},
		updatedAt:  doc.UpdatedAt,
		saveState:  SaveIdle,
	}
}

type sessionSnapshot struct {
	title     string
	content   string
	dirty     bool
	saveState SaveState
	lastErr   error
	savedAt   time.Time
	updatedAt time.Time
}

func (s *Session) snapshot() sessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionSnapshot{
		title:     s.title,
		content:   s.content,
		dirty:     s.dirtyLocked(),
		saveState: s.saveState,
		lastErr:   s.lastErr,
		savedAt:   s.savedAt,
		updatedAt: s.updatedAt,
	}
}

func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// mutate applies fn to the content buffer and re-arms the debounce timer.
// It never blocks on the network.
func (s *Session) mutate(fn func(current string) string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.content = fn(s.content)
	s.armLocked()
	if s.phase != phaseInFlight {
		s.phase = phaseScheduled
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// replaceBaseline sets both the live content and the persisted baseline,
// so the new content is not saved again as an edit. A save still in
// flight carries older content; the session owes a re-save once it lands.
func (s *Session) replaceBaseline(content string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.content = content
	s.saved.content = content
	s.stopTimerLocked()
	if s.phase == phaseInFlight {
		s.resave = true
	} else {
		s.phase = phaseIdle
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Session) SetTitle(title string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.title = title
	s.mu.Unlock()

	s.notify()
	return nil
}

// CommitTitle persists a changed title immediately, bypassing the debounce.
func (s *Session) CommitTitle(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.title == s.saved.title {
		s.mu.Unlock()
		return nil
	}
	if s.phase == phaseInFlight {
		s.resave = true
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	input := s.beginFlightLocked()
	s.mu.Unlock()

	s.notify()
	return s.persist(ctx, input)
}

// Retry re-sends the latest content after a failed save. It does nothing
// unless the session is in the error state.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.saveState != SaveError || s.phase == phaseInFlight {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	input := s.beginFlightLocked()
	s.mu.Unlock()

	s.notify()
	return s.persist(ctx, input)
}

func (s *Session) armLocked() {
	s.stopTimerLocked()
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(gen) })
}

func (s *Session) stopTimerLocked() {
	s.timer.Stop()
	s.timer = nil
	s.timerGen++
}

func (s *Session) dirtyLocked() bool {
	return s.content != s.saved.content || s.title != s.saved.title
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.phase == phaseInFlight {
		s.resave = true
		s.mu.Unlock()
		return
	}
	if !s.dirtyLocked() {
		s.phase = phaseIdle
		s.mu.Unlock()
		return
	}
	input := s.beginFlightLocked()
	s.mu.Unlock()

	s.notify()
	_ = s.persist(s.ctx, input)
}

func (s *Session) beginFlightLocked() SaveInput {
	s.phase = phaseInFlight
	s.saveState = SaveSaving
	s.lastErr = nil
	return SaveInput{Content: s.content, Title: s.title}
}

func (s *Session) persist(ctx context.Context, input SaveInput) error {
	doc, err := s.api.SaveDocument(ctx, s.documentID, input)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.phase = phaseIdle
	if s.timer != nil {
		s.phase = phaseScheduled
	}

	if err != nil {
		saveErr := &PersistenceError{DocumentID: s.documentID, Err: err}
		s.saveState = SaveError
		s.lastErr = saveErr
		s.resave = false
		s.mu.Unlock()

		s.logger.Warn("autosave failed",
			"document_id", s.documentID,
			"error", err,
		)
		s.notify()
		return saveErr
	}

	s.saved = baseline{title: input.Title, content: input.Content}
	s.saveState = SaveSaved
	s.savedAt = s.clock.Now()
	if !doc.UpdatedAt.IsZero() {
		s.updatedAt = doc.UpdatedAt
	}
	if s.resave {
		s.resave = false
		if s.timer == nil && s.dirtyLocked() {
			s.armLocked()
			s.phase = phaseScheduled
		}
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopTimerLocked()
	s.cancel()
}
