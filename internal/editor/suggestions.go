package editor

import (
	"context"
	"log/slog"
	"sync"
)

// Suggestions keeps the pending suggestion list for a session. The list is
// only ever replaced as a whole by a refresh, or shrunk by accept/reject.
type Suggestions struct {
	documentID string
	api        SuggestionAPI
	session    *Session
	logger     *slog.Logger
	notify     func()

	mu      sync.Mutex
	list    []Suggestion
	loading bool
	lastErr error
	seq     uint64
	closed  bool

	// deciding holds ids with an accept or reject in flight.
	deciding map[string]bool
}

func newSuggestions(documentID string, api SuggestionAPI, session *Session, opts Options, notify func()) *Suggestions {
	return &Suggestions{
		documentID: documentID,
		api:        api,
		session:    session,
		logger:     opts.Logger,
		notify:     notify,
		deciding:   make(map[string]bool),
	}
}

// Refresh fetches suggestions for the current content. Only an explicit
// refresh toggles the loading flag. A response that arrives after a newer
// refresh started is discarded.
func (s *Suggestions) Refresh(ctx context.Context, explicit bool, freeText string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.seq++
	seq := s.seq
	if explicit {
		s.loading = true
	}
	s.mu.Unlock()
	if explicit {
		s.notify()
	}

	list, err := s.api.Suggest(ctx, s.documentID, SuggestInput{
		Context: freeText,
		Content: s.session.Content(),
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if seq != s.seq {
		s.mu.Unlock()
		return nil
	}
	s.loading = false
	if err != nil {
		fetchErr := &SuggestionFetchError{Err: err}
		s.lastErr = fetchErr
		s.mu.Unlock()

		s.logger.Warn("suggestion refresh failed",
			"document_id", s.documentID,
			"error", err,
		)
		s.notify()
		return fetchErr
	}
	s.list = cloneSuggestions(list)
	s.lastErr = nil
	s.mu.Unlock()

	s.notify()
	return nil
}

// Accept confirms the suggestion with the backend and only then appends
// its content to the document and drops it from the pending list. A second
// decision on the same id while one is in flight fails with
// ErrSuggestionBusy.
func (s *Suggestions) Accept(ctx context.Context, suggestionID string) error {
	suggestion, err := s.claim(suggestionID)
	if err != nil {
		return err
	}
	if err := s.api.AcceptSuggestion(ctx, s.documentID, suggestionID); err != nil {
		s.release(suggestionID)
		return &SuggestionActionError{Action: "accept", SuggestionID: suggestionID, Err: err}
	}
	err = s.session.mutate(func(current string) string {
		return appendBlock(current, suggestion.Content)
	})
	s.remove(suggestionID)
	return err
}

func (s *Suggestions) Reject(ctx context.Context, suggestionID string) error {
	if _, err := s.claim(suggestionID); err != nil {
		return err
	}
	if err := s.api.RejectSuggestion(ctx, s.documentID, suggestionID); err != nil {
		s.release(suggestionID)
		return &SuggestionActionError{Action: "reject", SuggestionID: suggestionID, Err: err}
	}
	s.remove(suggestionID)
	return nil
}

// DismissError clears the last refresh error.
func (s *Suggestions) DismissError() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
}

// claim finds a pending suggestion and marks it as being decided.
func (s *Suggestions) claim(suggestionID string) (Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Suggestion{}, ErrClosed
	}
	if s.deciding[suggestionID] {
		return Suggestion{}, ErrSuggestionBusy
	}
	for _, suggestion := range s.list {
		if suggestion.ID == suggestionID {
			s.deciding[suggestionID] = true
			return suggestion, nil
		}
	}
	return Suggestion{}, ErrSuggestionNotFound
}

func (s *Suggestions) release(suggestionID string) {
	s.mu.Lock()
	delete(s.deciding, suggestionID)
	s.mu.Unlock()
}

// remove drops a decided suggestion from the list and ends its claim.
func (s *Suggestions) remove(suggestionID string) {
	s.mu.Lock()
	delete(s.deciding, suggestionID)
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := make([]Suggestion, 0, len(s.list))
	for _, suggestion := range s.list {
		if suggestion.ID != suggestionID {
			next = append(next, suggestion)
		}
	}
	s.list = next
	s.mu.Unlock()

	s.notify()
}

func (s *Suggestions) snapshot() ([]Suggestion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSuggestions(s.list), s.loading, s.lastErr
}

func (s *Suggestions) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func cloneSuggestions(list []Suggestion) []Suggestion {
	out := make([]Suggestion, len(list))
	copy(out, list)
	return out
}
