package editor

import (
	"context"
	"sync"

	"chronicle/editor/internal/presence"
)

// Roster holds the latest collaborator snapshot of a presence feed.
type Roster struct {
	notify func()

	mu          sync.Mutex
	list        []presence.Collaborator
	unsubscribe presence.Unsubscribe
	cancel      context.CancelFunc
	closed      bool
}

func newRoster(notify func()) *Roster {
	return &Roster{notify: notify}
}

// subscribe opens the feed on a context that lives until close, keeping the
// values of ctx but not its cancellation or deadline.
func (r *Roster) subscribe(ctx context.Context, subscriber presence.Subscriber, documentID string) error {
	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unsubscribe, err := subscriber.Subscribe(feedCtx, documentID, r.update)
	if err != nil {
		cancel()
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsubscribe()
		cancel()
		return ErrClosed
	}
	r.unsubscribe = unsubscribe
	r.cancel = cancel
	r.mu.Unlock()
	return nil
}

func (r *Roster) update(snapshot []presence.Collaborator) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.list = append([]presence.Collaborator(nil), snapshot...)
	r.mu.Unlock()

	r.notify()
}

func (r *Roster) snapshot() []presence.Collaborator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]presence.Collaborator(nil), r.list...)
}

// close calls the feed's unsubscribe exactly once.
func (r *Roster) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	cancel := r.cancel
	r.unsubscribe = nil
	r.cancel = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
}
