package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chronicle/editor/internal/clock"
)

// PollerOptions configures the poll transport.
type PollerOptions struct {
	// Interval between roster fetches. Default: 5s.
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (o *PollerOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Poller is the fallback transport: it fetches the full roster from a
// RosterSource immediately and then on every interval.
type Poller struct {
	source RosterSource
	opts   PollerOptions
}

func NewPoller(source RosterSource, opts PollerOptions) *Poller {
	opts.defaults()
	return &Poller{source: source, opts: opts}
}

type pollSubscription struct {
	poller     *Poller
	documentID string
	onUpdate   UpdateFunc
	ctx        context.Context

	mu      sync.Mutex
	stopped bool
	timer   *clock.Timer
}

func (p *Poller) Subscribe(ctx context.Context, documentID string, onUpdate UpdateFunc) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &pollSubscription{
		poller:     p,
		documentID: documentID,
		onUpdate:   onUpdate,
		ctx:        ctx,
	}
	p.opts.Clock.AfterFunc(0, sub.poll)

	return once(func() {
		sub.mu.Lock()
		sub.stopped = true
		sub.timer.Stop()
		sub.mu.Unlock()
		cancel()
	}), nil
}

func (s *pollSubscription) poll() {
	if s.isStopped() {
		return
	}
	roster, err := s.poller.source.Roster(s.ctx, s.documentID)
	if err != nil {
		s.poller.opts.Logger.Warn("presence poll failed",
			"document_id", s.documentID,
			"error", err,
		)
	} else if !s.isStopped() {
		s.onUpdate(cloneRoster(roster))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.timer = s.poller.opts.Clock.AfterFunc(s.poller.opts.Interval, s.poll)
}

func (s *pollSubscription) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
