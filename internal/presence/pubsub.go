package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// PubSub is the push transport. It emits the current roster on subscribe
// and then every snapshot the RedisStore publishes for the document.
type PubSub struct {
	store  *RedisStore
	logger *slog.Logger
}

func NewPubSub(store *RedisStore, logger *slog.Logger) *PubSub {
	if logger == nil {
		logger = slog.Default()
	}
	return &PubSub{store: store, logger: logger}
}

func (p *PubSub) Subscribe(ctx context.Context, documentID string, onUpdate UpdateFunc) (Unsubscribe, error) {
	pubsub := p.store.client.Subscribe(ctx, p.store.channel(documentID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	roster, err := p.store.Roster(ctx, documentID)
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	var stopped atomic.Bool
	onUpdate(roster)

	messages := pubsub.Channel()
	go func() {
		for msg := range messages {
			if stopped.Load() {
				return
			}
			var snapshot []Collaborator
			if err := json.Unmarshal([]byte(msg.Payload), &snapshot); err != nil {
				p.logger.Warn("presence: dropping malformed roster",
					"document_id", documentID,
					"error", err,
				)
				continue
			}
			if snapshot == nil {
				snapshot = []Collaborator{}
			}
			if stopped.Load() {
				return
			}
			onUpdate(snapshot)
		}
	}()

	return once(func() {
		stopped.Store(true)
		if err := pubsub.Close(); err != nil {
			p.logger.Debug("presence: close subscription", "document_id", documentID, "error", err)
		}
	}), nil
}
