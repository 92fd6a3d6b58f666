package presence

import (
	"context"
	"log/slog"
)

// Auto subscribes through push when possible and falls back to polling.
type Auto struct {
	push     Subscriber
	fallback Subscriber
	logger   *slog.Logger
}

// NewAuto builds the transport-agnostic subscriber. push may be nil when no
// push transport is configured.
func NewAuto(push, fallback Subscriber, logger *slog.Logger) *Auto {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auto{push: push, fallback: fallback, logger: logger}
}

func (a *Auto) Subscribe(ctx context.Context, documentID string, onUpdate UpdateFunc) (Unsubscribe, error) {
	if a.push != nil {
		unsubscribe, err := a.push.Subscribe(ctx, documentID, onUpdate)
		if err == nil {
			return unsubscribe, nil
		}
		a.logger.Warn("presence push unavailable, polling instead",
			"document_id", documentID,
			"error", err,
		)
	}
	return a.fallback.Subscribe(ctx, documentID, onUpdate)
}
