// Package presence tracks who is looking at a document.
//
// Consumers subscribe with Subscribe(ctx, documentID, onUpdate) and always
// receive the full roster; there are no deltas. Two interchangeable
// transports implement Subscriber: PubSub pushes snapshots over Redis and
// Poller fetches them on an interval. Auto picks push when it is reachable
// and falls back to polling otherwise, so callers never branch on the
// transport.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type Status string

const (
	StatusEditing   Status = "editing"
	StatusReviewing Status = "reviewing"
	StatusViewing   Status = "viewing"
)

// Valid reports whether s is a known presence status.
func (s Status) Valid() bool {
	switch s {
	case StatusEditing, StatusReviewing, StatusViewing:
		return true
	default:
		return false
	}
}

// Collaborator is one roster entry.
type Collaborator struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// UpdateFunc receives a complete roster snapshot. The slice is owned by
// the receiver.
type UpdateFunc func([]Collaborator)

// Unsubscribe stops a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Subscriber opens a live roster feed for one document.
type Subscriber interface {
	Subscribe(ctx context.Context, documentID string, onUpdate UpdateFunc) (Unsubscribe, error)
}

// RosterSource returns the current roster. It backs the poll transport and
// the initial snapshot of the push transport.
type RosterSource interface {
	Roster(ctx context.Context, documentID string) ([]Collaborator, error)
}

// ErrTransportUnavailable reports that a push transport cannot be used.
var ErrTransportUnavailable = errors.New("presence transport unavailable")

func once(stop func()) Unsubscribe {
	var o sync.Once
	return func() { o.Do(stop) }
}

func sortRoster(roster []Collaborator) {
	sort.SliceStable(roster, func(i, j int) bool {
		if roster[i].Name != roster[j].Name {
			return roster[i].Name < roster[j].Name
		}
		return roster[i].UserID < roster[j].UserID
	})
}

func cloneRoster(roster []Collaborator) []Collaborator {
	out := make([]Collaborator, len(roster))
	copy(out, roster)
	return out
}
