package app

import (
	"context"
	"net/http"

	"chronicle/editor/internal/presence"
	"chronicle/editor/internal/rbac"
)

type PresenceInput struct {
	Status string `json:"status"`
}

func (s *Service) requirePresence() error {
	if s.presence == nil {
		return domainError(http.StatusServiceUnavailable, "PRESENCE_UNAVAILABLE", "Presence is not available", nil)
	}
	return nil
}

func (s *Service) Roster(ctx context.Context, session Session, documentID string) ([]presence.Collaborator, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if err := s.requirePresence(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.presence.Roster(ctx, documentID)
}

// Heartbeat announces the caller on the document. Viewers may only be
// present as viewing.
func (s *Service) Heartbeat(ctx context.Context, session Session, documentID string, input PresenceInput) error {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return err
	}
	if err := validatePresence(input); err != nil {
		return validationFailed(err)
	}
	if err := s.requirePresence(); err != nil {
		return err
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return err
	}
	status := presence.Status(input.Status)
	if status != presence.StatusViewing && !s.Can(session.Role, rbac.ActionWrite) {
		status = presence.StatusViewing
	}
	return s.presence.Touch(ctx, documentID, presence.Collaborator{
		UserID: session.UserID,
		Name:   session.UserName,
		Status: status,
	})
}

func (s *Service) LeaveDocument(ctx context.Context, session Session, documentID string) error {
	if err := s.requirePresence(); err != nil {
		return err
	}
	return s.presence.Leave(ctx, documentID, session.UserID)
}
