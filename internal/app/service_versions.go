package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chronicle/editor/internal/gitrepo"
	"chronicle/editor/internal/rbac"
)

const versionHistoryLimit = 50

type VersionView struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

func versionView(v gitrepo.Version) VersionView {
	return VersionView{
		ID:        v.Hash,
		Label:     v.Label,
		CreatedAt: v.CreatedAt,
		CreatedBy: v.Author,
		Summary:   v.Summary,
	}
}

// ListVersions returns the document's history, newest first. A document
// that has never been saved has its repository created on the fly.
func (s *Service) ListVersions(ctx context.Context, session Session, documentID string) ([]VersionView, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.versions.EnsureDocumentRepo(doc.ID, gitrepo.Content{Title: doc.Title, Content: doc.Content}, doc.UpdatedBy); err != nil {
		return nil, err
	}
	history, err := s.versions.History(doc.ID, versionHistoryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]VersionView, 0, len(history))
	for _, v := range history {
		out = append(out, versionView(v))
	}
	return out, nil
}

// RestoreVersion makes the body of versionID the current content and
// returns it. The title is left as is.
func (s *Service) RestoreVersion(ctx context.Context, session Session, documentID, versionID string) (string, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return "", err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	if err := s.versions.EnsureDocumentRepo(doc.ID, gitrepo.Content{Title: doc.Title, Content: doc.Content}, doc.UpdatedBy); err != nil {
		return "", err
	}

	restored, version, err := s.versions.Restore(doc.ID, versionID, session.UserName)
	if errors.Is(err, gitrepo.ErrVersionNotFound) {
		return "", domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil)
	}
	if err != nil {
		return "", err
	}

	updated, err := s.store.UpdateDocumentContent(ctx, doc.ID, doc.Title, restored.Content, session.UserName)
	if err != nil {
		return "", err
	}
	s.reindex(ctx, updated)
	s.logger.Info("version restored",
		"document_id", doc.ID,
		"version_id", versionID,
		"head", version.Hash,
		"user_id", session.UserID,
	)
	return updated.Content, nil
}
