package app

import (
	"context"
	"net/http"
	"strings"

	"chronicle/editor/internal/rbac"
	"chronicle/editor/internal/store"
	"chronicle/editor/internal/suggest"
)

type SuggestInput struct {
	Context string `json:"context"`
	Content string `json:"content"`
}

type SuggestionView struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// Suggest generates a fresh suggestion set for the document. The new set
// supersedes every pending suggestion, so stale ids can no longer be
// accepted.
func (s *Service) Suggest(ctx context.Context, session Session, documentID string, input SuggestInput) ([]SuggestionView, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := validateSuggest(input); err != nil {
		return nil, validationFailed(err)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	content := input.Content
	if strings.TrimSpace(content) == "" {
		content = doc.Content
	}
	generated, err := s.suggester.Generate(ctx, suggest.Input{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Content:    content,
		Context:    input.Context,
	})
	if err != nil {
		return nil, err
	}

	items := make([]store.Suggestion, len(generated))
	views := make([]SuggestionView, len(generated))
	for i, g := range generated {
		items[i] = store.Suggestion{
			ID:         g.ID,
			DocumentID: doc.ID,
			Title:      g.Title,
			Content:    g.Content,
			Confidence: g.Confidence,
			Reasoning:  g.Reasoning,
		}
		views[i] = SuggestionView{
			ID:         g.ID,
			Title:      g.Title,
			Content:    g.Content,
			Confidence: g.Confidence,
			Reasoning:  g.Reasoning,
		}
	}
	if err := s.store.ReplacePendingSuggestions(ctx, doc.ID, items); err != nil {
		return nil, err
	}
	return views, nil
}

func (s *Service) AcceptSuggestion(ctx context.Context, session Session, documentID, suggestionID string) error {
	return s.decideSuggestion(ctx, session, documentID, suggestionID, store.SuggestionAccepted)
}

func (s *Service) RejectSuggestion(ctx context.Context, session Session, documentID, suggestionID string) error {
	return s.decideSuggestion(ctx, session, documentID, suggestionID, store.SuggestionRejected)
}

// decideSuggestion records the decision. Repeating the same decision is a
// no-op; any other transition out of a decided state is a conflict.
func (s *Service) decideSuggestion(ctx context.Context, session Session, documentID, suggestionID, status string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	item, err := s.store.GetSuggestion(ctx, documentID, suggestionID)
	if err != nil {
		return err
	}
	if item.Status == status {
		return nil
	}
	if item.Status != store.SuggestionPending {
		return domainError(http.StatusConflict, "SUGGESTION_NOT_PENDING", "Suggestion is no longer pending", map[string]any{
			"status": item.Status,
		})
	}

	updated, err := s.store.DecideSuggestion(ctx, documentID, suggestionID, status, session.UserName)
	if err != nil {
		return err
	}
	if !updated {
		return domainError(http.StatusConflict, "SUGGESTION_NOT_PENDING", "Suggestion is no longer pending", nil)
	}
	s.logger.Info("suggestion decided",
		"document_id", documentID,
		"suggestion_id", suggestionID,
		"status", status,
		"user_id", session.UserID,
	)
	return nil
}
