package apiclient

import (
	"context"
	"net/http"

	"chronicle/editor/internal/editor"
)

func (c *Client) FetchDocument(ctx context.Context, documentID string) (editor.Document, error) {
	var out struct {
		Document editor.Document `json:"document"`
	}
	if err := c.do(ctx, http.MethodGet, documentPath(documentID), nil, &out); err != nil {
		return editor.Document{}, err
	}
	return out.Document, nil
}

func (c *Client) SaveDocument(ctx context.Context, documentID string, input editor.SaveInput) (editor.Document, error) {
	var out struct {
		Document editor.Document `json:"document"`
	}
	if err := c.do(ctx, http.MethodPut, documentPath(documentID), input, &out); err != nil {
		return editor.Document{}, err
	}
	return out.Document, nil
}

func (c *Client) ListTemplates(ctx context.Context) ([]editor.Template, error) {
	var out struct {
		Templates []editor.Template `json:"templates"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/templates", nil, &out); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

func (c *Client) ApplyTemplate(ctx context.Context, documentID, templateID string, input editor.ApplyTemplateInput) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	path := documentPath(documentID, "templates", templateID, "apply")
	if err := c.do(ctx, http.MethodPost, path, input, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

func (c *Client) Suggest(ctx context.Context, documentID string, input editor.SuggestInput) ([]editor.Suggestion, error) {
	var out struct {
		Suggestions []editor.Suggestion `json:"suggestions"`
	}
	if err := c.do(ctx, http.MethodPost, documentPath(documentID, "suggestions"), input, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

func (c *Client) AcceptSuggestion(ctx context.Context, documentID, suggestionID string) error {
	return c.do(ctx, http.MethodPost, documentPath(documentID, "suggestions", suggestionID, "accept"), nil, nil)
}

func (c *Client) RejectSuggestion(ctx context.Context, documentID, suggestionID string) error {
	return c.do(ctx, http.MethodPost, documentPath(documentID, "suggestions", suggestionID, "reject"), nil, nil)
}

func (c *Client) ListVersions(ctx context.Context, documentID string) ([]editor.VersionSnapshot, error) {
	var out struct {
		Versions []editor.VersionSnapshot `json:"versions"`
	}
	if err := c.do(ctx, http.MethodGet, documentPath(documentID, "versions"), nil, &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

func (c *Client) RestoreVersion(ctx context.Context, documentID, versionID string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	if err := c.do(ctx, http.MethodPost, documentPath(documentID, "versions", versionID, "restore"), nil, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

