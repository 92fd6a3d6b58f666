package apiclient

import (
	"context"
	"net/http"

	"chronicle/editor/internal/presence"
)

// Roster implements presence.RosterSource for the poll transport.
func (c *Client) Roster(ctx context.Context, documentID string) ([]presence.Collaborator, error) {
	var out struct {
		Collaborators []presence.Collaborator `json:"collaborators"`
	}
	if err := c.do(ctx, http.MethodGet, documentPath(documentID, "presence"), nil, &out); err != nil {
		return nil, err
	}
	return out.Collaborators, nil
}

// Heartbeat announces the caller on the document with status.
func (c *Client) Heartbeat(ctx context.Context, documentID string, status presence.Status) error {
	body := map[string]string{"status": string(status)}
	return c.do(ctx, http.MethodPost, documentPath(documentID, "presence"), body, nil)
}

// Leave removes the caller from the document's roster.
func (c *Client) Leave(ctx context.Context, documentID string) error {
	return c.do(ctx, http.MethodDelete, documentPath(documentID, "presence"), nil, nil)
}
