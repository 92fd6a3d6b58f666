package apiclient

import (
	"context"
	"io"
	"net/http"

	"chronicle/editor/internal/editor"
)

func (c *Client) Export(ctx context.Context, documentID string, request editor.ExportRequest) (editor.ExportResult, error) {
	var out editor.ExportResult
	if err := c.do(ctx, http.MethodPost, documentPath(documentID, "export"), request, &out); err != nil {
		return editor.ExportResult{}, err
	}
	return out, nil
}

func (c *Client) EnqueueExport(ctx context.Context, documentID string, request editor.ExportRequest) (editor.EnqueueResult, error) {
	var out editor.EnqueueResult
	if err := c.do(ctx, http.MethodPost, documentPath(documentID, "exports"), request, &out); err != nil {
		return editor.EnqueueResult{}, err
	}
	return out, nil
}

func (c *Client) ListExportJobs(ctx context.Context, documentID string) ([]editor.ExportJob, error) {
	var out struct {
		Jobs []editor.ExportJob `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, documentPath(documentID, "exports"), nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) GetExportJob(ctx context.Context, documentID, taskID string) (editor.ExportJob, error) {
	var out struct {
		Job editor.ExportJob `json:"job"`
	}
	if err := c.do(ctx, http.MethodGet, documentPath(documentID, "exports", taskID), nil, &out); err != nil {
		return editor.ExportJob{}, err
	}
	return out.Job, nil
}

// Download fetches an export artifact with the client's credentials. The
// caller closes the returned body.
func (c *Client) Download(ctx context.Context, downloadURL string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
