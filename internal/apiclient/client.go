// Package apiclient is the HTTP client for the Chronicle editor API. It
// implements every backend collaborator the editor session needs.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chronicle/editor/internal/editor"
	"chronicle/editor/internal/presence"
)

var (
	_ editor.DocumentAPI    = (*Client)(nil)
	_ editor.TemplateAPI    = (*Client)(nil)
	_ editor.SuggestionAPI  = (*Client)(nil)
	_ editor.ExportAPI      = (*Client)(nil)
	_ editor.VersionAPI     = (*Client)(nil)
	_ presence.RosterSource = (*Client)(nil)
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:8080".
	BaseURL string

	// Token is sent as a bearer token on every request.
	Token string

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("apiclient: BaseURL is required")
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: unsupported scheme %q", base.Scheme)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    base,
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// resolve turns an API path or an absolute URL into a request URL.
// Relative references are resolved against the base URL.
func (c *Client) resolve(ref string) (string, error) {
	target, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("apiclient: parse url %q: %w", ref, err)
	}
	return c.baseURL.ResolveReference(target).String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, ref string, body any) (*http.Request, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// send executes req and returns the response when it is 2xx. Any other
// status is returned as *APIError.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := parseAPIError(resp.StatusCode, body)
	c.logger.Debug("api request failed",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"code", apiErr.Code,
	)
	return nil, apiErr
}

// do sends a JSON request and decodes a JSON response into out (which may
// be nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("apiclient: decode %s %s: %w", method, path, err)
	}
	return nil
}

func documentPath(documentID string, parts ...string) string {
	path := "/api/documents/" + url.PathEscape(documentID)
	for _, part := range parts {
		path += "/" + url.PathEscape(part)
	}
	return path
}
