package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response. The server encodes errors as
// {"code": ..., "error": message, "details": {...}}.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Message)
}

func (e *APIError) StatusCode() int { return e.Status }

// Detail returns the structured error detail. The top-level message is
// included under "message" when the detail does not carry one.
func (e *APIError) Detail() map[string]any {
	detail := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		detail[k] = v
	}
	if _, ok := detail["message"]; !ok && e.Message != "" {
		detail["message"] = e.Message
	}
	return detail
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var payload struct {
		Code    string         `json:"code"`
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Error
		apiErr.Details = payload.Details
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
