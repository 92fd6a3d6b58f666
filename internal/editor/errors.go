package editor

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrClosed             = errors.New("editor session is closed")
	ErrExportNotReady     = errors.New("export is not ready for download")
	ErrSuggestionNotFound = errors.New("suggestion not found")
	ErrSuggestionBusy     = errors.New("suggestion decision already in progress")
	ErrJobNotFound        = errors.New("export job not found")
	ErrChecksumMismatch   = errors.New("downloaded export failed checksum verification")
)

// ExportPollFailureReason is recorded on a job whose status could not be
// fetched. Polling for that job stops.
const ExportPollFailureReason = "Lost track of this export while checking its status. Please queue it again."

// PersistenceError reports a rejected save. It is never retried
// automatically.
type PersistenceError struct {
	DocumentID string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("could not save document %s: %v", e.DocumentID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type SuggestionFetchError struct {
	Err error
}

func (e *SuggestionFetchError) Error() string {
	return fmt.Sprintf("could not load suggestions: %v", e.Err)
}

func (e *SuggestionFetchError) Unwrap() error { return e.Err }

// SuggestionActionError reports a failed accept or reject. Content and the
// pending list are left untouched.
type SuggestionActionError struct {
	Action       string
	SuggestionID string
	Err          error
}

func (e *SuggestionActionError) Error() string {
	return fmt.Sprintf("could not %s suggestion %s: %v", e.Action, e.SuggestionID, e.Err)
}

func (e *SuggestionActionError) Unwrap() error { return e.Err }

type ExportFailureKind string

const (
	ExportFailureEntitlement ExportFailureKind = "entitlement"
	ExportFailureGeneric     ExportFailureKind = "generic"
)

// ExportFailure is the classified reason an export request was refused.
// TierLabel and CTAURL are only meaningful for entitlement failures.
type ExportFailure struct {
	Kind      ExportFailureKind `json:"kind"`
	Message   string            `json:"message"`
	TierLabel string            `json:"tierLabel,omitempty"`
	CTAURL    string            `json:"ctaUrl,omitempty"`
}

const (
	defaultEntitlementMessage = "Your plan does not include this export format."
	genericExportMessage      = "The export could not be started. Please try again."
)

// ClassifyExportError maps an export request failure to an ExportFailure.
// It inspects the structured status and detail of err, never its text.
func ClassifyExportError(err error) ExportFailure {
	var detail map[string]any
	var detailed interface{ Detail() map[string]any }
	if errors.As(err, &detailed) {
		detail = detailed.Detail()
	}

	status := 0
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		status = coded.StatusCode()
	}

	kind, _ := detail["kind"].(string)
	if status != http.StatusForbidden && kind != string(ExportFailureEntitlement) {
		return ExportFailure{Kind: ExportFailureGeneric, Message: genericExportMessage}
	}

	failure := ExportFailure{Kind: ExportFailureEntitlement, Message: defaultEntitlementMessage}
	if message, ok := detail["message"].(string); ok && message != "" {
		failure.Message = message
	}
	failure.TierLabel, _ = detail["tierLabel"].(string)
	failure.CTAURL, _ = detail["ctaUrl"].(string)
	return failure
}

// ExportEnqueueError is returned when an export request is refused. The
// job list is unchanged and no polling starts.
type ExportEnqueueError struct {
	Failure ExportFailure
	Err     error
}

func (e *ExportEnqueueError) Error() string {
	return e.Failure.Message
}

func (e *ExportEnqueueError) Unwrap() error { return e.Err }

// DownloadError reports a failed artifact download. The job is untouched
// and the download may be retried.
type DownloadError struct {
	TaskID string
	Err    error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("could not download export %s: %v", e.TaskID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

type TemplateApplyError struct {
	TemplateID string
	Err        error
}

func (e *TemplateApplyError) Error() string {
	return fmt.Sprintf("could not apply template %s: %v", e.TemplateID, e.Err)
}

func (e *TemplateApplyError) Unwrap() error { return e.Err }

type VersionRestoreError struct {
	VersionID string
	Err       error
}

func (e *VersionRestoreError) Error() string {
	return fmt.Sprintf("could not restore version %s: %v", e.VersionID, e.Err)
}

func (e *VersionRestoreError) Unwrap() error { return e.Err }
