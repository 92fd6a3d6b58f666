package editor

import "time"

// Document is the persisted form of an editable document.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SaveInput is the payload of one persistence call.
type SaveInput struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ApplyTemplateInput struct {
	DealID  string `json:"dealId,omitempty"`
	Context string `json:"context,omitempty"`
}

// Suggestion is a proposed block of content. Confidence is in [0, 1]
// when present.
type Suggestion struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

type SuggestInput struct {
	Context string `json:"context"`
	Content string `json:"content"`
}

// ExportStatus is the lifecycle state of an export job.
//
//	queued -> processing -> ready
//	queued -> processing -> failed
type ExportStatus string

const (
	ExportQueued     ExportStatus = "queued"
	ExportProcessing ExportStatus = "processing"
	ExportReady      ExportStatus = "ready"
	ExportFailed     ExportStatus = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s ExportStatus) Terminal() bool {
	return s == ExportReady || s == ExportFailed
}

func (s ExportStatus) rank() int {
	switch s {
	case ExportQueued:
		return 0
	case ExportProcessing:
		return 1
	case ExportReady, ExportFailed:
		return 2
	default:
		return -1
	}
}

// ExportJob is one asynchronous export. DownloadURL is set only when the
// job is ready, FailureReason only when it failed.
type ExportJob struct {
	TaskID        string       `json:"taskId"`
	DocumentID    string       `json:"documentId"`
	Format        string       `json:"format"`
	Status        ExportStatus `json:"status"`
	DownloadURL   string       `json:"downloadUrl,omitempty"`
	FailureReason string       `json:"failureReason,omitempty"`
	Checksum      string       `json:"checksum,omitempty"`
	QueuedAt      time.Time    `json:"queuedAt"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
}

type ExportRequest struct {
	Format  string         `json:"format"`
	Options map[string]any `json:"options,omitempty"`
}

// EnqueueResult is the immediate answer to an enqueue request.
type EnqueueResult struct {
	TaskID string       `json:"taskId"`
	Status ExportStatus `json:"status"`
	Format string       `json:"format"`
}

// ExportResult is the answer to a synchronous export.
type ExportResult struct {
	DownloadURL string `json:"downloadUrl"`
}

type VersionSnapshot struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

// SaveState is the user-visible autosave status.
type SaveState string

const (
	SaveIdle   SaveState = "idle"
	SaveSaving SaveState = "saving"
	SaveSaved  SaveState = "saved"
	SaveError  SaveState = "error"
)
