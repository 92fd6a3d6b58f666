package store

import "time"

type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	PlanTier    string
	CreatedAt   time.Time
}

type Document struct {
	ID        string
	Title     string
	Content   string
	OwnerID   *string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Template struct {
	ID          string
	Name        string
	Description string
	Body        string
}

const (
	SuggestionPending    = "pending"
	SuggestionAccepted   = "accepted"
	SuggestionRejected   = "rejected"
	SuggestionSuperseded = "superseded"
)

type Suggestion struct {
	ID         string
	DocumentID string
	Title      string
	Content    string
	Confidence *float64
	Reasoning  string
	Status     string
	DecidedBy  *string
	DecidedAt  *time.Time
	CreatedAt  time.Time
}

const (
	ExportQueued     = "queued"
	ExportProcessing = "processing"
	ExportReady      = "ready"
	ExportFailed     = "failed"
)

type ExportJob struct {
	TaskID        string
	DocumentID    string
	Format        string
	Options       map[string]any
	Status        string
	ObjectKey     string
	Checksum      string
	FailureReason string
	RequestedBy   string
	Attempts      int
	QueuedAt      time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// Passage is one block of plain text extracted from a document, indexed
// for full-text search.
type Passage struct {
	ID         string
	DocumentID string
	Position   int
	Heading    string
	Body       string
}
