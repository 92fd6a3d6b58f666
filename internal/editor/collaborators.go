package editor

import (
	"context"
	"io"
)

// DocumentAPI loads and persists documents.
type DocumentAPI interface {
	FetchDocument(ctx context.Context, documentID string) (Document, error)
	SaveDocument(ctx context.Context, documentID string, input SaveInput) (Document, error)
}

type TemplateAPI interface {
	ListTemplates(ctx context.Context) ([]Template, error)
	// ApplyTemplate renders templateID for the document and returns the
	// resulting content. It does not persist anything.
	ApplyTemplate(ctx context.Context, documentID, templateID string, input ApplyTemplateInput) (string, error)
}

type SuggestionAPI interface {
	Suggest(ctx context.Context, documentID string, input SuggestInput) ([]Suggestion, error)
	AcceptSuggestion(ctx context.Context, documentID, suggestionID string) error
	RejectSuggestion(ctx context.Context, documentID, suggestionID string) error
}

// ExportAPI exposes both the synchronous and the queued export shapes.
type ExportAPI interface {
	Export(ctx context.Context, documentID string, request ExportRequest) (ExportResult, error)
	EnqueueExport(ctx context.Context, documentID string, request ExportRequest) (EnqueueResult, error)
	ListExportJobs(ctx context.Context, documentID string) ([]ExportJob, error)
	GetExportJob(ctx context.Context, documentID, taskID string) (ExportJob, error)
	// Download fetches an artifact through an authenticated request.
	Download(ctx context.Context, downloadURL string) (io.ReadCloser, error)
}

type VersionAPI interface {
	ListVersions(ctx context.Context, documentID string) ([]VersionSnapshot, error)
	RestoreVersion(ctx context.Context, documentID, versionID string) (string, error)
}
