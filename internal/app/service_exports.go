package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"chronicle/editor/internal/export"
	"chronicle/editor/internal/exportqueue"
	"chronicle/editor/internal/objectstore"
	"chronicle/editor/internal/rbac"
	"chronicle/editor/internal/store"
)

type ExportRequest struct {
	Format  string         `json:"format"`
	Options map[string]any `json:"options"`
}

type EnqueueView struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Format string `json:"format"`
}

type ExportJobView struct {
	TaskID        string     `json:"taskId"`
	DocumentID    string     `json:"documentId"`
	Format        string     `json:"format"`
	Status        string     `json:"status"`
	DownloadURL   string     `json:"downloadUrl,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	Checksum      string     `json:"checksum,omitempty"`
	QueuedAt      time.Time  `json:"queuedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Artifact is an export ready to be streamed to the client.
type Artifact struct {
	Body        io.ReadCloser
	Size        int64
	Filename    string
	ContentType string
	Checksum    string
}

func exportJobView(job store.ExportJob, title string) ExportJobView {
	view := ExportJobView{
		TaskID:      job.TaskID,
		DocumentID:  job.DocumentID,
		Format:      job.Format,
		Status:      job.Status,
		QueuedAt:    job.QueuedAt,
		CompletedAt: job.CompletedAt,
	}
	switch job.Status {
	case store.ExportReady:
		view.DownloadURL = downloadURL(job, title)
		view.Checksum = job.Checksum
	case store.ExportFailed:
		view.FailureReason = job.FailureReason
	}
	return view
}

// downloadURL is relative to the API root. The filename segment names the
// saved file; the server derives the real name from the job.
func downloadURL(job store.ExportJob, title string) string {
	return "/api/exports/" + url.PathEscape(job.TaskID) + "/" + url.PathEscape(export.Filename(title, export.Format(job.Format)))
}

// checkExport validates a request against the renderer and the caller's
// plan. It returns the normalized format.
func (s *Service) checkExport(session Session, input ExportRequest) (export.Format, error) {
	if err := validateExportRequest(input); err != nil {
		return "", validationFailed(err)
	}
	if s.artifacts == nil {
		return "", domainError(http.StatusServiceUnavailable, "EXPORTS_UNAVAILABLE", "Exports are not available", nil)
	}
	format, _ := export.ParseFormat(input.Format)
	if !s.renderer.Supports(format) {
		return "", domainError(http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", exportqueue.ReasonUnsupportedFormat, nil)
	}
	if !s.policy.Allows(session.Tier, format) {
		tier, ok := s.policy.UpgradeTier(format)
		if !ok {
			return "", domainError(http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", exportqueue.ReasonUnsupportedFormat, nil)
		}
		return "", entitlementRequired(tier.Label, s.policy.UpgradeURL)
	}
	return format, nil
}

// ExportNow renders the document synchronously and returns the download
// URL of the stored artifact. The export is recorded as a ready job so it
// shows up next to queued exports.
func (s *Service) ExportNow(ctx context.Context, session Session, documentID string, input ExportRequest) (string, error) {
	if err := s.authorize(session, rbac.ActionExport); err != nil {
		return "", err
	}
	format, err := s.checkExport(session, input)
	if err != nil {
		return "", err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}

	result, err := s.renderer.Export(ctx, export.Document{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		Author:    doc.UpdatedBy,
		UpdatedAt: doc.UpdatedAt,
	}, format, export.OptionsFromMap(input.Options))
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return "", domainError(http.StatusServiceUnavailable, "RENDERER_UNAVAILABLE", exportqueue.ReasonRendererMissing, nil)
	}
	if err != nil {
		return "", err
	}

	job, err := s.store.InsertExportJob(ctx, store.ExportJob{
		TaskID:      s.newID("exp"),
		DocumentID:  doc.ID,
		Format:      string(format),
		Options:     input.Options,
		Status:      store.ExportProcessing,
		RequestedBy: session.UserID,
	})
	if err != nil {
		return "", err
	}
	key := objectstore.ExportKey(doc.ID, job.TaskID, format.Extension())
	if err := s.artifacts.Put(ctx, key, result.Data, result.MimeType); err != nil {
		s.failExport(ctx, job.TaskID, err)
		return "", err
	}
	if err := s.store.CompleteExportJob(ctx, job.TaskID, key, exportqueue.Checksum(result.Data)); err != nil {
		s.failExport(ctx, job.TaskID, err)
		return "", err
	}
	return downloadURL(job, doc.Title), nil
}

// failExport moves a synchronous export that could not be stored to
// failed so it does not linger in processing.
func (s *Service) failExport(ctx context.Context, taskID string, cause error) {
	s.logger.Warn("export store failed", "task_id", taskID, "error", cause)
	if err := s.store.FailExportJob(context.WithoutCancel(ctx), taskID, exportqueue.ReasonStoreFailed); err != nil {
		s.logger.Error("mark export failed", "task_id", taskID, "error", err)
	}
}

// EnqueueExport records a queued job and wakes a worker.
func (s *Service) EnqueueExport(ctx context.Context, session Session, documentID string, input ExportRequest) (EnqueueView, error) {
	if err := s.authorize(session, rbac.ActionExport); err != nil {
		return EnqueueView{}, err
	}
	format, err := s.checkExport(session, input)
	if err != nil {
		return EnqueueView{}, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return EnqueueView{}, err
	}
	job, err := s.store.InsertExportJob(ctx, store.ExportJob{
		TaskID:      s.newID("exp"),
		DocumentID:  doc.ID,
		Format:      string(format),
		Options:     input.Options,
		RequestedBy: session.UserID,
	})
	if err != nil {
		return EnqueueView{}, err
	}
	if s.worker != nil {
		s.worker.Notify()
	}
	s.logger.Info("export queued", "document_id", doc.ID, "task_id", job.TaskID, "format", job.Format)
	return EnqueueView{TaskID: job.TaskID, Status: job.Status, Format: job.Format}, nil
}

func (s *Service) ListExportJobs(ctx context.Context, session Session, documentID string) ([]ExportJobView, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.store.ListExportJobs(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ExportJobView, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, exportJobView(job, doc.Title))
	}
	return out, nil
}

func (s *Service) GetExportJob(ctx context.Context, session Session, documentID, taskID string) (ExportJobView, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return ExportJobView{}, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return ExportJobView{}, err
	}
	job, err := s.store.GetExportJob(ctx, taskID)
	if err != nil {
		return ExportJobView{}, err
	}
	if job.DocumentID != doc.ID {
		return ExportJobView{}, store.ErrNotFound
	}
	return exportJobView(job, doc.Title), nil
}

func (s *Service) readyJob(ctx context.Context, session Session, taskID string) (store.ExportJob, store.Document, error) {
	if err := s.authorize(session, rbac.ActionExport); err != nil {
		return store.ExportJob{}, store.Document{}, err
	}
	if s.artifacts == nil {
		return store.ExportJob{}, store.Document{}, domainError(http.StatusServiceUnavailable, "EXPORTS_UNAVAILABLE", "Exports are not available", nil)
	}
	job, err := s.store.GetExportJob(ctx, taskID)
	if err != nil {
		return store.ExportJob{}, store.Document{}, err
	}
	if job.Status != store.ExportReady {
		return store.ExportJob{}, store.Document{}, domainError(http.StatusConflict, "EXPORT_NOT_READY", "Export is not ready", map[string]any{
			"status": job.Status,
		})
	}
	doc, err := s.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return store.ExportJob{}, store.Document{}, err
	}
	return job, doc, nil
}

// OpenArtifact opens the stored artifact of a ready job. The caller closes
// Body.
func (s *Service) OpenArtifact(ctx context.Context, session Session, taskID string) (Artifact, error) {
	job, doc, err := s.readyJob(ctx, session, taskID)
	if err != nil {
		return Artifact{}, err
	}
	body, size, err := s.artifacts.Open(ctx, job.ObjectKey)
	if errors.Is(err, objectstore.ErrNotFound) {
		return Artifact{}, domainError(http.StatusGone, "EXPORT_EXPIRED", "Export artifact is no longer available", nil)
	}
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Body:        body,
		Size:        size,
		Filename:    export.Filename(doc.Title, export.Format(job.Format)),
		ContentType: job.Format,
		Checksum:    job.Checksum,
	}, nil
}

// PresignArtifact returns a short-lived object store URL for a ready job.
func (s *Service) PresignArtifact(ctx context.Context, session Session, taskID string) (*url.URL, error) {
	job, doc, err := s.readyJob(ctx, session, taskID)
	if err != nil {
		return nil, err
	}
	return s.artifacts.PresignGet(ctx, job.ObjectKey, export.Filename(doc.Title, export.Format(job.Format)), s.cfg.DownloadURLExpiry)
}
