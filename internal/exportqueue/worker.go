// Package exportqueue runs the server side of asynchronous exports. Workers
// claim queued jobs, render them, store the artifact and mark the job
// ready or failed.
package exportqueue

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"chronicle/editor/internal/clock"
	"chronicle/editor/internal/export"
	"chronicle/editor/internal/objectstore"
	"chronicle/editor/internal/store"
)

// Failure reasons recorded on jobs.
const (
	ReasonUnsupportedFormat = "Export format is not supported."
	ReasonRendererMissing   = "This export format is not available on the server."
	ReasonRenderFailed      = "The document could not be rendered."
	ReasonStoreFailed       = "The export could not be stored."
	ReasonDocumentMissing   = "The document no longer exists."
	ReasonTooManyAttempts   = "The export was interrupted too many times."
)

type JobStore interface {
	// ClaimNextExportJob claims a queued job or one whose processing
	// lease has expired.
	ClaimNextExportJob(ctx context.Context, lease time.Duration) (store.ExportJob, error)
	CompleteExportJob(ctx context.Context, taskID, objectKey, checksum string) error
	FailExportJob(ctx context.Context, taskID, reason string) error
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
}

type Renderer interface {
	Export(ctx context.Context, doc export.Document, format export.Format, opts export.Options) (*export.Result, error)
}

type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type Config struct {
	// Workers is the number of concurrent renders. Defaults to 2.
	Workers int

	// PollInterval is how long an idle worker waits before looking for
	// jobs again when nobody calls Notify. Defaults to 5s.
	PollInterval time.Duration

	// Lease is how long a job may stay in processing before another
	// worker may reclaim it. Defaults to 5m.
	Lease time.Duration

	// MaxAttempts bounds how often a job is claimed. Defaults to 3.
	MaxAttempts int

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type Worker struct {
	jobs      JobStore
	renderer  Renderer
	artifacts ArtifactStore
	cfg       Config
	wake      chan struct{}
}

func New(jobs JobStore, renderer Renderer, artifacts ArtifactStore, cfg Config) *Worker {
	cfg.defaults()
	return &Worker{
		jobs:      jobs,
		renderer:  renderer,
		artifacts: artifacts,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
	}
}

// Notify wakes an idle worker. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run processes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			w.loop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, worker int) {
	logger := w.cfg.Logger.With("worker", worker)
	for {
		for {
			processed, err := w.ProcessNext(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("exportqueue: process job", "error", err)
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-w.cfg.Clock.After(w.cfg.PollInterval):
		}
	}
}

// ProcessNext claims and processes one job. It reports false when the
// queue is empty. Render and storage failures mark the job failed and are
// not returned.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextExportJob(ctx, w.cfg.Lease)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	logger := w.cfg.Logger.With("task_id", job.TaskID, "document_id", job.DocumentID, "format", job.Format)
	if reason := w.process(ctx, job, logger); reason != "" {
		logger.Warn("exportqueue: job failed", "reason", reason)
		if err := w.jobs.FailExportJob(ctx, job.TaskID, reason); err != nil {
			return true, err
		}
		return true, nil
	}
	logger.Info("exportqueue: job ready")
	return true, nil
}

// process returns a failure reason, or "" once the job is complete.
func (w *Worker) process(ctx context.Context, job store.ExportJob, logger *slog.Logger) string {
	if job.Attempts > w.cfg.MaxAttempts {
		return ReasonTooManyAttempts
	}
	format, err := export.ParseFormat(job.Format)
	if err != nil {
		return ReasonUnsupportedFormat
	}
	doc, err := w.jobs.GetDocument(ctx, job.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return ReasonDocumentMissing
	}
	if err != nil {
		logger.Warn("exportqueue: load document", "error", err)
		return ReasonRenderFailed
	}

	result, err := w.renderer.Export(ctx, export.Document{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		Author:    doc.UpdatedBy,
		UpdatedAt: doc.UpdatedAt,
	}, format, export.OptionsFromMap(job.Options))
	switch {
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		logger.Warn("exportqueue: renderer unavailable", "error", err)
		return ReasonRendererMissing
	case err != nil:
		logger.Warn("exportqueue: render", "error", err)
		return ReasonRenderFailed
	}

	key := objectstore.ExportKey(job.DocumentID, job.TaskID, format.Extension())
	if err := w.artifacts.Put(ctx, key, result.Data, result.MimeType); err != nil {
		logger.Warn("exportqueue: store artifact", "error", err)
		return ReasonStoreFailed
	}
	if err := w.jobs.CompleteExportJob(ctx, job.TaskID, key, Checksum(result.Data)); err != nil {
		logger.Warn("exportqueue: complete job", "error", err)
		return ReasonStoreFailed
	}
	return ""
}

// Checksum is the hex blake2b-256 digest recorded on ready jobs.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
