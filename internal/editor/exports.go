package editor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chronicle/editor/internal/clock"
)

// ExportQueue tracks the export jobs of one document. Every non-terminal
// job has exactly one poll timer in the registry; the timer is dropped as
// soon as the job reaches ready or failed.
type ExportQueue struct {
	documentID string
	api        ExportAPI
	clock      clock.Clock
	interval   time.Duration
	logger     *slog.Logger
	notify     func()

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	jobs   []ExportJob
	polls  map[string]*pollHandle
	closed bool
}

// pollHandle identifies one task's poll loop. A callback whose handle is
// no longer registered is stale and does nothing.
type pollHandle struct {
	timer *clock.Timer
}

func newExportQueue(documentID string, api ExportAPI, opts Options, notify func()) *ExportQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExportQueue{
		documentID: documentID,
		api:        api,
		clock:      opts.Clock,
		interval:   opts.ExportPollInterval,
		logger:     opts.Logger,
		notify:     notify,
		ctx:        ctx,
		cancel:     cancel,
		polls:      make(map[string]*pollHandle),
	}
}

// Resume loads every job of the document and resumes polling the ones that
// are not terminal yet.
func (q *ExportQueue) Resume(ctx context.Context) error {
	jobs, err := q.api.ListExportJobs(ctx, q.documentID)
	if err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	for _, job := range jobs {
		q.upsertLocked(job)
	}
	for _, job := range q.jobs {
		if !job.Status.Terminal() {
			q.startPollingLocked(job.TaskID)
		}
	}
	q.mu.Unlock()

	q.notify()
	return nil
}

// Enqueue requests an asynchronous export, records a provisional job from
// the immediate answer, and starts polling it. A refused request leaves
// the job list untouched.
func (q *ExportQueue) Enqueue(ctx context.Context, request ExportRequest) (ExportJob, error) {
	if q.isClosed() {
		return ExportJob{}, ErrClosed
	}
	result, err := q.api.EnqueueExport(ctx, q.documentID, request)
	if err != nil {
		failure := ClassifyExportError(err)
		q.logger.Warn("export enqueue failed",
			"document_id", q.documentID,
			"format", request.Format,
			"kind", failure.Kind,
			"error", err,
		)
		return ExportJob{}, &ExportEnqueueError{Failure: failure, Err: err}
	}

	job := ExportJob{
		TaskID:     result.TaskID,
		DocumentID: q.documentID,
		Format:     result.Format,
		Status:     result.Status,
		QueuedAt:   q.clock.Now(),
	}
	if job.Format == "" {
		job.Format = request.Format
	}
	if job.Status == "" {
		job.Status = ExportQueued
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ExportJob{}, ErrClosed
	}
	if _, ok := q.indexLocked(job.TaskID); ok {
		q.upsertLocked(job)
	} else {
		q.jobs = append([]ExportJob{job}, q.jobs...)
	}
	if !job.Status.Terminal() {
		q.startPollingLocked(job.TaskID)
	}
	q.mu.Unlock()

	q.notify()
	return job, nil
}

// ExportNow runs a synchronous export and returns its download URL.
func (q *ExportQueue) ExportNow(ctx context.Context, request ExportRequest) (string, error) {
	if q.isClosed() {
		return "", ErrClosed
	}
	result, err := q.api.Export(ctx, q.documentID, request)
	if err != nil {
		return "", &ExportEnqueueError{Failure: ClassifyExportError(err), Err: err}
	}
	return result.DownloadURL, nil
}

// Download fetches a ready job's artifact into dir and returns the saved
// path. Failures never change the job.
func (q *ExportQueue) Download(ctx context.Context, taskID, dir string) (string, error) {
	job, ok := q.Job(taskID)
	if !ok {
		return "", ErrJobNotFound
	}
	if job.DownloadURL == "" {
		return "", ErrExportNotReady
	}

	body, err := q.api.Download(ctx, job.DownloadURL)
	if err != nil {
		return "", &DownloadError{TaskID: taskID, Err: err}
	}
	defer body.Close()

	path, err := saveArtifact(dir, artifactName(job), body, job.Checksum)
	if err != nil {
		return "", &DownloadError{TaskID: taskID, Err: err}
	}
	return path, nil
}

func (q *ExportQueue) Job(taskID string) (ExportJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, ok := q.indexLocked(taskID)
	if !ok {
		return ExportJob{}, false
	}
	return q.jobs[i], true
}

func (q *ExportQueue) snapshot() []ExportJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ExportJob(nil), q.jobs...)
}

// polling reports how many poll loops are registered.
func (q *ExportQueue) polling() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.polls)
}

func (q *ExportQueue) startPollingLocked(taskID string) {
	if _, ok := q.polls[taskID]; ok {
		return
	}
	handle := &pollHandle{}
	q.polls[taskID] = handle
	handle.timer = q.clock.AfterFunc(q.interval, func() { q.poll(taskID, handle) })
}

func (q *ExportQueue) poll(taskID string, handle *pollHandle) {
	if !q.current(taskID, handle) {
		return
	}

	job, err := q.api.GetExportJob(q.ctx, q.documentID, taskID)

	q.mu.Lock()
	if q.closed || q.polls[taskID] != handle {
		q.mu.Unlock()
		return
	}
	if err != nil {
		delete(q.polls, taskID)
		q.failLocked(taskID, ExportPollFailureReason)
		q.mu.Unlock()

		q.logger.Warn("export status poll failed, giving up",
			"document_id", q.documentID,
			"task_id", taskID,
			"error", err,
		)
		q.notify()
		return
	}

	job.TaskID = taskID
	q.upsertLocked(job)
	i, _ := q.indexLocked(taskID)
	if q.jobs[i].Status.Terminal() {
		delete(q.polls, taskID)
	} else {
		handle.timer = q.clock.AfterFunc(q.interval, func() { q.poll(taskID, handle) })
	}
	q.mu.Unlock()

	q.notify()
}

func (q *ExportQueue) current(taskID string, handle *pollHandle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed && q.polls[taskID] == handle
}

// upsertLocked merges job into the list by task id. Status never moves
// backwards and a terminal job is final.
func (q *ExportQueue) upsertLocked(job ExportJob) {
	if job.Status.rank() < 0 {
		return
	}
	i, ok := q.indexLocked(job.TaskID)
	if !ok {
		q.jobs = append(q.jobs, job)
		return
	}
	existing := q.jobs[i]
	if existing.Status.Terminal() || job.Status.rank() < existing.Status.rank() {
		return
	}
	if job.DocumentID == "" {
		job.DocumentID = existing.DocumentID
	}
	if job.Format == "" {
		job.Format = existing.Format
	}
	if job.QueuedAt.IsZero() {
		job.QueuedAt = existing.QueuedAt
	}
	q.jobs[i] = job
}

func (q *ExportQueue) failLocked(taskID, reason string) {
	i, ok := q.indexLocked(taskID)
	if !ok || q.jobs[i].Status.Terminal() {
		return
	}
	now := q.clock.Now()
	q.jobs[i].Status = ExportFailed
	q.jobs[i].FailureReason = reason
	q.jobs[i].DownloadURL = ""
	q.jobs[i].CompletedAt = &now
}

func (q *ExportQueue) indexLocked(taskID string) (int, bool) {
	for i := range q.jobs {
		if q.jobs[i].TaskID == taskID {
			return i, true
		}
	}
	return 0, false
}

func (q *ExportQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// close stops every poll timer of the session.
func (q *ExportQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for taskID, handle := range q.polls {
		handle.timer.Stop()
		delete(q.polls, taskID)
	}
	q.cancel()
}
