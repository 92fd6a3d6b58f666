package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUser inserts user or refreshes the name, role and tier of an
// existing row with the same id.
func (s *PostgresStore) EnsureUser(ctx context.Context, user User) (User, error) {
	if user.Email == "" {
		user.Email = user.ID + "@local.chronicle.dev"
	}
	if user.Role == "" {
		user.Role = "editor"
	}
	if user.PlanTier == "" {
		user.PlanTier = "free"
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email, role, plan_tier)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET display_name=EXCLUDED.display_name, role=EXCLUDED.role, plan_tier=EXCLUDED.plan_tier
		RETURNING created_at
	`, user.ID, user.DisplayName, user.Email, user.Role, user.PlanTier).Scan(&user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, plan_tier, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.PlanTier, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, owner_id, updated_by_name, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.Title, &item.Content, &item.OwnerID, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) (Document, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, content, owner_id, updated_by_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, item.ID, item.Title, item.Content, item.OwnerID, item.UpdatedBy).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, documentID, title, content, updatedBy string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET title=$2, content=$3, updated_by_name=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING id, title, content, owner_id, updated_by_name, created_at, updated_at
	`, documentID, title, content, updatedBy).Scan(&item.ID, &item.Title, &item.Content, &item.OwnerID, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("update document content: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, body
		FROM templates
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		var item Template
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Body); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (Template, error) {
	var item Template
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, body
		FROM templates
		WHERE id=$1
	`, templateID).Scan(&item.ID, &item.Name, &item.Description, &item.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, fmt.Errorf("get template: %w", err)
	}
	return item, nil
}

// ReplacePendingSuggestions marks every pending suggestion of the document
// superseded and inserts items as the new pending set.
func (s *PostgresStore) ReplacePendingSuggestions(ctx context.Context, documentID string, items []Suggestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin suggestions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE suggestions
		SET status='superseded'
		WHERE document_id=$1 AND status='pending'
	`, documentID); err != nil {
		return fmt.Errorf("supersede suggestions: %w", err)
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO suggestions (id, document_id, title, content, confidence, reasoning, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		`, item.ID, documentID, item.Title, item.Content, item.Confidence, item.Reasoning); err != nil {
			return fmt.Errorf("insert suggestion %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit suggestions tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSuggestion(ctx context.Context, documentID, suggestionID string) (Suggestion, error) {
	var item Suggestion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, title, content, confidence, reasoning, status, decided_by, decided_at, created_at
		FROM suggestions
		WHERE document_id=$1 AND id=$2
	`, documentID, suggestionID).Scan(
		&item.ID, &item.DocumentID, &item.Title, &item.Content, &item.Confidence,
		&item.Reasoning, &item.Status, &item.DecidedBy, &item.DecidedAt, &item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Suggestion{}, ErrNotFound
	}
	if err != nil {
		return Suggestion{}, fmt.Errorf("get suggestion: %w", err)
	}
	return item, nil
}

// DecideSuggestion moves a pending suggestion to status. It reports false
// when the suggestion is not pending.
func (s *PostgresStore) DecideSuggestion(ctx context.Context, documentID, suggestionID, status, decidedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE suggestions
		SET status=$3, decided_by=$4, decided_at=NOW()
		WHERE document_id=$1 AND id=$2 AND status='pending'
	`, documentID, suggestionID, status, decidedBy)
	if err != nil {
		return false, fmt.Errorf("decide suggestion: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide suggestion rows: %w", err)
	}
	return affected > 0, nil
}

const exportJobColumns = `task_id, document_id, format, options, status, object_key, checksum,
	failure_reason, requested_by, attempts, queued_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExportJob(row rowScanner) (ExportJob, error) {
	var (
		job     ExportJob
		options []byte
	)
	if err := row.Scan(
		&job.TaskID, &job.DocumentID, &job.Format, &options, &job.Status, &job.ObjectKey, &job.Checksum,
		&job.FailureReason, &job.RequestedBy, &job.Attempts, &job.QueuedAt, &job.StartedAt, &job.CompletedAt,
	); err != nil {
		return ExportJob{}, err
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return ExportJob{}, fmt.Errorf("decode export options: %w", err)
		}
	}
	return job, nil
}

// InsertExportJob adds a job in job.Status, queued by default. A job
// inserted as processing is never claimed by the workers.
func (s *PostgresStore) InsertExportJob(ctx context.Context, job ExportJob) (ExportJob, error) {
	options := job.Options
	if options == nil {
		options = map[string]any{}
	}
	payload, err := json.Marshal(options)
	if err != nil {
		return ExportJob{}, fmt.Errorf("encode export options: %w", err)
	}
	status := job.Status
	if status == "" {
		status = ExportQueued
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO export_jobs (task_id, document_id, format, options, status, requested_by, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $5::text='processing' THEN NOW() END)
		RETURNING `+exportJobColumns,
		job.TaskID, job.DocumentID, job.Format, payload, status, job.RequestedBy)
	inserted, err := scanExportJob(row)
	if err != nil {
		return ExportJob{}, fmt.Errorf("insert export job: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetExportJob(ctx context.Context, taskID string) (ExportJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+exportJobColumns+` FROM export_jobs WHERE task_id=$1`, taskID)
	job, err := scanExportJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ExportJob{}, ErrNotFound
	}
	if err != nil {
		return ExportJob{}, fmt.Errorf("get export job: %w", err)
	}
	return job, nil
}

// ListExportJobs returns the jobs of a document, newest first.
func (s *PostgresStore) ListExportJobs(ctx context.Context, documentID string) ([]ExportJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+exportJobColumns+`
		FROM export_jobs
		WHERE document_id=$1
		ORDER BY queued_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	defer rows.Close()

	items := make([]ExportJob, 0)
	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export job: %w", err)
		}
		items = append(items, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export jobs: %w", err)
	}
	return items, nil
}

// ClaimNextExportJob moves the oldest claimable job to processing and
// returns it. A job is claimable when it is queued or when its processing
// lease has expired; reclaiming keeps the job in processing and counts
// another attempt. It returns ErrNotFound when nothing is claimable.
// Concurrent workers never claim the same job.
func (s *PostgresStore) ClaimNextExportJob(ctx context.Context, lease time.Duration) (ExportJob, error) {
	row := s.db.QueryRowContext(ctx, claimExportJobQuery, lease.Seconds())
	job, err := scanExportJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ExportJob{}, ErrNotFound
	}
	if err != nil {
		return ExportJob{}, fmt.Errorf("claim export job: %w", err)
	}
	return job, nil
}

const claimExportJobQuery = `
		UPDATE export_jobs
		SET status='processing', started_at=NOW(), attempts=attempts+1
		WHERE task_id = (
			SELECT task_id FROM export_jobs
			WHERE status='queued'
				OR (status='processing' AND started_at < NOW() - make_interval(secs => $1))
			ORDER BY queued_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + exportJobColumns

func (s *PostgresStore) CompleteExportJob(ctx context.Context, taskID, objectKey, checksum string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET status='ready', object_key=$2, checksum=$3, completed_at=NOW()
		WHERE task_id=$1 AND status='processing'
	`, taskID, objectKey, checksum)
	if err != nil {
		return fmt.Errorf("complete export job: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailExportJob(ctx context.Context, taskID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET status='failed', failure_reason=$2, completed_at=NOW()
		WHERE task_id=$1 AND status IN ('queued', 'processing')
	`, taskID, reason)
	if err != nil {
		return fmt.Errorf("fail export job: %w", err)
	}
	return nil
}

// ReplacePassages swaps the indexed passages of a document. It returns
// the ids of removed passages that are not part of the new set.
func (s *PostgresStore) ReplacePassages(ctx context.Context, documentID string, passages []Passage) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin passages tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `DELETE FROM passages WHERE document_id=$1 RETURNING id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("delete passages: %w", err)
	}
	removed := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan removed passage: %w", err)
		}
		removed = append(removed, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate removed passages: %w", err)
	}

	kept := make(map[string]bool, len(passages))
	for _, p := range passages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO passages (id, document_id, position, heading, body)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, documentID, p.Position, p.Heading, p.Body); err != nil {
			return nil, fmt.Errorf("insert passage %s: %w", p.ID, err)
		}
		kept[p.ID] = true
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit passages tx: %w", err)
	}

	stale := make([]string, 0, len(removed))
	for _, id := range removed {
		if !kept[id] {
			stale = append(stale, id)
		}
	}
	return stale, nil
}
