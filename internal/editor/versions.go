package editor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Versions lists snapshots and restores them into the session.
type Versions struct {
	documentID string
	api        VersionAPI
	session    *Session
	logger     *slog.Logger
	notify     func()

	mu     sync.Mutex
	list   []VersionSnapshot
	closed bool
}

func newVersions(documentID string, api VersionAPI, session *Session, opts Options, notify func()) *Versions {
	return &Versions{
		documentID: documentID,
		api:        api,
		session:    session,
		logger:     opts.Logger,
		notify:     notify,
	}
}

// Refresh reloads the snapshot list.
func (v *Versions) Refresh(ctx context.Context) error {
	list, err := v.api.ListVersions(ctx, v.documentID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.list = append([]VersionSnapshot(nil), list...)
	v.mu.Unlock()

	v.notify()
	return nil
}

// Restore asks the backend to restore versionID and, on success, replaces
// both the live content and the saved baseline with the restored content.
// A failed restore leaves the session untouched.
func (v *Versions) Restore(ctx context.Context, versionID string) error {
	if v.isClosed() {
		return ErrClosed
	}
	content, err := v.api.RestoreVersion(ctx, v.documentID, versionID)
	if err != nil {
		v.logger.Warn("version restore failed",
			"document_id", v.documentID,
			"version_id", versionID,
			"error", err,
		)
		return &VersionRestoreError{VersionID: versionID, Err: err}
	}
	if err := v.session.replaceBaseline(content); err != nil {
		return err
	}

	if err := v.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) {
		v.logger.Warn("version list refresh after restore failed",
			"document_id", v.documentID,
			"error", err,
		)
	}
	return nil
}

func (v *Versions) snapshot() []VersionSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]VersionSnapshot(nil), v.list...)
}

func (v *Versions) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *Versions) close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
}
