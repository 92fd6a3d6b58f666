// Package editor orchestrates one document editing session.
//
// An Editor owns the live title and content buffer and coordinates the
// asynchronous work around it: debounced autosave with manual retry,
// suggestion refresh/accept/reject, template application, version restore,
// the export job queue and the collaborator roster. Every content change
// goes through the session's single mutation path, which arms autosave.
//
// Close tears everything down: the autosave timer, every export poll timer
// and the presence subscription. Responses that arrive afterwards are
// dropped.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chronicle/editor/internal/clock"
	"chronicle/editor/internal/presence"
)

// Options configures an Editor.
type Options struct {
	// AutosaveDelay is the quiet period before an edit is saved.
	// Default: 1.5s.
	AutosaveDelay time.Duration

	// ExportPollInterval is the delay between status checks of one export
	// job. Default: 2s.
	ExportPollInterval time.Duration

	// SuggestionContext is the free-text context of the initial silent
	// suggestion refresh.
	SuggestionContext string

	Clock  clock.Clock
	Logger *slog.Logger

	// OnChange, if set, is called with a fresh State after every change.
	// It must not call back into the Editor's mutating methods.
	OnChange func(State)
}

func (o *Options) defaults() {
	if o.AutosaveDelay <= 0 {
		o.AutosaveDelay = 1500 * time.Millisecond
	}
	if o.ExportPollInterval <= 0 {
		o.ExportPollInterval = 2 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Collaborators are the backends an Editor talks to. Presence may be nil.
type Collaborators struct {
	Documents   DocumentAPI
	Templates   TemplateAPI
	Suggestions SuggestionAPI
	Exports     ExportAPI
	Versions    VersionAPI
	Presence    presence.Subscriber
}

func (c Collaborators) validate() error {
	switch {
	case c.Documents == nil:
		return errors.New("editor: Documents collaborator is required")
	case c.Templates == nil:
		return errors.New("editor: Templates collaborator is required")
	case c.Suggestions == nil:
		return errors.New("editor: Suggestions collaborator is required")
	case c.Exports == nil:
		return errors.New("editor: Exports collaborator is required")
	case c.Versions == nil:
		return errors.New("editor: Versions collaborator is required")
	}
	return nil
}

// State is a point-in-time view of everything the session exposes.
type State struct {
	DocumentID string
	Title      string
	Content    string
	Dirty      bool
	SaveState  SaveState
	SaveError  error
	SavedAt    time.Time
	UpdatedAt  time.Time

	Suggestions        []Suggestion
	SuggestionsLoading bool
	SuggestionError    error

	Exports       []ExportJob
	Versions      []VersionSnapshot
	Collaborators []presence.Collaborator

	Closed bool
}

type Editor struct {
	documentID string
	templates  TemplateAPI
	opts       Options

	session     *Session
	suggestions *Suggestions
	versions    *Versions
	exports     *ExportQueue
	roster      *Roster

	notifyMu  sync.Mutex
	mu        sync.Mutex
	closed    bool
	templList []Template
}

// Open loads the document and starts the session: it resumes polling for
// unfinished exports, loads versions, runs a silent suggestion refresh and
// subscribes to presence. Only the document fetch is fatal; the other
// start-up steps are logged and surface through State.
func Open(ctx context.Context, documentID string, c Collaborators, opts Options) (*Editor, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	opts.defaults()

	doc, err := c.Documents.FetchDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", documentID, err)
	}
	if doc.ID == "" {
		doc.ID = documentID
	}

	e := &Editor{
		documentID: documentID,
		templates:  c.Templates,
		opts:       opts,
	}
	e.session = newSession(doc, c.Documents, opts, e.notify)
	e.suggestions = newSuggestions(documentID, c.Suggestions, e.session, opts, e.notify)
	e.versions = newVersions(documentID, c.Versions, e.session, opts, e.notify)
	e.exports = newExportQueue(documentID, c.Exports, opts, e.notify)
	e.roster = newRoster(e.notify)

	logger := opts.Logger.With("document_id", documentID)
	if err := e.exports.Resume(ctx); err != nil {
		logger.Warn("resume export jobs failed", "error", err)
	}
	if err := e.versions.Refresh(ctx); err != nil {
		logger.Warn("load versions failed", "error", err)
	}
	_ = e.suggestions.Refresh(ctx, false, opts.SuggestionContext)
	if c.Presence != nil {
		if err := e.roster.subscribe(ctx, c.Presence, documentID); err != nil {
			logger.Warn("presence subscribe failed", "error", err)
		}
	}
	return e, nil
}

func (e *Editor) DocumentID() string { return e.documentID }

// SetContent replaces the content buffer and arms autosave.
func (e *Editor) SetContent(html string) error {
	return e.session.mutate(func(string) string { return html })
}

// AppendBlock appends a sanitized block to the content and arms autosave.
func (e *Editor) AppendBlock(html string) error {
	return e.session.mutate(func(current string) string { return appendBlock(current, html) })
}

// SetTitle changes the title without saving; CommitTitle saves it.
func (e *Editor) SetTitle(title string) error { return e.session.SetTitle(title) }

// CommitTitle is the title blur action: it saves immediately.
func (e *Editor) CommitTitle(ctx context.Context) error { return e.session.CommitTitle(ctx) }

func (e *Editor) RetrySave(ctx context.Context) error { return e.session.Retry(ctx) }

// Templates lists the available templates, caching the first answer.
func (e *Editor) Templates(ctx context.Context) ([]Template, error) {
	e.mu.Lock()
	if e.templList != nil {
		list := append([]Template(nil), e.templList...)
		e.mu.Unlock()
		return list, nil
	}
	e.mu.Unlock()

	list, err := e.templates.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.templList = append([]Template{}, list...)
	e.mu.Unlock()
	return list, nil
}

// UseTemplate renders a template and, only on success, replaces the
// content with the result.
func (e *Editor) UseTemplate(ctx context.Context, templateID string, input ApplyTemplateInput) error {
	if e.isClosed() {
		return ErrClosed
	}
	content, err := e.templates.ApplyTemplate(ctx, e.documentID, templateID, input)
	if err != nil {
		e.opts.Logger.Warn("template apply failed",
			"document_id", e.documentID,
			"template_id", templateID,
			"error", err,
		)
		return &TemplateApplyError{TemplateID: templateID, Err: err}
	}
	return e.session.mutate(func(string) string { return content })
}

func (e *Editor) RegenerateSuggestions(ctx context.Context, freeText string) error {
	return e.suggestions.Refresh(ctx, true, freeText)
}

func (e *Editor) AcceptSuggestion(ctx context.Context, suggestionID string) error {
	return e.suggestions.Accept(ctx, suggestionID)
}

func (e *Editor) RejectSuggestion(ctx context.Context, suggestionID string) error {
	return e.suggestions.Reject(ctx, suggestionID)
}

func (e *Editor) DismissSuggestionError() { e.suggestions.DismissError() }

func (e *Editor) QueueExport(ctx context.Context, request ExportRequest) (ExportJob, error) {
	return e.exports.Enqueue(ctx, request)
}

func (e *Editor) ExportNow(ctx context.Context, request ExportRequest) (string, error) {
	return e.exports.ExportNow(ctx, request)
}

// DownloadExport saves a ready job's artifact into dir.
func (e *Editor) DownloadExport(ctx context.Context, taskID, dir string) (string, error) {
	return e.exports.Download(ctx, taskID, dir)
}

func (e *Editor) RestoreVersion(ctx context.Context, versionID string) error {
	return e.versions.Restore(ctx, versionID)
}

func (e *Editor) RefreshVersions(ctx context.Context) error {
	return e.versions.Refresh(ctx)
}

func (e *Editor) State() State {
	session := e.session.snapshot()
	suggestions, loading, suggestionErr := e.suggestions.snapshot()
	return State{
		DocumentID:         e.documentID,
		Title:              session.title,
		Content:            session.content,
		Dirty:              session.dirty,
		SaveState:          session.saveState,
		SaveError:          session.lastErr,
		SavedAt:            session.savedAt,
		UpdatedAt:          session.updatedAt,
		Suggestions:        suggestions,
		SuggestionsLoading: loading,
		SuggestionError:    suggestionErr,
		Exports:            e.exports.snapshot(),
		Versions:           e.versions.snapshot(),
		Collaborators:      e.roster.snapshot(),
		Closed:             e.isClosed(),
	}
}

// Close cancels all pending work of the session. It is safe to call more
// than once.
func (e *Editor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.session.close()
	e.exports.close()
	e.suggestions.close()
	e.versions.close()
	e.roster.close()
}

func (e *Editor) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Editor) notify() {
	if e.opts.OnChange == nil || e.isClosed() {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.opts.OnChange(e.State())
}
