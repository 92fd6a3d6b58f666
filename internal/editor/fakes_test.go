package editor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"chronicle/editor/internal/clock"
	"chronicle/editor/internal/presence"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu sync.Mutex

	saves    []SaveInput
	polls    []string
	accepted []string
	rejected []string
	calls    []string

	fetchFn         func(documentID string) (Document, error)
	saveFn          func(input SaveInput) (Document, error)
	listTemplatesFn func() ([]Template, error)
	applyTemplateFn func(templateID string, input ApplyTemplateInput) (string, error)
	suggestFn       func(input SuggestInput) ([]Suggestion, error)
	acceptFn        func(suggestionID string) error
	rejectFn        func(suggestionID string) error
	exportFn        func(request ExportRequest) (ExportResult, error)
	enqueueFn       func(request ExportRequest) (EnqueueResult, error)
	listJobsFn      func() ([]ExportJob, error)
	getJobFn        func(taskID string) (ExportJob, error)
	downloadFn      func(downloadURL string) (io.ReadCloser, error)
	listVersionsFn  func() ([]VersionSnapshot, error)
	restoreFn       func(versionID string) (string, error)
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) FetchDocument(_ context.Context, documentID string) (Document, error) {
	if f.fetchFn != nil {
		return f.fetchFn(documentID)
	}
	return Document{ID: documentID, Title: "Quarterly plan", Content: "<p>Hello</p>", UpdatedAt: epoch}, nil
}

func (f *fakeAPI) SaveDocument(_ context.Context, documentID string, input SaveInput) (Document, error) {
	f.mu.Lock()
	f.saves = append(f.saves, input)
	f.mu.Unlock()
	f.record("save")
	if f.saveFn != nil {
		return f.saveFn(input)
	}
	return Document{ID: documentID, Title: input.Title, Content: input.Content}, nil
}

func (f *fakeAPI) ListTemplates(context.Context) ([]Template, error) {
	if f.listTemplatesFn != nil {
		return f.listTemplatesFn()
	}
	return []Template{{ID: "tpl-1", Name: "Memo"}}, nil
}

func (f *fakeAPI) ApplyTemplate(_ context.Context, _ string, templateID string, input ApplyTemplateInput) (string, error) {
	if f.applyTemplateFn != nil {
		return f.applyTemplateFn(templateID, input)
	}
	return "<h1>Memo</h1>", nil
}

func (f *fakeAPI) Suggest(_ context.Context, _ string, input SuggestInput) ([]Suggestion, error) {
	f.record("suggest")
	if f.suggestFn != nil {
		return f.suggestFn(input)
	}
	return nil, nil
}

func (f *fakeAPI) AcceptSuggestion(_ context.Context, _ string, suggestionID string) error {
	f.record("accept:" + suggestionID)
	if f.acceptFn != nil {
		if err := f.acceptFn(suggestionID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.accepted = append(f.accepted, suggestionID)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) RejectSuggestion(_ context.Context, _ string, suggestionID string) error {
	f.record("reject:" + suggestionID)
	if f.rejectFn != nil {
		if err := f.rejectFn(suggestionID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.rejected = append(f.rejected, suggestionID)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) Export(_ context.Context, _ string, request ExportRequest) (ExportResult, error) {
	if f.exportFn != nil {
		return f.exportFn(request)
	}
	return ExportResult{DownloadURL: "/exports/now.pdf"}, nil
}

func (f *fakeAPI) EnqueueExport(_ context.Context, _ string, request ExportRequest) (EnqueueResult, error) {
	f.record("enqueue")
	if f.enqueueFn != nil {
		return f.enqueueFn(request)
	}
	return EnqueueResult{TaskID: "task-1", Status: ExportQueued, Format: request.Format}, nil
}

func (f *fakeAPI) ListExportJobs(context.Context, string) ([]ExportJob, error) {
	if f.listJobsFn != nil {
		return f.listJobsFn()
	}
	return nil, nil
}

func (f *fakeAPI) GetExportJob(_ context.Context, _ string, taskID string) (ExportJob, error) {
	f.mu.Lock()
	f.polls = append(f.polls, taskID)
	f.mu.Unlock()
	if f.getJobFn != nil {
		return f.getJobFn(taskID)
	}
	return ExportJob{TaskID: taskID, Status: ExportProcessing}, nil
}

func (f *fakeAPI) Download(_ context.Context, downloadURL string) (io.ReadCloser, error) {
	if f.downloadFn != nil {
		return f.downloadFn(downloadURL)
	}
	return io.NopCloser(strings.NewReader("%PDF-1.7")), nil
}

func (f *fakeAPI) ListVersions(context.Context, string) ([]VersionSnapshot, error) {
	if f.listVersionsFn != nil {
		return f.listVersionsFn()
	}
	return []VersionSnapshot{{ID: "v1", Label: "Initial draft", CreatedAt: epoch}}, nil
}

func (f *fakeAPI) RestoreVersion(_ context.Context, _ string, versionID string) (string, error) {
	f.record("restore:" + versionID)
	if f.restoreFn != nil {
		return f.restoreFn(versionID)
	}
	return "<p>Restored " + versionID + "</p>", nil
}

func (f *fakeAPI) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeAPI) lastSave() SaveInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return SaveInput{}
	}
	return f.saves[len(f.saves)-1]
}

func (f *fakeAPI) pollCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.polls {
		if id == taskID {
			n++
		}
	}
	return n
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// testAPIError mimics a backend error carrying a status and structured
// detail.
type testAPIError struct {
	status int
	detail map[string]any
}

func (e *testAPIError) Error() string { return "api error" }
func (e *testAPIError) StatusCode() int { return e.status }
func (e *testAPIError) Detail() map[string]any { return e.detail }

type fakePresence struct {
	mu           sync.Mutex
	onUpdate     presence.UpdateFunc
	unsubscribed int
	err          error
}

func (p *fakePresence) Subscribe(_ context.Context, _ string, onUpdate presence.UpdateFunc) (presence.Unsubscribe, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.mu.Lock()
	p.onUpdate = onUpdate
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.unsubscribed++
		p.mu.Unlock()
	}, nil
}

func (p *fakePresence) push(roster []presence.Collaborator) {
	p.mu.Lock()
	onUpdate := p.onUpdate
	p.mu.Unlock()
	onUpdate(roster)
}

var errBoom = errors.New("boom")

func collaborators(api *fakeAPI) Collaborators {
	return Collaborators{
		Documents:   api,
		Templates:   api,
		Suggestions: api,
		Exports:     api,
		Versions:    api,
	}
}

func openEditor(t *testing.T, api *fakeAPI, opts Options) (*Editor, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	opts.Clock = fake
	e, err := Open(context.Background(), "doc-123", collaborators(api), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(e.Close)
	return e, fake
}
