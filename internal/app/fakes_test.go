package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chronicle/editor/internal/auth"
	"chronicle/editor/internal/config"
	"chronicle/editor/internal/export"
	"chronicle/editor/internal/gitrepo"
	"chronicle/editor/internal/objectstore"
	"chronicle/editor/internal/presence"
	"chronicle/editor/internal/search"
	"chronicle/editor/internal/store"
	"chronicle/editor/internal/suggest"
)

// fakeStore keeps rows in memory. The Fn hooks override single methods.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	documents   map[string]store.Document
	templates   []store.Template
	suggestions map[string]store.Suggestion
	jobs        map[string]store.ExportJob
	passages    map[string][]store.Passage
	clock       time.Time

	pingFn                  func(context.Context) error
	updateDocumentContentFn func(context.Context, string, string, string, string) (store.Document, error)
	completeExportJobFn     func(context.Context, string, string, string) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		documents:   map[string]store.Document{},
		suggestions: map[string]store.Suggestion{},
		jobs:        map[string]store.ExportJob{},
		passages:    map[string][]store.Passage{},
		clock:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) EnsureUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = f.tick()
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (f *fakeStore) InsertDocument(_ context.Context, doc store.Document) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	doc.CreatedAt, doc.UpdatedAt = now, now
	f.documents[doc.ID] = doc
	return doc, nil
}

func (f *fakeStore) UpdateDocumentContent(ctx context.Context, id, title, content, updatedBy string) (store.Document, error) {
	if f.updateDocumentContentFn != nil {
		return f.updateDocumentContentFn(ctx, id, title, content, updatedBy)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	doc.Title, doc.Content, doc.UpdatedBy, doc.UpdatedAt = title, content, updatedBy, f.tick()
	f.documents[id] = doc
	return doc, nil
}

func (f *fakeStore) ListTemplates(context.Context) ([]store.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Template(nil), f.templates...), nil
}

func (f *fakeStore) GetTemplate(_ context.Context, id string) (store.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.templates {
		if t.ID == id {
			return t, nil
		}
	}
	return store.Template{}, store.ErrNotFound
}

func (f *fakeStore) ReplacePendingSuggestions(_ context.Context, documentID string, items []store.Suggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.suggestions {
		if s.DocumentID == documentID && s.Status == store.SuggestionPending {
			s.Status = store.SuggestionSuperseded
			f.suggestions[id] = s
		}
	}
	for _, item := range items {
		item.DocumentID = documentID
		item.Status = store.SuggestionPending
		item.CreatedAt = f.tick()
		f.suggestions[item.ID] = item
	}
	return nil
}

func (f *fakeStore) GetSuggestion(_ context.Context, documentID, id string) (store.Suggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.suggestions[id]
	if !ok || s.DocumentID != documentID {
		return store.Suggestion{}, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) DecideSuggestion(_ context.Context, documentID, id, status, decidedBy string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.suggestions[id]
	if !ok || s.DocumentID != documentID || s.Status != store.SuggestionPending {
		return false, nil
	}
	now := f.tick()
	s.Status, s.DecidedBy, s.DecidedAt = status, &decidedBy, &now
	f.suggestions[id] = s
	return true, nil
}

func (f *fakeStore) InsertExportJob(_ context.Context, job store.ExportJob) (store.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.Status == "" {
		job.Status = store.ExportQueued
	}
	job.QueuedAt = f.tick()
	f.jobs[job.TaskID] = job
	return job, nil
}

func (f *fakeStore) GetExportJob(_ context.Context, taskID string) (store.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[taskID]
	if !ok {
		return store.ExportJob{}, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) ListExportJobs(_ context.Context, documentID string) ([]store.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.ExportJob, 0)
	for _, job := range f.jobs {
		if job.DocumentID == documentID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.After(out[j].QueuedAt) })
	return out, nil
}

func (f *fakeStore) CompleteExportJob(ctx context.Context, taskID, objectKey, checksum string) error {
	if f.completeExportJobFn != nil {
		return f.completeExportJobFn(ctx, taskID, objectKey, checksum)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[taskID]
	if !ok || job.Status != store.ExportProcessing {
		return nil
	}
	now := f.tick()
	job.Status, job.ObjectKey, job.Checksum, job.CompletedAt = store.ExportReady, objectKey, checksum, &now
	f.jobs[taskID] = job
	return nil
}

func (f *fakeStore) FailExportJob(_ context.Context, taskID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[taskID]
	if !ok || (job.Status != store.ExportQueued && job.Status != store.ExportProcessing) {
		return nil
	}
	now := f.tick()
	job.Status, job.FailureReason, job.CompletedAt = store.ExportFailed, reason, &now
	f.jobs[taskID] = job
	return nil
}

func (f *fakeStore) ReplacePassages(_ context.Context, documentID string, passages []store.Passage) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := map[string]bool{}
	for _, p := range passages {
		kept[p.ID] = true
	}
	stale := make([]string, 0)
	for _, p := range f.passages[documentID] {
		if !kept[p.ID] {
			stale = append(stale, p.ID)
		}
	}
	f.passages[documentID] = passages
	return stale, nil
}

func (f *fakeStore) setJob(job store.ExportJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.TaskID] = job
}

func (f *fakeStore) job(taskID string) store.ExportJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[taskID]
}

type fakeArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeArtifacts) Put(_ context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = append([]byte(nil), data...)
	f.types[key] = contentType
	return nil
}

func (f *fakeArtifacts) Open(_ context.Context, key string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, 0, objectstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (f *fakeArtifacts) PresignGet(_ context.Context, key, filename string, expiry time.Duration) (*url.URL, error) {
	return &url.URL{
		Scheme:   "http",
		Host:     "minio.test",
		Path:     "/chronicle-exports/" + key,
		RawQuery: url.Values{"filename": {filename}, "expiry": {expiry.String()}}.Encode(),
	}, nil
}

type fakeIndexer struct {
	mu     sync.Mutex
	calls  int
	last   []search.PassageRecord
	stales []string
}

func (f *fakeIndexer) IndexDocument(records []search.PassageRecord, stale []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = records
	f.stales = append(f.stales, stale...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	count int
}

func (f *fakeNotifier) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
}

func (f *fakeNotifier) notified() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

const testSecret = "chronicle-test-secret"

type testEnv struct {
	store     *fakeStore
	artifacts *fakeArtifacts
	index     *fakeIndexer
	worker    *fakeNotifier
	versions  *gitrepo.Service
	redis     *miniredis.Miniredis
	service   *Service
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		store:     newFakeStore(),
		artifacts: newFakeArtifacts(),
		index:     &fakeIndexer{},
		worker:    &fakeNotifier{},
		versions:  gitrepo.New(t.TempDir()),
		redis:     mr,
	}
	cfg := config.Config{
		JWTSecret:         testSecret,
		TokenTTL:          time.Hour,
		DownloadURLExpiry: 15 * time.Minute,
	}
	env.service = New(cfg, Deps{
		Store:     env.store,
		Versions:  env.versions,
		Presence:  presence.NewRedisStoreWithClient(client, 30*time.Second),
		Artifacts: env.artifacts,
		Renderer:  export.NewService(),
		Suggester: suggest.New(nil),
		Search:    env.index,
		Worker:    env.worker,
		Policy:    config.DefaultExportPolicy(),
	})
	env.handler = NewHTTPServer(env.service, "*", true, nil).Handler()
	return env
}

// signIn creates a user and returns a bearer token for it.
func (e *testEnv) signIn(t *testing.T, id, name, role, tier string) string {
	t.Helper()
	if _, err := e.store.EnsureUser(context.Background(), store.User{ID: id, DisplayName: name, Role: role, PlanTier: tier}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	token, err := auth.IssueToken([]byte(testSecret), auth.NewClaims(id, name, role, tier), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) seedDocument(t *testing.T, id, title, content string) {
	t.Helper()
	if _, err := e.store.InsertDocument(context.Background(), store.Document{ID: id, Title: title, Content: content, UpdatedBy: "Seed"}); err != nil {
		t.Fatalf("seed document: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}
