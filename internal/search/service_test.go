package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeIndex struct {
	mu       sync.Mutex
	healthy  bool
	results  []Result
	err      error
	queries  []Query
	indexed  []PassageRecord
	deleted  []string
	indexErr error
	done     chan struct{}
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(_ context.Context, q Query) ([]Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.results, f.err
}

func (f *fakeIndex) IndexPassages(records []PassageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return f.indexErr
}

func (f *fakeIndex) DeletePassages(ids []string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, ids...)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

func TestServiceSearchUsesHealthyPrimary(t *testing.T) {
	primary := &fakeIndex{healthy: true, results: []Result{{ID: "doc-2-p0", DocumentID: "doc-2"}}}
	svc := NewService(primary, nil, nil)

	got := svc.Search(context.Background(), Query{Text: "revenue", ExcludeDocumentID: "doc-1"})
	if len(got) != 1 || got[0].ID != "doc-2-p0" {
		t.Fatalf("unexpected results: %+v", got)
	}
	if len(primary.queries) != 1 || primary.queries[0].ExcludeDocumentID != "doc-1" {
		t.Fatalf("query not forwarded: %+v", primary.queries)
	}
}

func TestServiceSearchDegradesToEmpty(t *testing.T) {
	cases := []struct {
		name    string
		primary Index
	}{
		{name: "no primary"},
		{name: "unhealthy primary", primary: &fakeIndex{healthy: false, results: []Result{{ID: "x"}}}},
		{name: "failing primary", primary: &fakeIndex{healthy: true, err: errors.New("boom")}},
		{name: "nil results", primary: &fakeIndex{healthy: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(tc.primary, nil, nil)
			got := svc.Search(context.Background(), Query{Text: "revenue"})
			if got == nil || len(got) != 0 {
				t.Fatalf("expected empty non-nil results, got %#v", got)
			}
		})
	}
}

func TestServiceIndexDocumentPushesAndDeletesStale(t *testing.T) {
	primary := &fakeIndex{healthy: true, done: make(chan struct{})}
	svc := NewService(primary, nil, nil)

	svc.IndexDocument([]PassageRecord{{ID: "doc-1-p0"}, {ID: "doc-1-p1"}}, []string{"doc-1-p2"})

	select {
	case <-primary.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for index")
	}
	primary.mu.Lock()
	defer primary.mu.Unlock()
	if len(primary.indexed) != 2 {
		t.Fatalf("expected 2 indexed passages, got %+v", primary.indexed)
	}
	if len(primary.deleted) != 1 || primary.deleted[0] != "doc-1-p2" {
		t.Fatalf("expected stale passage deleted, got %+v", primary.deleted)
	}
}

func TestServiceIndexDocumentSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeIndex{healthy: false}
	svc := NewService(primary, nil, nil)
	svc.IndexDocument([]PassageRecord{{ID: "doc-1-p0"}}, nil)
	svc.ReindexAllFromPG(context.Background())

	primary.mu.Lock()
	defer primary.mu.Unlock()
	if len(primary.indexed) != 0 {
		t.Fatalf("unhealthy primary should not be written, got %+v", primary.indexed)
	}
}
