package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxPassages = "chronicle_passages"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the passage index.
// An unreachable server is not an error; the health loop keeps probing.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("search: meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPassages,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("search: create index (may already exist)", "index", idxPassages, "error", err)
	}

	index := m.client.Index(idxPassages)
	filterable := []interface{}{"documentId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("search: update filterable attrs", "index", idxPassages, "error", err)
	}
	searchable := []string{"title", "heading", "body"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("search: update searchable attrs", "index", idxPassages, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, error) {
	if !m.healthy.Load() {
		return nil, errors.New("meilisearch unhealthy")
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}

	req := &meili.SearchRequest{
		IndexUID:              idxPassages,
		Query:                 q.Text,
		Limit:                 limit,
		AttributesToHighlight: []string{"body"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
		ShowRankingScore:      true,
	}
	if q.ExcludeDocumentID != "" {
		req.Filter = fmt.Sprintf("documentId != %q", q.ExcludeDocumentID)
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{req},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:         decodeString(hit, "id"),
		DocumentID: decodeString(hit, "documentId"),
		Title:      decodeString(hit, "title"),
		Heading:    decodeString(hit, "heading"),
		Snippet:    firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body")),
		Score:      decodeFloat(hit, "_rankingScore"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFloat(hit meili.Hit, key string) float64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexPassages adds or updates passages in the index.
func (m *Meili) IndexPassages(records []PassageRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPassages).AddDocuments(records, nil)
	return err
}

// DeletePassages removes passages by id.
func (m *Meili) DeletePassages(ids []string) error {
	index := m.client.Index(idxPassages)
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("delete passage %s: %w", id, err)
		}
	}
	return nil
}
