package search

import "context"

// Result is a single passage hit.
type Result struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	Heading    string  `json:"heading"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// Query describes a search request. Passages of ExcludeDocumentID are
// left out of the results.
type Query struct {
	Text              string
	ExcludeDocumentID string
	Limit             int
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
	Healthy() bool
}

// Indexer can push passages into a search index.
type Indexer interface {
	IndexPassages(records []PassageRecord) error
	DeletePassages(ids []string) error
}

// PassageRecord is the data we index for one passage.
type PassageRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Heading    string `json:"heading"`
	Body       string `json:"body"`
	Position   int    `json:"position"`
}

const defaultLimit = 10
