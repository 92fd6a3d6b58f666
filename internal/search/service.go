package search

import (
	"context"
	"log/slog"
)

// Index is a Searcher that can also be written to.
type Index interface {
	Searcher
	Indexer
}

// Service is the facade that tries the primary index first and falls back
// to Postgres FTS.
type Service struct {
	primary  Index
	fallback Searcher
	loader   func(ctx context.Context) ([]PassageRecord, error)
	logger   *slog.Logger
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Index, pgfts *PgFTS, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{primary: primary, logger: logger}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

// Search tries the primary index if healthy, otherwise falls back. Errors
// are logged and produce an empty result.
func (s *Service) Search(ctx context.Context, q Query) []Result {
	if s.primary != nil && s.primary.Healthy() {
		results, err := s.primary.Search(ctx, q)
		if err == nil {
			return nonNil(results)
		}
		s.logger.Warn("search: primary index error, falling back to pgfts", "error", err)
	}
	if s.fallback == nil {
		return []Result{}
	}
	results, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Warn("search: pgfts error", "error", err)
		return []Result{}
	}
	return nonNil(results)
}

// IndexDocument pushes the passages of a document and removes stale ones
// (fire-and-forget).
func (s *Service) IndexDocument(records []PassageRecord, stale []string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexPassages(records); err != nil {
			s.logger.Warn("search: index passages", "count", len(records), "error", err)
		}
		if len(stale) == 0 {
			return
		}
		if err := s.primary.DeletePassages(stale); err != nil {
			s.logger.Warn("search: delete stale passages", "count", len(stale), "error", err)
		}
	}()
}

// ReindexAllFromPG pushes every stored passage into the primary index.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.primary == nil || !s.primary.Healthy() || s.loader == nil {
		return
	}
	records, err := s.loader(ctx)
	if err != nil {
		s.logger.Warn("search: reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexPassages(records); err != nil {
		s.logger.Warn("search: reindex passages", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
