package search

import (
	"context"
	"log"
)

type backend interface {
	Searcher
	Indexer
	IndexAll(posts []PostRecord, comments []CommentRecord, tags []TagRecord) error
}

type recordLoader interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]PostRecord, []CommentRecord, []TagRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Index writes are fire-and-forget.
type Service struct {
	meili backend
	pgfts recordLoader
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) indexing() bool {
	return s.meili != nil && s.meili.Healthy()
}

func (s *Service) background(what, id string, fn func() error) {
	if !s.indexing() {
		return
	}
	go func() {
		if err := fn(); err != nil {
			log.Printf("search: %s %s: %v", what, id, err)
		}
	}()
}

func (s *Service) IndexPost(p PostRecord) {
	s.background("index post", p.ID, func() error { return s.meili.IndexPost(p) })
}

func (s *Service) IndexComment(c CommentRecord) {
	s.background("index comment", c.ID, func() error { return s.meili.IndexComment(c) })
}

func (s *Service) IndexTag(t TagRecord) {
	s.background("index tag", t.ID, func() error { return s.meili.IndexTag(t) })
}

func (s *Service) DeletePost(id string) {
	s.background("delete post", id, func() error { return s.meili.DeletePost(id) })
}

func (s *Service) DeleteComment(id string) {
	s.background("delete comment", id, func() error { return s.meili.DeleteComment(id) })
}

func (s *Service) DeleteTag(id string) {
	s.background("delete tag", id, func() error { return s.meili.DeleteTag(id) })
}

// ReindexAllFromPG pushes every searchable row from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexing() || s.pgfts == nil {
		return
	}
	posts, comments, tags, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexAll(posts, comments, tags); err != nil {
		log.Printf("search: reindex: %v", err)
		return
	}
	log.Printf("search: reindexed %d posts, %d comments, %d tags", len(posts), len(comments), len(tags))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
