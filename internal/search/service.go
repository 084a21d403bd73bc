package search

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/util"
)

var plain = util.PlainText

// Service is the facade that tries the primary index first and falls back to
// a database searcher.
type Service struct {
	primary  Index
	fallback Searcher
	pending  sync.WaitGroup
}

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured.
func NewService(primary Index, fallback Searcher) *Service {
	return &Service{primary: primary, fallback: fallback}
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries the primary index if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: primary index error, falling back: %v", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexLaws indexes laws in the background.
func (s *Service) IndexLaws(records []LawRecord) {
	if len(records) == 0 || !s.primaryReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.primary.IndexLaws(records); err != nil {
			log.Printf("search: index %d laws: %v", len(records), err)
		}
	}()
}

// DeleteLaws removes laws from the index in the background.
func (s *Service) DeleteLaws(ids []int64) {
	if len(ids) == 0 || !s.primaryReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.primary.DeleteLaws(ids); err != nil {
			log.Printf("search: delete %d laws: %v", len(ids), err)
		}
	}()
}

// Wait blocks until background index writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAll pushes every law in repo to the primary index.
func (s *Service) ReindexAll(ctx context.Context, repo LawReader) (int, error) {
	if !s.primaryReady() {
		return 0, fmt.Errorf("search index unavailable")
	}
	records, err := LoadRecords(ctx, repo)
	if err != nil {
		return 0, err
	}
	if err := s.primary.IndexLaws(records); err != nil {
		return 0, fmt.Errorf("reindex laws: %w", err)
	}
	return len(records), nil
}

// LawHook keeps the index in step with committed law changes. A change in one
// law may renumber its siblings, so the whole tree is reindexed.
func (s *Service) LawHook(repo LawReader) laws.Hook {
	return func(ctx context.Context, change laws.Change) {
		s.DeleteLaws(change.RemovedIDs)
		if change.Kind == notify.EventGroupDeleted || change.LanguageID == 0 {
			return
		}
		if !s.primaryReady() {
			return
		}
		tree, err := repo.ListTreeLaws(ctx, change.Group.ID, change.LanguageID)
		if err != nil {
			log.Printf("search: reload group %d: %v", change.Group.ID, err)
			return
		}
		s.IndexLaws(Records(change.Group, tree))
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
