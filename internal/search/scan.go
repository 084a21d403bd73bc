package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/timeers/root-website-sub000/internal/store"
)

// LawReader is the slice of store.Repository needed to walk every tree.
type LawReader interface {
	ListLanguages(ctx context.Context) ([]store.Language, error)
	ListGroups(ctx context.Context, filter store.GroupFilter) ([]store.LawGroup, error)
	ListTreeLaws(ctx context.Context, groupID, languageID int64) ([]store.Law, error)
}

// ScanSearcher matches laws by walking the repository. It backs search when
// neither Meilisearch nor Postgres is available, e.g. with the memory store.
type ScanSearcher struct {
	repo LawReader
}

func NewScanSearcher(repo LawReader) *ScanSearcher {
	return &ScanSearcher{repo: repo}
}

func (s *ScanSearcher) Healthy() bool { return true }

// Search returns laws whose plain title or description contains every query
// term, title hits first.
func (s *ScanSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(plain(q.Text)))
	if len(terms) == 0 {
		return nil, 0, nil
	}
	limit, offset := normalizePage(q)

	records, err := LoadRecords(ctx, s.repo)
	if err != nil {
		return nil, 0, err
	}

	type hit struct {
		record  LawRecord
		inTitle bool
	}
	var hits []hit
	for _, record := range records {
		if q.LanguageID != 0 && record.LanguageID != q.LanguageID {
			continue
		}
		if q.GroupID != 0 && record.GroupID != q.GroupID {
			continue
		}
		title := strings.ToLower(record.Title)
		text := title + " " + strings.ToLower(record.Description)
		if !containsAll(text, terms) {
			continue
		}
		hits = append(hits, hit{record: record, inTitle: containsAll(title, terms)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].inTitle && !hits[j].inTitle
	})

	total := len(hits)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	results := make([]Result, 0, end-offset)
	for _, h := range hits[offset:end] {
		results = append(results, Result{
			ID:         h.record.ID,
			GroupID:    h.record.GroupID,
			LanguageID: h.record.LanguageID,
			LawCode:    h.record.LawCode,
			Title:      h.record.Title,
			Snippet:    snippet(h.record.Description, 30),
			GroupTitle: h.record.GroupTitle,
		})
	}
	return results, total, nil
}

// LoadRecords returns every law of every group in every language, ready for
// a full reindex.
func LoadRecords(ctx context.Context, repo LawReader) ([]LawRecord, error) {
	languages, err := repo.ListLanguages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load languages: %w", err)
	}
	groups, err := repo.ListGroups(ctx, store.GroupFilter{})
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	var records []LawRecord
	for _, group := range groups {
		for _, language := range languages {
			tree, err := repo.ListTreeLaws(ctx, group.ID, language.ID)
			if err != nil {
				return nil, fmt.Errorf("load laws of group %d: %w", group.ID, err)
			}
			records = append(records, Records(group, tree)...)
		}
	}
	return records, nil
}

// Records converts stored laws of one group into index records.
func Records(group store.LawGroup, tree []store.Law) []LawRecord {
	records := make([]LawRecord, 0, len(tree))
	for _, law := range tree {
		records = append(records, LawRecord{
			ID:          law.ID,
			GroupID:     law.GroupID,
			LanguageID:  law.LanguageID,
			LawCode:     law.LawCode,
			Title:       plainOr(law.PlainTitle, law.Title),
			Description: plainOr(law.PlainDescription, law.Description),
			GroupTitle:  group.Title,
			PrimeLaw:    law.PrimeLaw,
		})
	}
	return records
}

func containsAll(text string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

func snippet(text string, words int) string {
	fields := strings.Fields(text)
	if len(fields) <= words {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:words], " ") + "…"
}

func plainOr(plainText, raw string) string {
	if plainText != "" || raw == "" {
		return plainText
	}
	return plain(raw)
}
