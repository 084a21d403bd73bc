// Package search indexes law text for lookup across groups and languages.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID         int64  `json:"id"`
	GroupID    int64  `json:"groupId"`
	LanguageID int64  `json:"languageId"`
	LawCode    string `json:"lawCode"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	GroupTitle string `json:"groupTitle"`
}

// Query describes a search request. Zero filters match everything.
type Query struct {
	Text       string
	LanguageID int64
	GroupID    int64
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a Searcher that also accepts writes.
type Index interface {
	Searcher
	IndexLaws(records []LawRecord) error
	DeleteLaws(ids []int64) error
}

// LawRecord is the data we index for a law.
type LawRecord struct {
	ID          int64  `json:"id"`
	GroupID     int64  `json:"groupId"`
	LanguageID  int64  `json:"languageId"`
	LawCode     string `json:"lawCode"`
	Title       string `json:"title"`
	Description string `json:"description"`
	GroupTitle  string `json:"groupTitle"`
	PrimeLaw    bool   `json:"primeLaw"`
}

func normalizePage(q Query) (limit, offset int) {
	limit = q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset = q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
