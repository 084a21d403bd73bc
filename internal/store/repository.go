package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/timeers/root-website-sub000/internal/util"
)

var ErrNotFound = errors.New("not found")

// Repository is the persistence surface of the rules engine. Both
// PostgresStore and MemoryStore implement it.
type Repository interface {
	// InTx runs fn against a transactional view of the repository. Every write
	// made through that view is committed together or not at all. Calling InTx
	// on a transactional view reuses the surrounding transaction.
	InTx(ctx context.Context, fn func(Repository) error) error
	// LockTree serialises structural edits on one group+language inside the
	// current transaction.
	LockTree(ctx context.Context, groupID, languageID int64) error
	Ping(ctx context.Context) error

	GetLanguage(ctx context.Context, code string) (Language, error)
	ListLanguages(ctx context.Context) ([]Language, error)
	InsertLanguage(ctx context.Context, language *Language) error

	GetGroup(ctx context.Context, groupID int64) (LawGroup, error)
	ListGroups(ctx context.Context, filter GroupFilter) ([]LawGroup, error)
	InsertGroup(ctx context.Context, group *LawGroup) error
	UpdateGroup(ctx context.Context, group *LawGroup) error
	DeleteGroup(ctx context.Context, groupID int64) error

	GetLaw(ctx context.Context, lawID int64) (Law, error)
	GetPrimeLaw(ctx context.Context, groupID, languageID int64) (Law, error)
	// ListSiblings returns the non-prime laws under parentID ordered by
	// position then id.
	ListSiblings(ctx context.Context, groupID, languageID int64, parentID *int64) ([]Law, error)
	ListTreeLaws(ctx context.Context, groupID, languageID int64) ([]Law, error)
	FindLawByCode(ctx context.Context, groupID, languageID int64, code string) (Law, error)
	InsertLaw(ctx context.Context, law *Law) error
	UpdateLaw(ctx context.Context, law *Law) error
	DeleteLaws(ctx context.Context, lawIDs []int64) error
	ListReferences(ctx context.Context, lawID int64) ([]Law, error)
	SetReferences(ctx context.Context, lawID int64, referenceIDs []int64) error
	RemoveReferencesTo(ctx context.Context, lawIDs []int64) error

	InsertRulesFile(ctx context.Context, file *RulesFile) error
	GetRulesFile(ctx context.Context, fileID int64) (RulesFile, error)
	ListRulesFiles(ctx context.Context, filter RulesFileFilter) ([]RulesFile, error)
	UpdateRulesFileStatus(ctx context.Context, fileID int64, status RulesFileStatus) error
}

// prepareLaw derives the searchable plain-text fields before every write.
func prepareLaw(law *Law) {
	law.PlainTitle = util.PlainText(law.Title)
	law.PlainDescription = util.PlainText(law.Description)
	if law.ParentID != nil {
		parentID := *law.ParentID
		law.ParentID = &parentID
	}
	if law.PrimeLaw {
		law.LockedPosition = true
		law.ParentID = nil
		law.LawCode = ""
	}
}

func prepareGroup(group *LawGroup) {
	group.Title = strings.TrimSpace(group.Title)
	if group.Slug == "" {
		group.Slug = util.Slugify(group.Title)
	}
	if group.Type == "" {
		group.Type = GroupOfficial
	}
}

func sortLaws(items []Law) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].ID < items[j].ID
	})
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	result := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

// OfficialOrdinals numbers the Official groups among groups 1..n by position
// then id. The number is the G of a `rule:G.N` citation; other group types
// share the position sequence but are not counted.
func OfficialOrdinals(groups []LawGroup) map[int64]int {
	official := make([]LawGroup, 0, len(groups))
	for _, group := range groups {
		if group.Type == GroupOfficial {
			official = append(official, group)
		}
	}
	sort.SliceStable(official, func(i, j int) bool {
		if official[i].Position != official[j].Position {
			return official[i].Position < official[j].Position
		}
		return official[i].ID < official[j].ID
	})
	ordinals := make(map[int64]int, len(official))
	for i, group := range official {
		ordinals[group.ID] = i + 1
	}
	return ordinals
}
