package app

import (
	"time"

	"github.com/timeers/root-website-sub000/internal/store"
)

type groupView struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Abbreviation  string    `json:"abbreviation"`
	Slug          string    `json:"slug"`
	Type          string    `json:"type"`
	Public        bool      `json:"public"`
	ContentItemID *int64    `json:"contentItemId"`
	DesignerID    *string   `json:"designerId"`
	Color         string    `json:"color"`
	Position      int       `json:"position"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toGroupView(group store.LawGroup) groupView {
	return groupView{
		ID:            group.ID,
		Title:         group.Title,
		Abbreviation:  group.Abbreviation,
		Slug:          group.Slug,
		Type:          string(group.Type),
		Public:        group.Public,
		ContentItemID: group.ContentItemID,
		DesignerID:    group.DesignerID,
		Color:         group.Color,
		Position:      group.Position,
		UpdatedAt:     group.UpdatedAt,
	}
}

func toGroupViews(groups []store.LawGroup) []groupView {
	views := make([]groupView, 0, len(groups))
	for _, group := range groups {
		views = append(views, toGroupView(group))
	}
	return views
}

type lawView struct {
	ID               int64     `json:"id"`
	GroupID          int64     `json:"groupId"`
	LanguageID       int64     `json:"languageId"`
	ParentID         *int64    `json:"parentId"`
	Title            string    `json:"title"`
	PlainTitle       string    `json:"plainTitle"`
	Description      string    `json:"description"`
	LawCode          string    `json:"lawCode"`
	Position         float64   `json:"position"`
	PrimeLaw         bool      `json:"primeLaw"`
	LockedPosition   bool      `json:"lockedPosition"`
	AllowSubLaws     bool      `json:"allowSubLaws"`
	AllowDescription bool      `json:"allowDescription"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toLawView(law store.Law) lawView {
	return lawView{
		ID:               law.ID,
		GroupID:          law.GroupID,
		LanguageID:       law.LanguageID,
		ParentID:         law.ParentID,
		Title:            law.Title,
		PlainTitle:       law.PlainTitle,
		Description:      law.Description,
		LawCode:          law.LawCode,
		Position:         law.Position,
		PrimeLaw:         law.PrimeLaw,
		LockedPosition:   law.LockedPosition,
		AllowSubLaws:     law.AllowSubLaws,
		AllowDescription: law.AllowDescription,
		UpdatedAt:        law.UpdatedAt,
	}
}

func toLawViews(items []store.Law) []lawView {
	views := make([]lawView, 0, len(items))
	for _, law := range items {
		views = append(views, toLawView(law))
	}
	return views
}

type rulesFileView struct {
	ID            int64     `json:"id"`
	Version       string    `json:"version"`
	SHA           string    `json:"sha"`
	CommitDate    time.Time `json:"commitDate"`
	LanguageID    int64     `json:"languageId"`
	ContentItemID *int64    `json:"contentItemId"`
	Status        string    `json:"status"`
	FileKey       string    `json:"fileKey"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toRulesFileView(file store.RulesFile) rulesFileView {
	return rulesFileView{
		ID:            file.ID,
		Version:       file.Version,
		SHA:           file.SHA,
		CommitDate:    file.CommitDate,
		LanguageID:    file.LanguageID,
		ContentItemID: file.ContentItemID,
		Status:        string(file.Status),
		FileKey:       file.FileKey,
		CreatedAt:     file.CreatedAt,
	}
}
