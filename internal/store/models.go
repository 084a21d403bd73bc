package store

import (
	"fmt"
	"time"
)

type GroupType string

const (
	GroupOfficial GroupType = "Official"
	GroupFan      GroupType = "Fan"
	GroupBot      GroupType = "Bot"
	GroupAppendix GroupType = "Appendix"
)

func (t GroupType) Valid() bool {
	switch t {
	case GroupOfficial, GroupFan, GroupBot, GroupAppendix:
		return true
	default:
		return false
	}
}

type RulesFileStatus string

const (
	RulesFileNew     RulesFileStatus = "New"
	RulesFileActive  RulesFileStatus = "Active"
	RulesFileArchive RulesFileStatus = "Archive"
)

type Language struct {
	ID     int64
	Code   string
	Locale string
	Name   string
}

// LawGroup is the named collection of laws for one rules document.
type LawGroup struct {
	ID            int64
	Title         string
	Abbreviation  string
	Slug          string
	Type          GroupType
	Public        bool
	ContentItemID *int64
	DesignerID    *string
	Color         string
	Position      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AdminScoped reports whether only admins may edit the group.
func (g LawGroup) AdminScoped() bool {
	if g.ContentItemID != nil {
		return false
	}
	return g.Type == GroupOfficial || g.Type == GroupAppendix
}

type Law struct {
	ID               int64
	GroupID          int64
	LanguageID       int64
	ParentID         *int64
	Title            string
	PlainTitle       string
	Description      string
	PlainDescription string
	LawCode          string
	Position         float64
	PrimeLaw         bool
	LockedPosition   bool
	AllowSubLaws     bool
	AllowDescription bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (l Law) String() string {
	if l.LawCode == "" {
		return l.Title
	}
	return fmt.Sprintf("%s %s", l.LawCode, l.Title)
}

// SameParent reports whether both laws hang off the same parent pointer.
func (l Law) SameParent(parentID *int64) bool {
	if l.ParentID == nil || parentID == nil {
		return l.ParentID == nil && parentID == nil
	}
	return *l.ParentID == *parentID
}

// RulesFile is an immutable snapshot of one fetched or uploaded rules document.
type RulesFile struct {
	ID            int64
	Version       string
	SHA           string
	CommitDate    time.Time
	LanguageID    int64
	ContentItemID *int64
	Status        RulesFileStatus
	FileKey       string
	CreatedAt     time.Time
}

type GroupFilter struct {
	Type       GroupType
	PublicOnly bool
}

type RulesFileFilter struct {
	Version    string
	LanguageID int64
	Status     RulesFileStatus
}
