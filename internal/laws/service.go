// Package laws owns structural edits of law trees: creation, ordering, code
// derivation, deletion and the group lifecycle around them.
package laws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timeers/root-website-sub000/internal/lock"
	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/rbac"
	"github.com/timeers/root-website-sub000/internal/refs"
	"github.com/timeers/root-website-sub000/internal/store"
)

type Service struct {
	repo   store.Repository
	locker lock.Locker
	hooks  []Hook
}

func New(repo store.Repository, locker lock.Locker, hooks ...Hook) *Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Service{repo: repo, locker: locker, hooks: hooks}
}

func (s *Service) AddHook(hook Hook) {
	s.hooks = append(s.hooks, hook)
}

func (s *Service) emit(ctx context.Context, change Change) {
	for _, hook := range s.hooks {
		hook(ctx, change)
	}
}

// withTree runs fn in one transaction while holding the tree lock for the
// group+language pair.
func (s *Service) withTree(ctx context.Context, groupID, languageID int64, fn func(store.Repository) error) error {
	release, err := s.locker.Lock(ctx, lock.TreeKey(groupID, languageID))
	if err != nil {
		return fmt.Errorf("lock tree: %w", err)
	}
	defer release()

	return s.repo.InTx(ctx, func(tx store.Repository) error {
		if err := tx.LockTree(ctx, groupID, languageID); err != nil {
			return err
		}
		return fn(tx)
	})
}

func authorize(ctx context.Context, repo store.Repository, actor rbac.Actor, groupID int64) (store.LawGroup, error) {
	group, err := repo.GetGroup(ctx, groupID)
	if err != nil {
		return store.LawGroup{}, err
	}
	if !rbac.CanEditGroup(actor, group) {
		return store.LawGroup{}, ErrForbidden
	}
	return group, nil
}

type CreateLawInput struct {
	GroupID     int64    `json:"groupId"`
	LanguageID  int64    `json:"languageId"`
	ParentID    *int64   `json:"parentId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Position    *float64 `json:"position"`
	PrimeLaw    bool     `json:"primeLaw"`
	Locked      bool     `json:"lockedPosition"`
	// Nil capability flags default to true.
	AllowSubLaws     *bool `json:"allowSubLaws"`
	AllowDescription *bool `json:"allowDescription"`
}

type UpdateLawInput struct {
	Title            *string `json:"title"`
	Description      *string `json:"description"`
	LockedPosition   *bool   `json:"lockedPosition"`
	AllowSubLaws     *bool   `json:"allowSubLaws"`
	AllowDescription *bool   `json:"allowDescription"`
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func (s *Service) GetLaw(ctx context.Context, lawID int64) (store.Law, error) {
	return s.repo.GetLaw(ctx, lawID)
}

// Create inserts a law. A parent that is the prime law is dropped: prime laws
// are the conceptual root and never a structural parent.
func (s *Service) Create(ctx context.Context, actor rbac.Actor, in CreateLawInput) (store.Law, error) {
	if strings.TrimSpace(in.Title) == "" {
		return store.Law{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	var created store.Law
	var group store.LawGroup
	err := s.withTree(ctx, in.GroupID, in.LanguageID, func(tx store.Repository) error {
		var err error
		group, err = authorize(ctx, tx, actor, in.GroupID)
		if err != nil {
			return err
		}
		created, err = CreateLaw(ctx, tx, in)
		return err
	})
	if err != nil {
		return store.Law{}, err
	}
	s.emit(ctx, Change{Kind: notify.EventLawCreated, Actor: actor.ID, Group: group, LanguageID: in.LanguageID, Laws: []store.Law{created}})
	return created, nil
}

// CreateLaw does the work of Create inside an open transaction. Callers hold
// the tree lock.
func CreateLaw(ctx context.Context, tx store.Repository, in CreateLawInput) (store.Law, error) {
	law := store.Law{
		GroupID:          in.GroupID,
		LanguageID:       in.LanguageID,
		PrimeLaw:         in.PrimeLaw,
		LockedPosition:   in.Locked,
		AllowSubLaws:     boolOr(in.AllowSubLaws, true),
		AllowDescription: boolOr(in.AllowDescription, true),
	}
	if !law.AllowDescription && strings.TrimSpace(in.Description) != "" {
		return store.Law{}, ErrDescriptionNotAllowed
	}

	if in.PrimeLaw {
		_, err := tx.GetPrimeLaw(ctx, in.GroupID, in.LanguageID)
		if err == nil {
			return store.Law{}, ErrPrimeLawExists
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Law{}, err
		}
	} else if in.ParentID != nil {
		parent, err := tx.GetLaw(ctx, *in.ParentID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Law{}, ErrInvalidParent
		}
		if err != nil {
			return store.Law{}, err
		}
		if parent.GroupID != in.GroupID || parent.LanguageID != in.LanguageID {
			return store.Law{}, ErrInvalidParent
		}
		if !parent.PrimeLaw {
			if !parent.AllowSubLaws {
				return store.Law{}, ErrSubLawsNotAllowed
			}
			law.ParentID = &parent.ID
		}
	}

	title, titleRefs, err := refs.Inbound(ctx, in.Title, in.LanguageID, refs.RepoResolver{Repo: tx})
	if err != nil {
		return store.Law{}, err
	}
	description, descriptionRefs, err := refs.Inbound(ctx, in.Description, in.LanguageID, refs.RepoResolver{Repo: tx})
	if err != nil {
		return store.Law{}, err
	}
	law.Title = strings.TrimSpace(title)
	law.Description = strings.TrimSpace(description)

	if !law.PrimeLaw {
		siblings, err := tx.ListSiblings(ctx, in.GroupID, in.LanguageID, law.ParentID)
		if err != nil {
			return store.Law{}, err
		}
		if in.Position != nil {
			for _, sibling := range siblings {
				if sibling.Position == *in.Position {
					return store.Law{}, fmt.Errorf("%w: position %v is taken", ErrInvalidInput, *in.Position)
				}
			}
			law.Position = *in.Position
		} else {
			var last *store.Law
			if len(siblings) > 0 {
				last = &siblings[len(siblings)-1]
			}
			law.Position, err = NewPosition(ctx, tx, in.LanguageID, last, nil, nil)
			if err != nil {
				return store.Law{}, err
			}
		}
	}

	if err := tx.InsertLaw(ctx, &law); err != nil {
		return store.Law{}, err
	}
	if ids := lawIDs(append(titleRefs, descriptionRefs...)); len(ids) > 0 {
		if err := tx.SetReferences(ctx, law.ID, ids); err != nil {
			return store.Law{}, err
		}
	}
	if !law.PrimeLaw {
		if err := RebuildLawCodes(ctx, tx, in.GroupID, in.LanguageID, law.ParentID); err != nil {
			return store.Law{}, err
		}
	}
	return tx.GetLaw(ctx, law.ID)
}

// Update edits a law's text and capability flags. Citations in the new text are
// resolved and replace the law's reference set.
func (s *Service) Update(ctx context.Context, actor rbac.Actor, lawID int64, in UpdateLawInput) (store.Law, error) {
	current, err := s.repo.GetLaw(ctx, lawID)
	if err != nil {
		return store.Law{}, err
	}

	var updated store.Law
	var group store.LawGroup
	err = s.withTree(ctx, current.GroupID, current.LanguageID, func(tx store.Repository) error {
		group, err = authorize(ctx, tx, actor, current.GroupID)
		if err != nil {
			return err
		}
		law, err := tx.GetLaw(ctx, lawID)
		if err != nil {
			return err
		}
		law.LockedPosition = boolOr(in.LockedPosition, law.LockedPosition)
		law.AllowSubLaws = boolOr(in.AllowSubLaws, law.AllowSubLaws)
		law.AllowDescription = boolOr(in.AllowDescription, law.AllowDescription)

		resolver := refs.RepoResolver{Repo: tx}
		var cited []store.Law
		if in.Title != nil {
			if strings.TrimSpace(*in.Title) == "" {
				return fmt.Errorf("%w: title is required", ErrInvalidInput)
			}
			title, titleRefs, err := refs.Inbound(ctx, *in.Title, law.LanguageID, resolver)
			if err != nil {
				return err
			}
			law.Title = strings.TrimSpace(title)
			cited = append(cited, titleRefs...)
		}
		if in.Description != nil {
			description, descriptionRefs, err := refs.Inbound(ctx, *in.Description, law.LanguageID, resolver)
			if err != nil {
				return err
			}
			law.Description = strings.TrimSpace(description)
			cited = append(cited, descriptionRefs...)
		}
		if !law.AllowDescription && law.Description != "" {
			return ErrDescriptionNotAllowed
		}
		if err := tx.UpdateLaw(ctx, &law); err != nil {
			return err
		}
		if in.Title != nil || in.Description != nil {
			if err := tx.SetReferences(ctx, law.ID, lawIDs(cited)); err != nil {
				return err
			}
		}
		updated, err = tx.GetLaw(ctx, law.ID)
		return err
	})
	if err != nil {
		return store.Law{}, err
	}
	s.emit(ctx, Change{Kind: notify.EventLawUpdated, Actor: actor.ID, Group: group, LanguageID: updated.LanguageID, Laws: []store.Law{updated}})
	return updated, nil
}

// Delete removes a law with all of its descendants, clears citations of the
// removed laws held by other laws and renumbers the remaining siblings.
func (s *Service) Delete(ctx context.Context, actor rbac.Actor, lawID int64) ([]int64, error) {
	current, err := s.repo.GetLaw(ctx, lawID)
	if err != nil {
		return nil, err
	}
	if current.PrimeLaw {
		return nil, ErrPrimeLawDelete
	}

	var removed []int64
	var group store.LawGroup
	err = s.withTree(ctx, current.GroupID, current.LanguageID, func(tx store.Repository) error {
		group, err = authorize(ctx, tx, actor, current.GroupID)
		if err != nil {
			return err
		}
		law, err := tx.GetLaw(ctx, lawID)
		if err != nil {
			return err
		}
		tree, err := tx.ListTreeLaws(ctx, law.GroupID, law.LanguageID)
		if err != nil {
			return err
		}
		removed = append([]int64{law.ID}, descendantIDs(tree, law.ID)...)
		if err := tx.RemoveReferencesTo(ctx, removed); err != nil {
			return err
		}
		if err := tx.DeleteLaws(ctx, removed); err != nil {
			return err
		}
		return RebuildLawCodes(ctx, tx, law.GroupID, law.LanguageID, law.ParentID)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, Change{Kind: notify.EventLawDeleted, Actor: actor.ID, Group: group, LanguageID: current.LanguageID, Laws: []store.Law{current}, RemovedIDs: removed})
	return removed, nil
}

// WipeGroupLanguage deletes every law of a group in one language, the prime
// law included.
func (s *Service) WipeGroupLanguage(ctx context.Context, actor rbac.Actor, groupID, languageID int64) ([]int64, error) {
	var removed []int64
	var group store.LawGroup
	err := s.withTree(ctx, groupID, languageID, func(tx store.Repository) error {
		var err error
		group, err = authorize(ctx, tx, actor, groupID)
		if err != nil {
			return err
		}
		tree, err := tx.ListTreeLaws(ctx, groupID, languageID)
		if err != nil {
			return err
		}
		removed = lawIDs(tree)
		if err := tx.RemoveReferencesTo(ctx, removed); err != nil {
			return err
		}
		return tx.DeleteLaws(ctx, removed)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, Change{Kind: notify.EventLawDeleted, Actor: actor.ID, Group: group, LanguageID: languageID, RemovedIDs: removed})
	return removed, nil
}

func descendantIDs(tree []store.Law, rootID int64) []int64 {
	children := childIndex(tree)
	var ids []int64
	queue := []int64{rootID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range children[current] {
			ids = append(ids, child.ID)
			queue = append(queue, child.ID)
		}
	}
	return ids
}

// childIndex maps a parent id to its non-prime children in sibling order. Top
// level laws are keyed by 0.
func childIndex(tree []store.Law) map[int64][]store.Law {
	children := make(map[int64][]store.Law)
	for _, law := range tree {
		if law.PrimeLaw {
			continue
		}
		var parentID int64
		if law.ParentID != nil {
			parentID = *law.ParentID
		}
		children[parentID] = append(children[parentID], law)
	}
	return children
}

func lawIDs(laws []store.Law) []int64 {
	ids := make([]int64, 0, len(laws))
	for _, law := range laws {
		ids = append(ids, law.ID)
	}
	return ids
}
