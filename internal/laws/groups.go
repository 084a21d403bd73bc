package laws

import (
	"context"
	"fmt"
	"strings"

	"github.com/timeers/root-website-sub000/internal/lock"
	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/rbac"
	"github.com/timeers/root-website-sub000/internal/store"
)

type CreateGroupInput struct {
	Title         string          `json:"title"`
	Abbreviation  string          `json:"abbreviation"`
	Type          store.GroupType `json:"type"`
	Public        bool            `json:"public"`
	ContentItemID *int64          `json:"contentItemId"`
	DesignerID    *string         `json:"designerId"`
	Color         string          `json:"color"`
}

type UpdateGroupInput struct {
	Title        *string `json:"title"`
	Abbreviation *string `json:"abbreviation"`
	Public       *bool   `json:"public"`
	Color        *string `json:"color"`
}

func (s *Service) ListGroups(ctx context.Context, filter store.GroupFilter) ([]store.LawGroup, error) {
	return s.repo.ListGroups(ctx, filter)
}

func (s *Service) GetGroup(ctx context.Context, groupID int64) (store.LawGroup, error) {
	return s.repo.GetGroup(ctx, groupID)
}

// CreateGroup appends a group after every existing group. Groups backed by a
// content item may be created by its designer; the rest need an admin.
func (s *Service) CreateGroup(ctx context.Context, actor rbac.Actor, in CreateGroupInput) (store.LawGroup, error) {
	if strings.TrimSpace(in.Title) == "" {
		return store.LawGroup{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = store.GroupOfficial
	}
	if !in.Type.Valid() {
		return store.LawGroup{}, fmt.Errorf("%w: unknown group type %q", ErrInvalidInput, in.Type)
	}

	group := store.LawGroup{
		Title:         in.Title,
		Abbreviation:  strings.TrimSpace(in.Abbreviation),
		Type:          in.Type,
		Public:        in.Public,
		ContentItemID: in.ContentItemID,
		DesignerID:    in.DesignerID,
		Color:         in.Color,
	}
	if !rbac.CanEditGroup(actor, group) {
		return store.LawGroup{}, ErrForbidden
	}

	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		return InsertGroup(ctx, tx, &group)
	})
	if err != nil {
		return store.LawGroup{}, err
	}
	s.emit(ctx, Change{Kind: notify.EventGroupCreated, Actor: actor.ID, Group: group})
	return group, nil
}

// InsertGroup stores group at the end of the group order. Callers own the
// transaction.
func InsertGroup(ctx context.Context, tx store.Repository, group *store.LawGroup) error {
	groups, err := tx.ListGroups(ctx, store.GroupFilter{})
	if err != nil {
		return err
	}
	group.Position = 1
	for _, existing := range groups {
		if existing.Position >= group.Position {
			group.Position = existing.Position + 1
		}
	}
	return tx.InsertGroup(ctx, group)
}

func (s *Service) UpdateGroup(ctx context.Context, actor rbac.Actor, groupID int64, in UpdateGroupInput) (store.LawGroup, error) {
	var updated store.LawGroup
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		group, err := authorize(ctx, tx, actor, groupID)
		if err != nil {
			return err
		}
		if in.Title != nil {
			if strings.TrimSpace(*in.Title) == "" {
				return fmt.Errorf("%w: title is required", ErrInvalidInput)
			}
			group.Title = *in.Title
			group.Slug = ""
		}
		if in.Abbreviation != nil {
			group.Abbreviation = strings.TrimSpace(*in.Abbreviation)
		}
		if in.Public != nil {
			group.Public = *in.Public
		}
		if in.Color != nil {
			group.Color = *in.Color
		}
		if err := tx.UpdateGroup(ctx, &group); err != nil {
			return err
		}
		updated = group
		return nil
	})
	return updated, err
}

// DeleteGroup removes a group with every law in every language. All tree locks
// of the group are held for the duration.
func (s *Service) DeleteGroup(ctx context.Context, actor rbac.Actor, groupID int64) error {
	languages, err := s.repo.ListLanguages(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(languages))
	for _, language := range languages {
		keys = append(keys, lock.TreeKey(groupID, language.ID))
	}
	release, err := lock.LockAll(ctx, s.locker, keys)
	if err != nil {
		return err
	}
	defer release()

	var (
		group   store.LawGroup
		removed []int64
	)
	err = s.repo.InTx(ctx, func(tx store.Repository) error {
		group, err = authorize(ctx, tx, actor, groupID)
		if err != nil {
			return err
		}
		for _, language := range languages {
			if err := tx.LockTree(ctx, groupID, language.ID); err != nil {
				return err
			}
			tree, err := tx.ListTreeLaws(ctx, groupID, language.ID)
			if err != nil {
				return err
			}
			removed = append(removed, lawIDs(tree)...)
		}
		return tx.DeleteGroup(ctx, groupID)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, Change{Kind: notify.EventGroupDeleted, Actor: actor.ID, Group: group, RemovedIDs: removed})
	return nil
}

// siblingGroups lists the groups sharing the type of group, in order.
func (s *Service) siblingGroups(ctx context.Context, groupID int64) ([]store.LawGroup, int, error) {
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, -1, err
	}
	groups, err := s.repo.ListGroups(ctx, store.GroupFilter{Type: group.Type})
	if err != nil {
		return nil, -1, err
	}
	for i, candidate := range groups {
		if candidate.ID == groupID {
			return groups, i, nil
		}
	}
	return nil, -1, fmt.Errorf("group %d: %w", groupID, store.ErrNotFound)
}

// PreviousGroup returns the group ordered just before groupID among groups of
// the same type. ok is false for the first group.
func (s *Service) PreviousGroup(ctx context.Context, groupID int64) (store.LawGroup, bool, error) {
	groups, index, err := s.siblingGroups(ctx, groupID)
	if err != nil || index == 0 {
		return store.LawGroup{}, false, err
	}
	return groups[index-1], true, nil
}

func (s *Service) NextGroup(ctx context.Context, groupID int64) (store.LawGroup, bool, error) {
	groups, index, err := s.siblingGroups(ctx, groupID)
	if err != nil || index == len(groups)-1 {
		return store.LawGroup{}, false, err
	}
	return groups[index+1], true, nil
}

// MoveGroup swaps a group's position with its neighbor of the same type. The
// position doubles as the ordinal in rule citations, so only admins may move
// groups.
func (s *Service) MoveGroup(ctx context.Context, actor rbac.Actor, groupID int64, up bool) (store.LawGroup, error) {
	if !actor.IsAdmin() {
		return store.LawGroup{}, ErrForbidden
	}
	var neighbor store.LawGroup
	var ok bool
	var err error
	if up {
		neighbor, ok, err = s.PreviousGroup(ctx, groupID)
	} else {
		neighbor, ok, err = s.NextGroup(ctx, groupID)
	}
	if err != nil {
		return store.LawGroup{}, err
	}
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil || !ok {
		return group, err
	}

	err = s.repo.InTx(ctx, func(tx store.Repository) error {
		group.Position, neighbor.Position = neighbor.Position, group.Position
		if group.Position == neighbor.Position {
			if up {
				group.Position--
			} else {
				group.Position++
			}
		}
		if err := tx.UpdateGroup(ctx, &group); err != nil {
			return err
		}
		return tx.UpdateGroup(ctx, &neighbor)
	})
	if err != nil {
		return store.LawGroup{}, err
	}
	return group, nil
}
