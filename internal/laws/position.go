package laws

import (
	"context"
	"fmt"

	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/rbac"
	"github.com/timeers/root-website-sub000/internal/store"
)

// NewPosition returns a sort key strictly between prev and next. Either
// neighbor may be nil. When float precision between the two neighbors is
// exhausted, all siblings are renumbered 1..n in their current order and the
// midpoint is taken again from the reloaded neighbors.
func NewPosition(ctx context.Context, repo store.Repository, languageID int64, prev, next, parent *store.Law) (float64, error) {
	switch {
	case prev == nil && next == nil:
		return 1.0, nil
	case prev == nil:
		position := next.Position / 2
		if !(position < next.Position) {
			position = next.Position - 1
		}
		return position, nil
	case next == nil:
		return prev.Position + 1, nil
	}

	if position, ok := midpoint(prev.Position, next.Position); ok {
		return position, nil
	}

	parentID := prev.ParentID
	if parent != nil {
		parentID = &parent.ID
	}
	if err := renumberSiblings(ctx, repo, prev.GroupID, languageID, parentID); err != nil {
		return 0, err
	}
	reloadedPrev, err := repo.GetLaw(ctx, prev.ID)
	if err != nil {
		return 0, err
	}
	reloadedNext, err := repo.GetLaw(ctx, next.ID)
	if err != nil {
		return 0, err
	}
	position, ok := midpoint(reloadedPrev.Position, reloadedNext.Position)
	if !ok {
		return 0, ErrInvalidNeighbors
	}
	return position, nil
}

func midpoint(low, high float64) (float64, bool) {
	position := low + (high-low)/2
	if position <= low || position >= high {
		return 0, false
	}
	return position, true
}

func renumberSiblings(ctx context.Context, repo store.Repository, groupID, languageID int64, parentID *int64) error {
	siblings, err := repo.ListSiblings(ctx, groupID, languageID, parentID)
	if err != nil {
		return err
	}
	for i := range siblings {
		position := float64(i + 1)
		if siblings[i].Position == position {
			continue
		}
		siblings[i].Position = position
		if err := repo.UpdateLaw(ctx, &siblings[i]); err != nil {
			return fmt.Errorf("renumber siblings: %w", err)
		}
	}
	return nil
}

func (s *Service) MoveUp(ctx context.Context, actor rbac.Actor, lawID int64) (store.Law, error) {
	return s.move(ctx, actor, lawID, func(siblings []store.Law, index int) (*store.Law, *store.Law, *store.Law, bool) {
		if index == 0 {
			return nil, nil, nil, false
		}
		var before *store.Law
		if index >= 2 {
			before = &siblings[index-2]
		}
		return before, &siblings[index-1], &siblings[index-1], true
	})
}

func (s *Service) MoveDown(ctx context.Context, actor rbac.Actor, lawID int64) (store.Law, error) {
	return s.move(ctx, actor, lawID, func(siblings []store.Law, index int) (*store.Law, *store.Law, *store.Law, bool) {
		if index == len(siblings)-1 {
			return nil, nil, nil, false
		}
		var after *store.Law
		if index+2 < len(siblings) {
			after = &siblings[index+2]
		}
		return &siblings[index+1], after, &siblings[index+1], true
	})
}

// MoveLaw places a law between two adjacent siblings. A nil prevID moves it to
// the front before nextID, a nil nextID to the back after prevID.
func (s *Service) MoveLaw(ctx context.Context, actor rbac.Actor, lawID int64, prevID, nextID *int64) (store.Law, error) {
	return s.move(ctx, actor, lawID, func(siblings []store.Law, index int) (*store.Law, *store.Law, *store.Law, bool) {
		if prevID == nil && nextID == nil {
			return nil, nil, nil, false
		}
		others := make([]*store.Law, 0, len(siblings))
		for i := range siblings {
			if i != index {
				others = append(others, &siblings[i])
			}
		}
		find := func(id *int64) int {
			if id == nil {
				return -1
			}
			for i, law := range others {
				if law.ID == *id {
					return i
				}
			}
			return -2
		}
		prevAt, nextAt := find(prevID), find(nextID)
		invalid := &store.Law{}
		switch {
		case prevAt == -2 || nextAt == -2:
			return invalid, nil, nil, true
		case prevAt == -1 && nextAt != 0:
			return invalid, nil, nil, true
		case nextAt == -1 && prevAt != len(others)-1:
			return invalid, nil, nil, true
		case prevAt >= 0 && nextAt >= 0 && nextAt != prevAt+1:
			return invalid, nil, nil, true
		}
		var prev, next *store.Law
		if prevAt >= 0 {
			prev = others[prevAt]
		}
		if nextAt >= 0 {
			next = others[nextAt]
		}
		return prev, next, nil, true
	})
}

// neighborFunc picks the new neighbors of the law at index. swapped is the
// sibling that trades places with it, if any; ok=false means nothing to do.
type neighborFunc func(siblings []store.Law, index int) (prev, next, swapped *store.Law, ok bool)

func (s *Service) move(ctx context.Context, actor rbac.Actor, lawID int64, pick neighborFunc) (store.Law, error) {
	current, err := s.repo.GetLaw(ctx, lawID)
	if err != nil {
		return store.Law{}, err
	}
	if current.PrimeLaw || current.LockedPosition {
		return store.Law{}, ErrPositionLocked
	}

	var moved store.Law
	var group store.LawGroup
	var changed bool
	err = s.withTree(ctx, current.GroupID, current.LanguageID, func(tx store.Repository) error {
		group, err = authorize(ctx, tx, actor, current.GroupID)
		if err != nil {
			return err
		}
		law, err := tx.GetLaw(ctx, lawID)
		if err != nil {
			return err
		}
		siblings, err := tx.ListSiblings(ctx, law.GroupID, law.LanguageID, law.ParentID)
		if err != nil {
			return err
		}
		index := -1
		for i := range siblings {
			if siblings[i].ID == law.ID {
				index = i
				break
			}
		}
		if index < 0 {
			return fmt.Errorf("move law %d: not among its siblings", law.ID)
		}

		moved = law
		prev, next, swapped, ok := pick(siblings, index)
		if !ok {
			return nil
		}
		if (prev != nil && prev.ID == 0) || (next != nil && next.ID == 0) {
			return ErrInvalidNeighbors
		}
		if swapped != nil && swapped.LockedPosition {
			return ErrPositionLocked
		}
		if prev != nil && next != nil && prev.Position >= next.Position {
			return ErrInvalidNeighbors
		}

		position, err := NewPosition(ctx, tx, law.LanguageID, prev, next, nil)
		if err != nil {
			return err
		}
		law.Position = position
		if err := tx.UpdateLaw(ctx, &law); err != nil {
			return err
		}
		if err := RebuildLawCodes(ctx, tx, law.GroupID, law.LanguageID, law.ParentID); err != nil {
			return err
		}
		changed = true
		moved, err = tx.GetLaw(ctx, law.ID)
		return err
	})
	if err != nil {
		return store.Law{}, err
	}
	if changed {
		s.emit(ctx, Change{Kind: notify.EventLawMoved, Actor: actor.ID, Group: group, LanguageID: moved.LanguageID, Laws: []store.Law{moved}})
	}
	return moved, nil
}
