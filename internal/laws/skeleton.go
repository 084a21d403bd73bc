package laws

import (
	"context"

	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/rbac"
	"github.com/timeers/root-website-sub000/internal/store"
)

// Skeleton returns the default top-level sections for a freshly initialized
// group of the given type.
func Skeleton(group store.LawGroup) []string {
	switch group.Type {
	case store.GroupBot:
		return []string{"Overview", "Bot Rules and Abilities", "Bot Setup", "Birdsong", "Daylight", "Evening", "Difficulty Levels"}
	case store.GroupFan:
		return []string{"Overview", "Faction Rules and Abilities", "Faction Setup", "Birdsong", "Daylight", "Evening"}
	case store.GroupOfficial:
		if group.ContentItemID != nil {
			return []string{"Overview", "Faction Rules and Abilities", "Faction Setup", "Birdsong", "Daylight", "Evening"}
		}
	}
	return nil
}

// InitializeGroup creates the prime law of a group in one language followed by
// the default skeleton.
func (s *Service) InitializeGroup(ctx context.Context, actor rbac.Actor, groupID, languageID int64) ([]store.Law, error) {
	var created []store.Law
	var group store.LawGroup
	err := s.withTree(ctx, groupID, languageID, func(tx store.Repository) error {
		var err error
		group, err = authorize(ctx, tx, actor, groupID)
		if err != nil {
			return err
		}
		prime, err := CreateLaw(ctx, tx, CreateLawInput{
			GroupID:    groupID,
			LanguageID: languageID,
			Title:      group.Title,
			PrimeLaw:   true,
		})
		if err != nil {
			return err
		}
		created = append(created, prime)
		for _, title := range Skeleton(group) {
			law, err := CreateLaw(ctx, tx, CreateLawInput{
				GroupID:    groupID,
				LanguageID: languageID,
				Title:      title,
			})
			if err != nil {
				return err
			}
			created = append(created, law)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, Change{Kind: notify.EventLawCreated, Actor: actor.ID, Group: group, LanguageID: languageID, Laws: created})
	return created, nil
}
