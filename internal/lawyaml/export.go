package lawyaml

import (
	"context"
	"errors"
	"fmt"

	"github.com/timeers/root-website-sub000/internal/store"
)

// ExportLanguage renders the full rulebook of one language: every public
// Official group in position order followed by the appendices. Groups that
// have no prime law in the language are not translated yet and are skipped.
func (s *Serializer) ExportLanguage(ctx context.Context, languageID int64, includeID bool) ([]Node, error) {
	official, err := s.repo.ListGroups(ctx, store.GroupFilter{Type: store.GroupOfficial, PublicOnly: true})
	if err != nil {
		return nil, fmt.Errorf("export language: %w", err)
	}
	appendices, err := s.repo.ListGroups(ctx, store.GroupFilter{Type: store.GroupAppendix})
	if err != nil {
		return nil, fmt.Errorf("export language: %w", err)
	}

	nodes := make([]Node, 0, len(official)+len(appendices))
	for _, group := range append(official, appendices...) {
		prime, err := s.repo.GetPrimeLaw(ctx, group.ID, languageID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("export group %s: %w", group.Slug, err)
		}
		entry, err := s.SerializeGroup(ctx, &prime, includeID)
		if err != nil {
			return nil, fmt.Errorf("export group %s: %w", group.Slug, err)
		}
		nodes = append(nodes, entry...)
	}
	return nodes, nil
}
