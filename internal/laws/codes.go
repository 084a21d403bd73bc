package laws

import (
	"context"
	"fmt"
	"strconv"

	"github.com/timeers/root-website-sub000/internal/store"
)

// RebuildLawCodes recomputes the dotted code of every law under parentID and
// of all their descendants. A nil parentID rebuilds the whole tree. The prime
// law never carries a code. Only laws whose code changed are written.
func RebuildLawCodes(ctx context.Context, repo store.Repository, groupID, languageID int64, parentID *int64) error {
	tree, err := repo.ListTreeLaws(ctx, groupID, languageID)
	if err != nil {
		return fmt.Errorf("rebuild law codes: %w", err)
	}
	children := childIndex(tree)

	var startID int64
	prefix := ""
	if parentID != nil {
		startID = *parentID
		for _, law := range tree {
			if law.ID == startID {
				prefix = law.LawCode
				break
			}
		}
	}

	var walk func(parentID int64, prefix string) error
	walk = func(parentID int64, prefix string) error {
		for i := range children[parentID] {
			law := children[parentID][i]
			code := strconv.Itoa(i + 1)
			if prefix != "" {
				code = prefix + "." + code
			}
			if law.LawCode != code {
				law.LawCode = code
				if err := repo.UpdateLaw(ctx, &law); err != nil {
					return fmt.Errorf("rebuild law codes: %w", err)
				}
			}
			if err := walk(law.ID, code); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(startID, prefix)
}
