package store

import (
	"context"
	"errors"
	"testing"
)

func seedMemoryTree(t *testing.T, repo *MemoryStore) (LawGroup, Law, Law, Law) {
	t.Helper()
	ctx := context.Background()
	group := &LawGroup{Title: "Woodland Alliance", Type: GroupOfficial, Position: 3}
	if err := repo.InsertGroup(ctx, group); err != nil {
		t.Fatalf("InsertGroup() error = %v", err)
	}
	a := &Law{GroupID: group.ID, LanguageID: 1, Title: "A", Position: 1}
	b := &Law{GroupID: group.ID, LanguageID: 1, Title: "B", Position: 2}
	for _, law := range []*Law{a, b} {
		if err := repo.InsertLaw(ctx, law); err != nil {
			t.Fatalf("InsertLaw() error = %v", err)
		}
	}
	child := &Law{GroupID: group.ID, LanguageID: 1, ParentID: &a.ID, Title: "A1", Position: 1}
	if err := repo.InsertLaw(ctx, child); err != nil {
		t.Fatalf("InsertLaw() error = %v", err)
	}
	return *group, *a, *b, *child
}

func TestMemoryStoreSeedsEnglish(t *testing.T) {
	repo := NewMemoryStore()
	language, err := repo.GetLanguage(context.Background(), "en")
	if err != nil {
		t.Fatalf("GetLanguage() error = %v", err)
	}
	if language.Locale != "en_US" {
		t.Fatalf("expected en_US locale, got %q", language.Locale)
	}
}

func TestMemoryStoreSiblingsFollowReparent(t *testing.T) {
	repo := NewMemoryStore()
	ctx := context.Background()
	group, a, b, child := seedMemoryTree(t, repo)

	roots, err := repo.ListSiblings(ctx, group.ID, 1, nil)
	if err != nil {
		t.Fatalf("ListSiblings() error = %v", err)
	}
	if len(roots) != 2 || roots[0].ID != a.ID || roots[1].ID != b.ID {
		t.Fatalf("unexpected root order: %+v", roots)
	}

	child.ParentID = &b.ID
	if err := repo.UpdateLaw(ctx, &child); err != nil {
		t.Fatalf("UpdateLaw() error = %v", err)
	}
	underA, _ := repo.ListSiblings(ctx, group.ID, 1, &a.ID)
	underB, _ := repo.ListSiblings(ctx, group.ID, 1, &b.ID)
	if len(underA) != 0 || len(underB) != 1 {
		t.Fatalf("expected child moved to B, got %d under A and %d under B", len(underA), len(underB))
	}
}

func TestMemoryStoreInTxRestoresSnapshot(t *testing.T) {
	repo := NewMemoryStore()
	ctx := context.Background()
	group, a, _, _ := seedMemoryTree(t, repo)

	boom := errors.New("boom")
	err := repo.InTx(ctx, func(tx Repository) error {
		if err := tx.DeleteLaws(ctx, []int64{a.ID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want boom", err)
	}
	laws, err := repo.ListTreeLaws(ctx, group.ID, 1)
	if err != nil {
		t.Fatalf("ListTreeLaws() error = %v", err)
	}
	if len(laws) != 3 {
		t.Fatalf("expected rollback to keep 3 laws, got %d", len(laws))
	}
}

func TestMemoryStoreReferences(t *testing.T) {
	repo := NewMemoryStore()
	ctx := context.Background()
	_, a, b, child := seedMemoryTree(t, repo)

	if err := repo.SetReferences(ctx, child.ID, []int64{a.ID, b.ID, a.ID}); err != nil {
		t.Fatalf("SetReferences() error = %v", err)
	}
	refs, _ := repo.ListReferences(ctx, child.ID)
	if len(refs) != 2 {
		t.Fatalf("expected 2 references, got %d", len(refs))
	}
	if err := repo.SetReferences(ctx, child.ID, []int64{999}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetReferences() error = %v, want ErrNotFound", err)
	}

	if err := repo.RemoveReferencesTo(ctx, []int64{a.ID}); err != nil {
		t.Fatalf("RemoveReferencesTo() error = %v", err)
	}
	refs, _ = repo.ListReferences(ctx, child.ID)
	if len(refs) != 1 || refs[0].ID != b.ID {
		t.Fatalf("expected only B to remain referenced, got %+v", refs)
	}
}

func TestMemoryStorePrimeLawIsNormalised(t *testing.T) {
	repo := NewMemoryStore()
	ctx := context.Background()
	group, a, _, _ := seedMemoryTree(t, repo)

	prime := &Law{GroupID: group.ID, LanguageID: 1, Title: "**Woodland** Alliance", PrimeLaw: true, ParentID: &a.ID, LawCode: "9"}
	if err := repo.InsertLaw(ctx, prime); err != nil {
		t.Fatalf("InsertLaw() error = %v", err)
	}
	got, err := repo.GetPrimeLaw(ctx, group.ID, 1)
	if err != nil {
		t.Fatalf("GetPrimeLaw() error = %v", err)
	}
	if got.ParentID != nil || got.LawCode != "" || !got.LockedPosition {
		t.Fatalf("prime law not normalised: %+v", got)
	}
	if got.PlainTitle != "Woodland Alliance" {
		t.Fatalf("expected plain title, got %q", got.PlainTitle)
	}
}

func TestMemoryStoreDeleteGroupCascades(t *testing.T) {
	repo := NewMemoryStore()
	ctx := context.Background()
	group, _, _, _ := seedMemoryTree(t, repo)

	if err := repo.DeleteGroup(ctx, group.ID); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	laws, _ := repo.ListTreeLaws(ctx, group.ID, 1)
	if len(laws) != 0 {
		t.Fatalf("expected laws removed, got %d", len(laws))
	}
	if _, err := repo.GetGroup(ctx, group.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetGroup() error = %v, want ErrNotFound", err)
	}
}
