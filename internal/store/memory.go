package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryState struct {
	nextID     int64
	languages  map[int64]Language
	groups     map[int64]LawGroup
	laws       map[int64]Law
	children   map[int64][]int64
	references map[int64]map[int64]struct{}
	rulesFiles map[int64]RulesFile
}

func newMemoryState() *memoryState {
	return &memoryState{
		languages:  make(map[int64]Language),
		groups:     make(map[int64]LawGroup),
		laws:       make(map[int64]Law),
		children:   make(map[int64][]int64),
		references: make(map[int64]map[int64]struct{}),
		rulesFiles: make(map[int64]RulesFile),
	}
}

func (s *memoryState) clone() *memoryState {
	next := newMemoryState()
	next.nextID = s.nextID
	for id, item := range s.languages {
		next.languages[id] = item
	}
	for id, item := range s.groups {
		next.groups[id] = item
	}
	for id, item := range s.laws {
		next.laws[id] = item
	}
	for id, items := range s.children {
		next.children[id] = append([]int64(nil), items...)
	}
	for id, refs := range s.references {
		copied := make(map[int64]struct{}, len(refs))
		for ref := range refs {
			copied[ref] = struct{}{}
		}
		next.references[id] = copied
	}
	for id, item := range s.rulesFiles {
		next.rulesFiles[id] = item
	}
	return next
}

func (s *memoryState) newID() int64 {
	s.nextID++
	return s.nextID
}

// MemoryStore is an in-process Repository. Laws are kept in an arena keyed by
// id with a parent -> children index maintained next to it. Transactions
// snapshot the whole state and restore it when the callback fails.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

// NewMemoryStore returns an empty store seeded with the default English
// language, matching the first migration.
func NewMemoryStore() *MemoryStore {
	state := newMemoryState()
	english := Language{ID: state.newID(), Code: "en", Locale: "en_US", Name: "English"}
	state.languages[english.ID] = english
	return &MemoryStore{state: state}
}

// memoryTx is the lock-free view handed to transactional callbacks and used by
// every MemoryStore method while the store mutex is held.
type memoryTx struct {
	state *memoryState
}

func (s *MemoryStore) view(fn func(*memoryTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memoryTx{state: s.state})
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state.clone()
	if err := fn(&memoryTx{state: s.state}); err != nil {
		s.state = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		s.state = snapshot
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *MemoryStore) LockTree(context.Context, int64, int64) error { return nil }
func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) GetLanguage(ctx context.Context, code string) (item Language, err error) {
	err = s.view(func(tx *memoryTx) error {
		item, err = tx.GetLanguage(ctx, code)
		return err
	})
	return item, err
}

func (s *MemoryStore) ListLanguages(ctx context.Context) (items []Language, err error) {
	err = s.view(func(tx *memoryTx) error {
		items, err = tx.ListLanguages(ctx)
		return err
	})
	return items, err
}

func (s *MemoryStore) InsertLanguage(ctx context.Context, language *Language) error {
	return s.view(func(tx *memoryTx) error { return tx.InsertLanguage(ctx, language) })
}

func (s *MemoryStore) GetGroup(ctx context.Context, groupID int64) (item LawGroup, err error) {
	err = s.view(func(tx *memoryTx) error {
		item, err = tx.GetGroup(ctx, groupID)
		return err
	})
	return item, err
}

func (s *MemoryStore) ListGroups(ctx context.Context, filter GroupFilter) (items []LawGroup, err error) {
	err = s.view(func(tx *memoryTx) error {
		items, err = tx.ListGroups(ctx, filter)
		return err
	})
	return items, err
}

func (s *MemoryStore) InsertGroup(ctx context.Context, group *LawGroup) error {
	return s.view(func(tx *memoryTx) error { return tx.InsertGroup(ctx, group) })
}

func (s *MemoryStore) UpdateGroup(ctx context.Context, group *LawGroup) error {
	return s.view(func(tx *memoryTx) error { return tx.UpdateGroup(ctx, group) })
}

func (s *MemoryStore) DeleteGroup(ctx context.Context, groupID int64) error {
	return s.view(func(tx *memoryTx) error { return tx.DeleteGroup(ctx, groupID) })
}

func (s *MemoryStore) GetLaw(ctx context.Context, lawID int64) (item Law, err error) {
	err = s.view(func(tx *memoryTx) error {
		item, err = tx.GetLaw(ctx, lawID)
		return err
	})
	return item, err
}

func (s *MemoryStore) GetPrimeLaw(ctx context.Context, groupID, languageID int64) (item Law, err error) {
	err = s.view(func(tx *memoryTx) error {
		item, err = tx.GetPrimeLaw(ctx, groupID, languageID)
		return err
	})
	return item, err
}

func (s *MemoryStore) ListSiblings(ctx context.Context, groupID, languageID int64, parentID *int64) (items []Law, err error) {
	err = s.view(func(tx *memoryTx) error {
		items, err = tx.ListSiblings(ctx, groupID, languageID, parentID)
		return err
	})
	return items, err
}

func (s *MemoryStore) ListTreeLaws(ctx context.Context, groupID, languageID int64) (items []Law, err error) {
	err = s.view(func(tx *memoryTx) error {
		items, err = tx.ListTreeLaws(ctx, groupID, languageID)
		return err
	})
	return items, err
}

func (s *MemoryStore) FindLawByCode(ctx context.Context, groupID, languageID int64, code string) (item Law, err error) {
	err = s.view(func(tx *memoryTx) error {
		item, err = tx.FindLawByCode(ctx, groupID, languageID, code)
		return err
	})
	return item, err
}

func (s *MemoryStore) InsertLaw(ctx context.Context, law *Law) error {
	return s.view(func(tx *memoryTx) error { return tx.InsertLaw(ctx, law) })
}

func (s *MemoryStore) UpdateLaw(ctx context.Context, law *Law) error {
	return s.view(func(tx *memoryTx) error { return tx.UpdateLaw(ctx, law) })
}

func (s *MemoryStore) DeleteLaws(ctx context.Context, lawIDs []int64) error {
	return s.view(func(tx *memoryTx) error { return tx.DeleteLaws(ctx, lawIDs) })
}

func (s *MemoryStore) ListReferences(ctx context.Context, lawID int64) (items []Law, err error) {
	err = s.view(func(tx *memoryTx) error {
		items, err = tx.ListReferences(ctx, lawID)
		return err
	})
	return items, err
}

func (s *MemoryStore) SetReferences(ctx context.Context, lawID int64, referenceIDs []int64) error {
	return s.view(func(tx *memoryTx) error { return tx.SetReferences(ctx, lawID, referenceIDs) })
}

func (s *MemoryStore) RemoveReferencesTo(ctx context.Context, lawIDs []int64) error {
	return s.view(func(tx *memoryTx) error { return tx.RemoveReferencesTo(ctx, lawIDs) })
}

func (s *MemoryStore) InsertRulesFile(ctx context.Context, file *RulesFile) error {
	return s.view(func(tx *memoryTx) error { return tx.InsertRulesFile(ctx, file) })
}

func (s *MemoryStore) GetRulesFile(ctx context.Context, fileID int64) (item RulesFile, err error) {
	err = s.view(func(tx *memoryTx) error {
		item, err = tx.GetRulesFile(ctx, fileID)
		return err
	})
	return item, err
}

func (s *MemoryStore) ListRulesFiles(ctx context.Context, filter RulesFileFilter) (items []RulesFile, err error) {
	err = s.view(func(tx *memoryTx) error {
		items, err = tx.ListRulesFiles(ctx, filter)
		return err
	})
	return items, err
}

func (s *MemoryStore) UpdateRulesFileStatus(ctx context.Context, fileID int64, status RulesFileStatus) error {
	return s.view(func(tx *memoryTx) error { return tx.UpdateRulesFileStatus(ctx, fileID, status) })
}

func (tx *memoryTx) InTx(ctx context.Context, fn func(Repository) error) error {
	return fn(tx)
}

func (tx *memoryTx) LockTree(context.Context, int64, int64) error { return nil }
func (tx *memoryTx) Ping(context.Context) error { return nil }

func (tx *memoryTx) GetLanguage(_ context.Context, code string) (Language, error) {
	for _, item := range tx.state.languages {
		if item.Code == code {
			return item, nil
		}
	}
	return Language{}, fmt.Errorf("get language %s: %w", code, ErrNotFound)
}

func (tx *memoryTx) ListLanguages(context.Context) ([]Language, error) {
	items := make([]Language, 0, len(tx.state.languages))
	for _, item := range tx.state.languages {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (tx *memoryTx) InsertLanguage(_ context.Context, language *Language) error {
	for _, item := range tx.state.languages {
		if item.Code == language.Code {
			return fmt.Errorf("insert language %s: duplicate code", language.Code)
		}
	}
	language.ID = tx.state.newID()
	tx.state.languages[language.ID] = *language
	return nil
}

func (tx *memoryTx) GetGroup(_ context.Context, groupID int64) (LawGroup, error) {
	item, ok := tx.state.groups[groupID]
	if !ok {
		return LawGroup{}, fmt.Errorf("get group %d: %w", groupID, ErrNotFound)
	}
	return item, nil
}

func (tx *memoryTx) ListGroups(_ context.Context, filter GroupFilter) ([]LawGroup, error) {
	items := make([]LawGroup, 0, len(tx.state.groups))
	for _, item := range tx.state.groups {
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		if filter.PublicOnly && !item.Public {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (tx *memoryTx) InsertGroup(_ context.Context, group *LawGroup) error {
	prepareGroup(group)
	now := time.Now().UTC()
	group.ID = tx.state.newID()
	group.CreatedAt = now
	group.UpdatedAt = now
	tx.state.groups[group.ID] = *group
	return nil
}

func (tx *memoryTx) UpdateGroup(_ context.Context, group *LawGroup) error {
	existing, ok := tx.state.groups[group.ID]
	if !ok {
		return fmt.Errorf("update group %d: %w", group.ID, ErrNotFound)
	}
	prepareGroup(group)
	group.CreatedAt = existing.CreatedAt
	group.UpdatedAt = time.Now().UTC()
	tx.state.groups[group.ID] = *group
	return nil
}

func (tx *memoryTx) DeleteGroup(ctx context.Context, groupID int64) error {
	if _, ok := tx.state.groups[groupID]; !ok {
		return fmt.Errorf("delete group %d: %w", groupID, ErrNotFound)
	}
	ids := make([]int64, 0)
	for id, law := range tx.state.laws {
		if law.GroupID == groupID {
			ids = append(ids, id)
		}
	}
	if err := tx.RemoveReferencesTo(ctx, ids); err != nil {
		return err
	}
	if err := tx.DeleteLaws(ctx, ids); err != nil {
		return err
	}
	delete(tx.state.groups, groupID)
	return nil
}

func (tx *memoryTx) GetLaw(_ context.Context, lawID int64) (Law, error) {
	item, ok := tx.state.laws[lawID]
	if !ok {
		return Law{}, fmt.Errorf("get law %d: %w", lawID, ErrNotFound)
	}
	return item, nil
}

func (tx *memoryTx) GetPrimeLaw(_ context.Context, groupID, languageID int64) (Law, error) {
	for _, item := range tx.state.laws {
		if item.GroupID == groupID && item.LanguageID == languageID && item.PrimeLaw {
			return item, nil
		}
	}
	return Law{}, fmt.Errorf("get prime law for group %d: %w", groupID, ErrNotFound)
}

func (tx *memoryTx) ListSiblings(_ context.Context, groupID, languageID int64, parentID *int64) ([]Law, error) {
	items := make([]Law, 0)
	if parentID != nil {
		for _, id := range tx.state.children[*parentID] {
			item := tx.state.laws[id]
			if item.GroupID == groupID && item.LanguageID == languageID && !item.PrimeLaw {
				items = append(items, item)
			}
		}
	} else {
		for _, item := range tx.state.laws {
			if item.ParentID == nil && item.GroupID == groupID && item.LanguageID == languageID && !item.PrimeLaw {
				items = append(items, item)
			}
		}
	}
	sortLaws(items)
	return items, nil
}

func (tx *memoryTx) ListTreeLaws(_ context.Context, groupID, languageID int64) ([]Law, error) {
	items := make([]Law, 0)
	for _, item := range tx.state.laws {
		if item.GroupID == groupID && item.LanguageID == languageID {
			items = append(items, item)
		}
	}
	sortLaws(items)
	return items, nil
}

func (tx *memoryTx) FindLawByCode(_ context.Context, groupID, languageID int64, code string) (Law, error) {
	for _, item := range tx.state.laws {
		if item.GroupID == groupID && item.LanguageID == languageID && !item.PrimeLaw && item.LawCode == code {
			return item, nil
		}
	}
	return Law{}, fmt.Errorf("find law %s in group %d: %w", code, groupID, ErrNotFound)
}

func (tx *memoryTx) InsertLaw(_ context.Context, law *Law) error {
	if law.ParentID != nil {
		if _, ok := tx.state.laws[*law.ParentID]; !ok {
			return fmt.Errorf("insert law: parent %d: %w", *law.ParentID, ErrNotFound)
		}
	}
	prepareLaw(law)
	now := time.Now().UTC()
	law.ID = tx.state.newID()
	law.CreatedAt = now
	law.UpdatedAt = now
	tx.state.laws[law.ID] = *law
	if law.ParentID != nil {
		tx.state.children[*law.ParentID] = append(tx.state.children[*law.ParentID], law.ID)
	}
	return nil
}

func (tx *memoryTx) UpdateLaw(_ context.Context, law *Law) error {
	existing, ok := tx.state.laws[law.ID]
	if !ok {
		return fmt.Errorf("update law %d: %w", law.ID, ErrNotFound)
	}
	prepareLaw(law)
	law.CreatedAt = existing.CreatedAt
	law.UpdatedAt = time.Now().UTC()
	if !existing.SameParent(law.ParentID) {
		if existing.ParentID != nil {
			tx.detachChild(*existing.ParentID, law.ID)
		}
		if law.ParentID != nil {
			tx.state.children[*law.ParentID] = append(tx.state.children[*law.ParentID], law.ID)
		}
	}
	tx.state.laws[law.ID] = *law
	return nil
}

func (tx *memoryTx) detachChild(parentID, childID int64) {
	items := tx.state.children[parentID]
	for i, id := range items {
		if id == childID {
			tx.state.children[parentID] = append(items[:i:i], items[i+1:]...)
			break
		}
	}
	if len(tx.state.children[parentID]) == 0 {
		delete(tx.state.children, parentID)
	}
}

func (tx *memoryTx) DeleteLaws(_ context.Context, lawIDs []int64) error {
	for _, id := range uniqueIDs(lawIDs) {
		item, ok := tx.state.laws[id]
		if !ok {
			continue
		}
		if item.ParentID != nil {
			tx.detachChild(*item.ParentID, id)
		}
		delete(tx.state.laws, id)
		delete(tx.state.children, id)
		delete(tx.state.references, id)
	}
	return nil
}

func (tx *memoryTx) ListReferences(_ context.Context, lawID int64) ([]Law, error) {
	items := make([]Law, 0)
	for id := range tx.state.references[lawID] {
		if item, ok := tx.state.laws[id]; ok {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (tx *memoryTx) SetReferences(_ context.Context, lawID int64, referenceIDs []int64) error {
	if _, ok := tx.state.laws[lawID]; !ok {
		return fmt.Errorf("set references of law %d: %w", lawID, ErrNotFound)
	}
	refs := make(map[int64]struct{}, len(referenceIDs))
	for _, id := range referenceIDs {
		if _, ok := tx.state.laws[id]; !ok {
			return fmt.Errorf("set references of law %d: reference %d: %w", lawID, id, ErrNotFound)
		}
		refs[id] = struct{}{}
	}
	if len(refs) == 0 {
		delete(tx.state.references, lawID)
		return nil
	}
	tx.state.references[lawID] = refs
	return nil
}

func (tx *memoryTx) RemoveReferencesTo(_ context.Context, lawIDs []int64) error {
	for _, target := range lawIDs {
		for owner, refs := range tx.state.references {
			delete(refs, target)
			if len(refs) == 0 {
				delete(tx.state.references, owner)
			}
		}
	}
	return nil
}

func (tx *memoryTx) InsertRulesFile(_ context.Context, file *RulesFile) error {
	if file.Status == "" {
		file.Status = RulesFileNew
	}
	file.ID = tx.state.newID()
	file.CreatedAt = time.Now().UTC()
	tx.state.rulesFiles[file.ID] = *file
	return nil
}

func (tx *memoryTx) GetRulesFile(_ context.Context, fileID int64) (RulesFile, error) {
	item, ok := tx.state.rulesFiles[fileID]
	if !ok {
		return RulesFile{}, fmt.Errorf("get rules file %d: %w", fileID, ErrNotFound)
	}
	return item, nil
}

func (tx *memoryTx) ListRulesFiles(_ context.Context, filter RulesFileFilter) ([]RulesFile, error) {
	items := make([]RulesFile, 0)
	for _, item := range tx.state.rulesFiles {
		if filter.Version != "" && item.Version != filter.Version {
			continue
		}
		if filter.LanguageID != 0 && item.LanguageID != filter.LanguageID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (tx *memoryTx) UpdateRulesFileStatus(_ context.Context, fileID int64, status RulesFileStatus) error {
	item, ok := tx.state.rulesFiles[fileID]
	if !ok {
		return fmt.Errorf("update rules file %d: %w", fileID, ErrNotFound)
	}
	item.Status = status
	tx.state.rulesFiles[fileID] = item
	return nil
}
