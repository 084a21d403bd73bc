// Package lock serialises structural edits on one law tree.
package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Locker hands out exclusive ownership of a key until the returned release
// func is called.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// TreeKey names the lock guarding one group+language tree.
func TreeKey(groupID, languageID int64) string {
	return fmt.Sprintf("group:%d:lang:%d", groupID, languageID)
}

// LockAll acquires every key in sorted order so concurrent bulk callers cannot
// deadlock on each other. On failure the keys already held are released.
func LockAll(ctx context.Context, locker Locker, keys []string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	var previous string
	for i, key := range sorted {
		if i > 0 && key == previous {
			continue
		}
		previous = key
		release, err := locker.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// KeyedMutex is the in-process Locker. Each key owns a one-slot channel so a
// waiting caller can give up when its context ends.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]chan struct{})}
}

func (m *KeyedMutex) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.locks[key]
	if ok {
		return slot
	}
	slot = make(chan struct{}, 1)
	m.locks[key] = slot
	return slot
}

func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	slot := m.slot(key)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}
