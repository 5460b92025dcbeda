// Package memory is an in-process store backend for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"budgetbook/internal/store"
)

type Store struct {
	mu    sync.RWMutex
	items map[store.Key]store.Item
}

func New() *Store {
	return &Store{items: make(map[store.Key]store.Item)}
}

func (s *Store) Get(_ context.Context, key store.Key) (store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[key]
	if !ok {
		return store.Item{}, fmt.Errorf("get %s/%s: %w", key.PK, key.SK, store.ErrNotFound)
	}
	return it.Clone(), nil
}

func (s *Store) Put(_ context.Context, item store.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.Key()]; ok {
		return fmt.Errorf("put %s/%s: %w", item.PK, item.SK, store.ErrConflict)
	}
	s.items[item.Key()] = item.Clone()
	return nil
}

func (s *Store) Update(_ context.Context, key store.Key, fields map[string]any) (store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return store.Item{}, fmt.Errorf("update %s/%s: %w", key.PK, key.SK, store.ErrNotFound)
	}
	it = it.Clone()
	store.MergeAttrs(it.Attrs, fields)
	s.items[key] = it
	return it.Clone(), nil
}

func (s *Store) Delete(_ context.Context, key store.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return fmt.Errorf("delete %s/%s: %w", key.PK, key.SK, store.ErrNotFound)
	}
	delete(s.items, key)
	return nil
}

func (s *Store) Query(_ context.Context, pk, skPrefix string) ([]store.Item, error) {
	return s.filter(func(it store.Item) bool {
		return it.PK == pk && strings.HasPrefix(it.SK, skPrefix)
	}), nil
}

func (s *Store) QueryIndex(_ context.Context, gsiPK, gsiSKPrefix string) ([]store.Item, error) {
	return s.filter(func(it store.Item) bool {
		return it.GSI1PK != "" && it.GSI1PK == gsiPK && strings.HasPrefix(it.GSI1SK, gsiSKPrefix)
	}), nil
}

func (s *Store) Scan(_ context.Context, skPrefix string) ([]store.Item, error) {
	return s.filter(func(it store.Item) bool {
		return strings.HasPrefix(it.SK, skPrefix)
	}), nil
}

func (s *Store) Close() error { return nil }

// Len reports the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) filter(match func(store.Item) bool) []store.Item {
	s.mu.RLock()
	out := []store.Item{}
	for _, it := range s.items {
		if match(it) {
			out = append(out, it.Clone())
		}
	}
	s.mu.RUnlock()
	store.SortItems(out)
	return out
}
