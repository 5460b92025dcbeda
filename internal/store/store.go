// Package store defines the partitioned key-value contract the repository is
// built on, independent of the backing database.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by Get, Update and Delete when the key is absent.
	ErrNotFound = errors.New("item not found")
	// ErrConflict is returned by Put when the key already exists.
	ErrConflict = errors.New("item already exists")
)

// Key addresses a single item.
type Key struct {
	PK string
	SK string
}

// Item is one stored record. GSI1PK/GSI1SK are optional secondary index keys.
// Attrs values are JSON-compatible scalars.
type Item struct {
	PK     string
	SK     string
	GSI1PK string
	GSI1SK string
	Attrs  map[string]any
}

func (i Item) Key() Key {
	return Key{PK: i.PK, SK: i.SK}
}

// Clone returns a copy of i that shares no map with it.
func (i Item) Clone() Item {
	out := i
	out.Attrs = make(map[string]any, len(i.Attrs))
	for k, v := range i.Attrs {
		out.Attrs[k] = v
	}
	return out
}

// Store is implemented by every backend. Implementations must be safe for
// concurrent use, and Query, QueryIndex and Scan return items sorted by SK
// (then PK) with an empty slice rather than an error when nothing matches.
type Store interface {
	Get(ctx context.Context, key Key) (Item, error)
	// Put writes a new item and fails with ErrConflict if the key exists.
	Put(ctx context.Context, item Item) error
	// Update merges fields into an existing item and returns the result.
	// A nil value removes the attribute. It never creates an item.
	Update(ctx context.Context, key Key, fields map[string]any) (Item, error)
	Delete(ctx context.Context, key Key) error
	Query(ctx context.Context, pk, skPrefix string) ([]Item, error)
	QueryIndex(ctx context.Context, gsiPK, gsiSKPrefix string) ([]Item, error)
	Scan(ctx context.Context, skPrefix string) ([]Item, error)
	Close() error
}

// MergeAttrs applies fields onto attrs in place, deleting nil values.
func MergeAttrs(attrs, fields map[string]any) {
	for k, v := range fields {
		if v == nil {
			delete(attrs, k)
			continue
		}
		attrs[k] = v
	}
}

// SortItems orders items by SK, then PK.
func SortItems(items []Item) {
	sort.Slice(items, func(a, b int) bool {
		if c := strings.Compare(items[a].SK, items[b].SK); c != 0 {
			return c < 0
		}
		return items[a].PK < items[b].PK
	})
}
