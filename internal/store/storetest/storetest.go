// Package storetest is a conformance suite shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"budgetbook/internal/store"
)

// Factory returns an empty store. The suite closes it when the test ends.
type Factory func(t *testing.T) store.Store

// Run exercises the store.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"PutThenGet", testPutThenGet},
		{"PutIsFirstWriteWins", testPutConflict},
		{"GetMissing", testGetMissing},
		{"UpdateMerges", testUpdateMerges},
		{"UpdateNeverCreates", testUpdateMissing},
		{"Delete", testDelete},
		{"QueryByPrefix", testQuery},
		{"QueryEmpty", testQueryEmpty},
		{"QueryIndex", testQueryIndex},
		{"ScanByPrefix", testScan},
		{"ConcurrentPuts", testConcurrentPuts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func item(pk, sk string, attrs map[string]any) store.Item {
	return store.Item{PK: pk, SK: sk, Attrs: attrs}
}

func mustPut(t *testing.T, s store.Store, it store.Item) {
	t.Helper()
	if err := s.Put(context.Background(), it); err != nil {
		t.Fatalf("put %s/%s: %v", it.PK, it.SK, err)
	}
}

func sks(items []store.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.SK
	}
	return out
}

func testPutThenGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	want := store.Item{
		PK:     "USER#u1",
		SK:     "BUDGET#b1",
		GSI1PK: "",
		GSI1SK: "",
		Attrs: map[string]any{
			"title":       "Rent",
			"amount":      "1200.50",
			"isRecurring": true,
			"count":       float64(3),
		},
	}
	mustPut(t, s, want)

	got, err := s.Get(ctx, want.Key())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PK != want.PK || got.SK != want.SK {
		t.Fatalf("key mismatch: %+v", got)
	}
	if !reflect.DeepEqual(got.Attrs, want.Attrs) {
		t.Errorf("attrs = %#v, want %#v", got.Attrs, want.Attrs)
	}

	// Mutating the returned item must not leak into the store.
	got.Attrs["title"] = "changed"
	again, _ := s.Get(ctx, want.Key())
	if again.Attrs["title"] != "Rent" {
		t.Errorf("store aliased returned attrs: %v", again.Attrs["title"])
	}
}

func testPutConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustPut(t, s, item("P", "S", map[string]any{"v": "first"}))

	err := s.Put(ctx, item("P", "S", map[string]any{"v": "second"}))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := s.Get(ctx, store.Key{PK: "P", SK: "S"})
	if got.Attrs["v"] != "first" {
		t.Errorf("conflicting put overwrote item: %v", got.Attrs["v"])
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), store.Key{PK: "nope", SK: "nope"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testUpdateMerges(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustPut(t, s, item("P", "S", map[string]any{"a": "1", "b": "2", "c": "3"}))

	got, err := s.Update(ctx, store.Key{PK: "P", SK: "S"}, map[string]any{"b": "two", "c": nil, "d": true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := map[string]any{"a": "1", "b": "two", "d": true}
	if !reflect.DeepEqual(got.Attrs, want) {
		t.Errorf("returned attrs = %#v, want %#v", got.Attrs, want)
	}
	stored, _ := s.Get(ctx, store.Key{PK: "P", SK: "S"})
	if !reflect.DeepEqual(stored.Attrs, want) {
		t.Errorf("stored attrs = %#v, want %#v", stored.Attrs, want)
	}
}

func testUpdateMissing(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Update(ctx, store.Key{PK: "P", SK: "missing"}, map[string]any{"a": "1"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, store.Key{PK: "P", SK: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("update created an item: %v", err)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustPut(t, s, item("P", "S", map[string]any{}))

	if err := s.Delete(ctx, store.Key{PK: "P", SK: "S"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, store.Key{PK: "P", SK: "S"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, store.Key{PK: "P", SK: "S"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func testQuery(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustPut(t, s, item("USER#u1", "BUDGET#b2", map[string]any{}))
	mustPut(t, s, item("USER#u1", "BUDGET#b1", map[string]any{}))
	mustPut(t, s, item("USER#u1", "EXPENSE#e1", map[string]any{}))
	mustPut(t, s, item("USER#u1#SUB#s1", "BUDGET#b3", map[string]any{}))
	mustPut(t, s, item("USER#u2", "BUDGET#b4", map[string]any{}))

	got, err := s.Query(ctx, "USER#u1", "BUDGET#")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if want := []string{"BUDGET#b1", "BUDGET#b2"}; !reflect.DeepEqual(sks(got), want) {
		t.Errorf("query = %v, want %v", sks(got), want)
	}

	all, err := s.Query(ctx, "USER#u1", "")
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 items in partition, got %v", sks(all))
	}
}

func testQueryEmpty(t *testing.T, s store.Store) {
	got, err := s.Query(context.Background(), "USER#nobody", "BUDGET#")
	if err != nil {
		t.Fatalf("query on empty partition must not fail: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func testQueryIndex(t *testing.T, s store.Store) {
	ctx := context.Background()
	put := func(pk, sk, gpk, gsk string) {
		mustPut(t, s, store.Item{PK: pk, SK: sk, GSI1PK: gpk, GSI1SK: gsk, Attrs: map[string]any{"id": sk}})
	}
	put("USER#u1", "EXPENSE#e2", "USER#u1", "EXPENSE#e2")
	put("USER#u1#BUDGET#b1", "EXPENSE#e1", "USER#u1", "EXPENSE#e1")
	put("USER#u1#SUB#s1#BUDGET#b9", "EXPENSE#e3", "USER#u1", "EXPENSE#e3")
	put("USER#u2", "EXPENSE#e4", "USER#u2", "EXPENSE#e4")
	put("USER#u1", "BUDGET#b1", "", "")

	got, err := s.QueryIndex(ctx, "USER#u1", "EXPENSE#")
	if err != nil {
		t.Fatalf("query index: %v", err)
	}
	if want := []string{"EXPENSE#e1", "EXPENSE#e2", "EXPENSE#e3"}; !reflect.DeepEqual(sks(got), want) {
		t.Errorf("index query = %v, want %v", sks(got), want)
	}
	if got[0].PK != "USER#u1#BUDGET#b1" {
		t.Errorf("index item lost its primary key: %+v", got[0])
	}
}

func testScan(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustPut(t, s, item("USER#u2", "PROFILE#u2", map[string]any{}))
	mustPut(t, s, item("USER#u1", "PROFILE#u1", map[string]any{}))
	mustPut(t, s, item("USER#u1", "SUB#s1", map[string]any{}))
	mustPut(t, s, item("USER#u1", "BUDGET#b1", map[string]any{}))

	got, err := s.Scan(ctx, "PROFILE#")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if want := []string{"PROFILE#u1", "PROFILE#u2"}; !reflect.DeepEqual(sks(got), want) {
		t.Errorf("scan = %v, want %v", sks(got), want)
	}
}

func testConcurrentPuts(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Put(ctx, item("P", fmt.Sprintf("S#%02d", i), map[string]any{}))
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	// Racing writers on one key: exactly one wins.
	var wins int
	var mu sync.Mutex
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Put(ctx, item("P", "RACE", map[string]any{})); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one winning put, got %d", wins)
	}

	got, err := s.Query(ctx, "P", "S#")
	if err != nil || len(got) != n {
		t.Fatalf("expected %d items, got %d (err %v)", n, len(got), err)
	}
}
