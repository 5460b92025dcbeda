package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetbook/internal/core"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeInserter assigns sequential ids and fails titles listed in fail.
type fakeInserter struct {
	mu       sync.Mutex
	n        int
	fail     map[string]bool
	budgets  []core.Budget
	expenses []core.Expense

	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeInserter) enter() func() {
	cur := f.inFlight.Add(1)
	for {
		seen := f.maxSeen.Load()
		if cur <= seen || f.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeInserter) nextID(prefix string) string {
	f.n++
	return fmt.Sprintf("%s%d", prefix, f.n)
}

func (f *fakeInserter) CreateBudget(_ context.Context, scope core.Scope, b core.Budget) (core.Budget, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[b.Title] {
		return core.Budget{}, errors.New("boom")
	}
	b.ID = f.nextID("new-b")
	b.UserID = scope.UserID
	b.SubAccountID = scope.SubAccountID
	f.budgets = append(f.budgets, b)
	return b, nil
}

func (f *fakeInserter) CreateExpense(_ context.Context, scope core.Scope, e core.Expense) (core.Expense, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[e.Title] {
		return core.Expense{}, errors.New("boom")
	}
	e.ID = f.nextID("new-e")
	e.UserID = scope.UserID
	e.SubAccountID = scope.SubAccountID
	f.expenses = append(f.expenses, e)
	return e, nil
}

func TestNextBudget(t *testing.T) {
	src := core.Budget{
		ID:           "b1",
		UserID:       "u1",
		Title:        "Rent",
		Amount:       decimal.RequireFromString("950"),
		Currency:     "EUR",
		Period:       core.PeriodMonthly,
		Category:     "Home",
		Description:  "flat",
		IsRecurring:  true,
		SubAccountID: "s1",
		CreatedAt:    "2025-01-15T10:00:00.000Z",
		UpdatedAt:    "2025-09-15",
	}

	next, err := NextBudget(src)
	if err != nil {
		t.Fatalf("NextBudget: %v", err)
	}
	if next.ID != "" || next.OldBudgetID != "b1" || next.UpdatedAt != "2025-10-15" {
		t.Errorf("unexpected copy identity: id=%q oldBudgetId=%q updatedAt=%q", next.ID, next.OldBudgetID, next.UpdatedAt)
	}

	// Every other field carries over.
	want := src
	want.ID, want.OldBudgetID, want.UpdatedAt, want.CreatedAt = next.ID, next.OldBudgetID, next.UpdatedAt, ""
	if !sameBudgetFields(next, want) {
		t.Errorf("copy changed carried fields:\n got %+v\nwant %+v", next, want)
	}

	src.Category = ""
	next, _ = NextBudget(src)
	if next.Category != core.DefaultCategory {
		t.Errorf("Category = %q, want %q", next.Category, core.DefaultCategory)
	}

	tests := []struct {
		anchor string
		want   string
	}{
		{"2025-01-31", "2025-02-28"},
		{"2024-01-31", "2024-02-29"},
		{"2025-12-15", "2026-01-15"},
		{"2025-09-15T21:45:10.000Z", "2025-10-15"},
	}
	for _, tt := range tests {
		t.Run(tt.anchor, func(t *testing.T) {
			src.UpdatedAt = tt.anchor
			next, err := NextBudget(src)
			if err != nil {
				t.Fatal(err)
			}
			if next.UpdatedAt != tt.want {
				t.Errorf("UpdatedAt = %q, want %q", next.UpdatedAt, tt.want)
			}
		})
	}

	src.UpdatedAt = "never"
	if _, err := NextBudget(src); !errors.Is(err, core.ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}

func sameBudgetFields(a, b core.Budget) bool {
	if !a.Amount.Equal(b.Amount) {
		return false
	}
	a.Amount, b.Amount = decimal.Zero, decimal.Zero
	return a == b
}

func TestNextExpense(t *testing.T) {
	src := core.Expense{
		ID:          "e1",
		UserID:      "u1",
		Title:       "Rent",
		Amount:      decimal.RequireFromString("950"),
		Currency:    "EUR",
		Category:    "Home",
		BudgetID:    "b1",
		IsRecurring: true,
		Upcoming:    false,
		Favorite:    true,
		UpdatedAt:   "2025-09-15",
	}
	next, err := NextExpense(src, "b2")
	if err != nil {
		t.Fatalf("NextExpense: %v", err)
	}
	if next.ID != "" || next.BudgetID != "b2" || next.UpdatedAt != "2025-10-15" {
		t.Errorf("unexpected copy %+v", next)
	}
	if !next.Upcoming || next.Favorite {
		t.Errorf("copy must be upcoming and not favorite: %+v", next)
	}
	if next.Title != src.Title || !next.Amount.Equal(src.Amount) || !next.IsRecurring {
		t.Errorf("carried fields changed: %+v", next)
	}
}

func TestMaterializeBudgets(t *testing.T) {
	repo := &fakeInserter{fail: map[string]bool{"Broken": true}}
	m := NewMaterializer(repo, 4, discardLogger)
	scope := core.SubScope("u1", "s1")

	due := []core.Budget{
		{ID: "b1", Title: "Rent", UpdatedAt: "2025-09-15", IsRecurring: true},
		{ID: "b2", Title: "Broken", UpdatedAt: "2025-09-15", IsRecurring: true},
		{ID: "b3", Title: "Food", UpdatedAt: "2025-09-15", IsRecurring: true},
		{ID: "b4", Title: "Bad date", UpdatedAt: "x", IsRecurring: true},
	}
	batch := m.MaterializeBudgets(context.Background(), scope, due)

	if len(batch.Created) != 2 || batch.Created[0].OldBudgetID != "b1" || batch.Created[1].OldBudgetID != "b3" {
		t.Fatalf("Created = %+v, want copies of b1 and b3 in order", batch.Created)
	}
	if len(batch.IDMap) != 2 || batch.IDMap["b1"] != batch.Created[0].ID || batch.IDMap["b3"] != batch.Created[1].ID {
		t.Errorf("IDMap = %v", batch.IDMap)
	}
	if len(batch.Failures) != 2 || batch.Failures[0].ID != "b2" || batch.Failures[1].ID != "b4" {
		t.Errorf("Failures = %+v, want b2 and b4", batch.Failures)
	}
	for _, b := range batch.Created {
		if b.SubAccountID != "s1" || b.UpdatedAt != "2025-10-15" {
			t.Errorf("unexpected created budget %+v", b)
		}
	}
}

func TestMaterializeExpenses(t *testing.T) {
	repo := &fakeInserter{fail: map[string]bool{"Broken": true}}
	m := NewMaterializer(repo, 4, discardLogger)
	scope := core.MainScope("u1")

	due := []core.Expense{
		{ID: "e1", Title: "Rent", BudgetID: "b1", UpdatedAt: "2025-09-15", IsRecurring: true},
		{ID: "e2", Title: "Orphan", BudgetID: "b9", UpdatedAt: "2025-09-15", IsRecurring: true},
		{ID: "e3", Title: "Broken", BudgetID: "b1", UpdatedAt: "2025-09-15", IsRecurring: true},
		{ID: "e4", Title: "Loose", UpdatedAt: "2025-09-15", IsRecurring: true},
		{ID: "e5", Title: "Water", BudgetID: "b3", UpdatedAt: "2025-09-15", IsRecurring: true, Favorite: true},
	}
	batch := m.MaterializeExpenses(context.Background(), scope, due, map[string]string{"b1": "b2", "b3": "b4"})

	if batch.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", batch.Skipped)
	}
	if len(batch.Failures) != 1 || batch.Failures[0].ID != "e3" || batch.Failures[0].Kind != "expense" {
		t.Errorf("Failures = %+v, want e3", batch.Failures)
	}
	if len(batch.Created) != 2 {
		t.Fatalf("Created = %+v, want 2", batch.Created)
	}
	if batch.Created[0].Title != "Rent" || batch.Created[0].BudgetID != "b2" || !batch.Created[0].Upcoming {
		t.Errorf("unexpected first copy %+v", batch.Created[0])
	}
	if batch.Created[1].BudgetID != "b4" || batch.Created[1].Favorite {
		t.Errorf("unexpected second copy %+v", batch.Created[1])
	}
}

func TestMaterializeRespectsConcurrencyLimit(t *testing.T) {
	repo := &fakeInserter{delay: 5 * time.Millisecond}
	m := NewMaterializer(repo, 2, discardLogger)

	due := make([]core.Budget, 10)
	for i := range due {
		due[i] = core.Budget{ID: fmt.Sprintf("b%d", i), Title: "t", UpdatedAt: "2025-09-15", IsRecurring: true}
	}
	batch := m.MaterializeBudgets(context.Background(), core.MainScope("u1"), due)
	if len(batch.Created) != 10 {
		t.Fatalf("created %d, want 10", len(batch.Created))
	}
	if got := repo.maxSeen.Load(); got > 2 {
		t.Errorf("saw %d concurrent inserts, limit is 2", got)
	}
}

func TestItemFailureJSON(t *testing.T) {
	b, err := json.Marshal(ItemFailure{Kind: "budget", ID: "b1", Err: errors.New("conflict")})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); !strings.Contains(got, `"id":"b1"`) || !strings.Contains(got, `"error":"conflict"`) {
		t.Errorf("unexpected JSON %s", got)
	}
}
