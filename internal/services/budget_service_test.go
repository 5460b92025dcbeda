package services

import (
	"context"
	"errors"
	"testing"

	"budgetbook/internal/core"
	"budgetbook/internal/store"
)

func TestDuplicateBudget(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	scope := core.SubScope("u1", "s1")

	src := mustBudget(t, r, scope, "Groceries", "2025-09-15", true)
	e1 := mustExpense(t, r, scope, src.ID, "Market", "2025-09-20", true)
	e2 := mustExpense(t, r, scope, src.ID, "Bakery", "2025-09-21", false)

	svc := NewBudgetService(r, 2, discardLogger)
	cp, expenses, err := svc.DuplicateBudget(ctx, scope, src.ID)
	if err != nil {
		t.Fatalf("DuplicateBudget: %v", err)
	}
	if cp.ID == src.ID || cp.Title != "Groceries Copy" || cp.Category != core.DefaultCategory {
		t.Errorf("unexpected copy %+v", cp)
	}
	if cp.UpdatedAt == src.UpdatedAt || cp.SubAccountID != "s1" || !cp.Amount.Equal(src.Amount) {
		t.Errorf("copy must be dated now and keep the rest: %+v", cp)
	}

	if len(expenses) != 2 {
		t.Fatalf("copied %d expenses, want 2", len(expenses))
	}
	for i, want := range []core.Expense{e1, e2} {
		got := expenses[i]
		if got.ID == want.ID || got.Title != want.Title || got.BudgetID != cp.ID || got.IsRecurring != want.IsRecurring {
			t.Errorf("expense copy %d = %+v, source %+v", i, got, want)
		}
	}

	stored, _ := r.ListExpenses(ctx, scope, cp.ID)
	if len(stored) != 2 {
		t.Errorf("stored %d expenses under the copy, want 2", len(stored))
	}
	orig, _ := r.ListExpenses(ctx, scope, src.ID)
	if len(orig) != 2 {
		t.Errorf("source budget must keep its %d expenses, has %d", 2, len(orig))
	}

	if _, _, err := svc.DuplicateBudget(ctx, scope, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateExpense(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	scope := core.MainScope("u1")
	b := mustBudget(t, r, scope, "Food", "2025-09-15", false)

	tests := []struct {
		name     string
		budgetID string
	}{
		{"in budget", b.ID},
		{"unassigned", ""},
	}
	svc := NewBudgetService(r, 1, discardLogger)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := mustExpense(t, r, scope, tt.budgetID, "Pizza", "2025-09-20", false)
			cp, err := svc.DuplicateExpense(ctx, scope, tt.budgetID, src.ID)
			if err != nil {
				t.Fatalf("DuplicateExpense: %v", err)
			}
			if cp.ID == src.ID || cp.Title != "Pizza (copy)" || cp.BudgetID != tt.budgetID {
				t.Errorf("unexpected copy %+v", cp)
			}
			if _, err := r.GetExpense(ctx, scope, tt.budgetID, cp.ID); err != nil {
				t.Errorf("copy not stored: %v", err)
			}
		})
	}

	if _, err := svc.DuplicateExpense(ctx, scope, "", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
