package repository

import (
	"context"
	"errors"
	"fmt"

	"budgetbook/internal/core"
	"budgetbook/internal/keys"
	applog "budgetbook/internal/log"
	"budgetbook/internal/store"
)

func budgetKey(scope core.Scope, id string) store.Key {
	return store.Key{PK: keys.ScopePK(scope), SK: keys.BudgetSK(id)}
}

// CreateBudget stores b under scope with a fresh id. UpdatedAt and CreatedAt
// default to now when empty. A transient OldBudgetID is echoed back in the
// result but never persisted.
func (r *Repository) CreateBudget(ctx context.Context, scope core.Scope, b core.Budget) (core.Budget, error) {
	if err := keys.ValidateScope(scope); err != nil {
		return core.Budget{}, err
	}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}

	now := r.timestamp()
	b.ID = r.newID()
	b.UserID = scope.UserID
	b.SubAccountID = scope.SubAccountID
	if b.UpdatedAt == "" {
		b.UpdatedAt = now
	}
	if b.CreatedAt == "" {
		b.CreatedAt = now
	}

	stored := b
	stored.OldBudgetID = ""
	attrs, err := toAttrs(stored, entityBudget)
	if err != nil {
		return core.Budget{}, err
	}
	key := budgetKey(scope, b.ID)
	if err := r.store.Put(ctx, store.Item{PK: key.PK, SK: key.SK, Attrs: attrs}); err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	return b, nil
}

func (r *Repository) GetBudget(ctx context.Context, scope core.Scope, id string) (core.Budget, error) {
	if err := validateScopeAndID(scope, "budget", id); err != nil {
		return core.Budget{}, err
	}
	it, err := r.store.Get(ctx, budgetKey(scope, id))
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget %s: %w", id, err)
	}
	var b core.Budget
	if err := fromAttrs(it.Attrs, &b); err != nil {
		return core.Budget{}, err
	}
	return b, nil
}

// ListBudgets returns every budget of the scope ordered by id.
func (r *Repository) ListBudgets(ctx context.Context, scope core.Scope) ([]core.Budget, error) {
	if err := keys.ValidateScope(scope); err != nil {
		return nil, err
	}
	items, err := r.store.Query(ctx, keys.ScopePK(scope), keys.PrefixBudget)
	if err != nil {
		return nil, fmt.Errorf("list budgets of %s/%s: %w", scope.UserID, scope, err)
	}
	return decodeAll[core.Budget](items)
}

// UpdateBudget merges patch into the stored budget. Turning isRecurring off
// also turns it off on every expense of the budget.
func (r *Repository) UpdateBudget(ctx context.Context, scope core.Scope, id string, patch core.BudgetPatch) (core.Budget, error) {
	if err := validateScopeAndID(scope, "budget", id); err != nil {
		return core.Budget{}, err
	}
	if err := patch.Validate(); err != nil {
		return core.Budget{}, err
	}
	fields, err := toAttrs(patch, "")
	if err != nil {
		return core.Budget{}, err
	}
	if patch.UpdatedAt == nil {
		fields["updatedAt"] = r.timestamp()
	}

	it, err := r.store.Update(ctx, budgetKey(scope, id), fields)
	if err != nil {
		return core.Budget{}, fmt.Errorf("update budget %s: %w", id, err)
	}
	var b core.Budget
	if err := fromAttrs(it.Attrs, &b); err != nil {
		return core.Budget{}, err
	}

	if patch.IsRecurring != nil && !*patch.IsRecurring {
		n, err := r.stopRecurringExpenses(ctx, scope, id)
		if err != nil {
			return b, err
		}
		if n > 0 {
			r.logger.InfoContext(ctx, "Recurring expenses stopped with their budget",
				applog.FieldUserID, scope.UserID,
				applog.FieldScope, scope.String(),
				applog.FieldBudgetID, id,
				"expenses_updated", n)
		}
	}
	return b, nil
}

func (r *Repository) stopRecurringExpenses(ctx context.Context, scope core.Scope, budgetID string) (int, error) {
	items, err := r.store.Query(ctx, keys.BudgetExpensesPK(scope, budgetID), keys.PrefixExpense)
	if err != nil {
		return 0, fmt.Errorf("list expenses of budget %s: %w", budgetID, err)
	}
	updated := 0
	for _, it := range items {
		if recurring, _ := it.Attrs["isRecurring"].(bool); !recurring {
			continue
		}
		_, err := r.store.Update(ctx, it.Key(), map[string]any{"isRecurring": false})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return updated, fmt.Errorf("stop recurring expense %s: %w", it.SK, err)
		}
		updated++
	}
	return updated, nil
}

// DeleteBudget removes the budget and every expense in its partition,
// returning the number of expenses deleted.
func (r *Repository) DeleteBudget(ctx context.Context, scope core.Scope, id string) (int, error) {
	if _, err := r.GetBudget(ctx, scope, id); err != nil {
		return 0, err
	}
	n, err := r.deletePartition(ctx, keys.BudgetExpensesPK(scope, id), keys.PrefixExpense)
	if err != nil {
		return n, err
	}
	if err := r.store.Delete(ctx, budgetKey(scope, id)); err != nil {
		return n, fmt.Errorf("delete budget %s: %w", id, err)
	}
	return n, nil
}

func validateScopeAndID(scope core.Scope, kind, id string) error {
	if err := keys.ValidateScope(scope); err != nil {
		return err
	}
	return keys.ValidateID(kind, id)
}
