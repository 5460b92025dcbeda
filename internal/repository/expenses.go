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

func expenseKey(scope core.Scope, budgetID, id string) store.Key {
	return store.Key{PK: keys.ExpensePK(scope, budgetID), SK: keys.ExpenseSK(id)}
}

func (r *Repository) expenseItem(scope core.Scope, e core.Expense) (store.Item, error) {
	attrs, err := toAttrs(e, entityExpense)
	if err != nil {
		return store.Item{}, err
	}
	key := expenseKey(scope, e.BudgetID, e.ID)
	gsiPK, gsiSK := keys.ExpenseIndex(scope.UserID, e.ID)
	return store.Item{PK: key.PK, SK: key.SK, GSI1PK: gsiPK, GSI1SK: gsiSK, Attrs: attrs}, nil
}

// CreateExpense stores e under scope with a fresh id, inside its budget's
// partition when BudgetID is set. The budget must exist.
func (r *Repository) CreateExpense(ctx context.Context, scope core.Scope, e core.Expense) (core.Expense, error) {
	if err := keys.ValidateScope(scope); err != nil {
		return core.Expense{}, err
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	if e.BudgetID != "" {
		if _, err := r.GetBudget(ctx, scope, e.BudgetID); err != nil {
			return core.Expense{}, err
		}
	}

	e.ID = r.newID()
	e.UserID = scope.UserID
	e.SubAccountID = scope.SubAccountID
	if e.UpdatedAt == "" {
		e.UpdatedAt = r.timestamp()
	}

	it, err := r.expenseItem(scope, e)
	if err != nil {
		return core.Expense{}, err
	}
	if err := r.store.Put(ctx, it); err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	return e, nil
}

func (r *Repository) GetExpense(ctx context.Context, scope core.Scope, budgetID, id string) (core.Expense, error) {
	if err := validateScopeAndID(scope, "expense", id); err != nil {
		return core.Expense{}, err
	}
	if budgetID != "" {
		if err := keys.ValidateID("budget", budgetID); err != nil {
			return core.Expense{}, err
		}
	}
	it, err := r.store.Get(ctx, expenseKey(scope, budgetID, id))
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %s: %w", id, err)
	}
	var e core.Expense
	if err := fromAttrs(it.Attrs, &e); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

// FindExpense locates an expense of the scope by id alone through the
// per-user expense index.
func (r *Repository) FindExpense(ctx context.Context, scope core.Scope, id string) (core.Expense, error) {
	if err := validateScopeAndID(scope, "expense", id); err != nil {
		return core.Expense{}, err
	}
	gsiPK, gsiSK := keys.ExpenseIndex(scope.UserID, id)
	items, err := r.store.QueryIndex(ctx, gsiPK, gsiSK)
	if err != nil {
		return core.Expense{}, fmt.Errorf("find expense %s: %w", id, err)
	}
	expenses, err := decodeAll[core.Expense](items)
	if err != nil {
		return core.Expense{}, err
	}
	for _, e := range expenses {
		if e.ID == id && e.SubAccountID == scope.SubAccountID {
			return e, nil
		}
	}
	return core.Expense{}, fmt.Errorf("find expense %s: %w", id, store.ErrNotFound)
}

// ListExpenses returns the expenses of one budget, or the scope's unassigned
// expenses when budgetID is empty.
func (r *Repository) ListExpenses(ctx context.Context, scope core.Scope, budgetID string) ([]core.Expense, error) {
	if err := keys.ValidateScope(scope); err != nil {
		return nil, err
	}
	if budgetID != "" {
		if err := keys.ValidateID("budget", budgetID); err != nil {
			return nil, err
		}
	}
	items, err := r.store.Query(ctx, keys.ExpensePK(scope, budgetID), keys.PrefixExpense)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return decodeAll[core.Expense](items)
}

// ListUserExpenses returns every expense of a user across all scopes and budgets.
func (r *Repository) ListUserExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	if err := keys.ValidateID("user", userID); err != nil {
		return nil, err
	}
	gsiPK, _ := keys.ExpenseIndex(userID, "")
	items, err := r.store.QueryIndex(ctx, gsiPK, keys.PrefixExpense)
	if err != nil {
		return nil, fmt.Errorf("list expenses of %s: %w", userID, err)
	}
	return decodeAll[core.Expense](items)
}

// UpdateExpense merges patch into the expense stored under budgetID. When the
// patch moves it to another budget the key changes, so the expense is written
// at the new key first (failing with store.ErrConflict if taken) and the old
// record deleted afterwards. The id is kept.
func (r *Repository) UpdateExpense(ctx context.Context, scope core.Scope, budgetID, id string, patch core.ExpensePatch) (core.Expense, error) {
	if err := validateScopeAndID(scope, "expense", id); err != nil {
		return core.Expense{}, err
	}
	if err := patch.Validate(); err != nil {
		return core.Expense{}, err
	}

	if patch.BudgetID != nil && *patch.BudgetID != budgetID {
		return r.moveExpense(ctx, scope, budgetID, id, patch)
	}

	fields, err := toAttrs(patch, "")
	if err != nil {
		return core.Expense{}, err
	}
	delete(fields, "budgetId")
	if patch.UpdatedAt == nil {
		fields["updatedAt"] = r.timestamp()
	}

	it, err := r.store.Update(ctx, expenseKey(scope, budgetID, id), fields)
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense %s: %w", id, err)
	}
	var e core.Expense
	if err := fromAttrs(it.Attrs, &e); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (r *Repository) moveExpense(ctx context.Context, scope core.Scope, fromBudget, id string, patch core.ExpensePatch) (core.Expense, error) {
	current, err := r.GetExpense(ctx, scope, fromBudget, id)
	if err != nil {
		return core.Expense{}, err
	}
	target := *patch.BudgetID
	if target != "" {
		if _, err := r.GetBudget(ctx, scope, target); err != nil {
			return core.Expense{}, err
		}
	}

	moved := patch.ApplyTo(current)
	if patch.UpdatedAt == nil {
		moved.UpdatedAt = r.timestamp()
	}
	it, err := r.expenseItem(scope, moved)
	if err != nil {
		return core.Expense{}, err
	}
	if err := r.store.Put(ctx, it); err != nil {
		return core.Expense{}, fmt.Errorf("move expense %s: %w", id, err)
	}
	if err := r.store.Delete(ctx, expenseKey(scope, fromBudget, id)); err != nil && !errors.Is(err, store.ErrNotFound) {
		// Both copies exist now; surface it rather than guess which to keep.
		r.logger.ErrorContext(ctx, "Moved expense but failed to delete the old record",
			applog.FieldUserID, scope.UserID,
			applog.FieldExpenseID, id,
			applog.FieldBudgetID, fromBudget,
			applog.FieldError, err)
		return moved, fmt.Errorf("move expense %s: delete old record: %w", id, err)
	}
	return moved, nil
}

func (r *Repository) DeleteExpense(ctx context.Context, scope core.Scope, budgetID, id string) error {
	if err := validateScopeAndID(scope, "expense", id); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, expenseKey(scope, budgetID, id)); err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	return nil
}
