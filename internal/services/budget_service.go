package services

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
)

// DuplicateStore is the part of the repository the duplicate operations use.
type DuplicateStore interface {
	Inserter
	GetBudget(ctx context.Context, scope core.Scope, id string) (core.Budget, error)
	GetExpense(ctx context.Context, scope core.Scope, budgetID, id string) (core.Expense, error)
	ListExpenses(ctx context.Context, scope core.Scope, budgetID string) ([]core.Expense, error)
}

// BudgetService implements the user-initiated copy operations.
type BudgetService struct {
	repo        DuplicateStore
	concurrency int
	logger      *slog.Logger
}

func NewBudgetService(repo DuplicateStore, concurrency int, logger *slog.Logger) *BudgetService {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BudgetService{repo: repo, concurrency: concurrency, logger: logger}
}

// DuplicateBudget copies a budget as "<title> Copy", dated now, together with
// all of its expenses. The copied expenses are returned in source order.
func (s *BudgetService) DuplicateBudget(ctx context.Context, scope core.Scope, budgetID string) (core.Budget, []core.Expense, error) {
	src, err := s.repo.GetBudget(ctx, scope, budgetID)
	if err != nil {
		return core.Budget{}, nil, err
	}
	expenses, err := s.repo.ListExpenses(ctx, scope, budgetID)
	if err != nil {
		return core.Budget{}, nil, err
	}

	cp := src
	cp.ID = ""
	cp.Title = src.Title + " Copy"
	cp.UpdatedAt = ""
	cp.CreatedAt = ""
	if cp.Category == "" {
		cp.Category = core.DefaultCategory
	}
	created, err := s.repo.CreateBudget(ctx, scope, cp)
	if err != nil {
		return core.Budget{}, nil, fmt.Errorf("duplicate budget %s: %w", budgetID, err)
	}

	copies := make([]core.Expense, len(expenses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, e := range expenses {
		g.Go(func() error {
			srcID := e.ID
			e.ID = ""
			e.BudgetID = created.ID
			e.UpdatedAt = ""
			out, err := s.repo.CreateExpense(gctx, scope, e)
			if err != nil {
				return fmt.Errorf("copy expense %s: %w", srcID, err)
			}
			copies[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "Budget duplicated without all of its expenses",
			applog.FieldUserID, scope.UserID,
			applog.FieldScope, scope.String(),
			applog.FieldBudgetID, created.ID,
			applog.FieldOperation, applog.OpDuplicate,
			applog.FieldError, err)
		return created, nil, fmt.Errorf("duplicate budget %s: %w", budgetID, err)
	}

	s.logger.InfoContext(ctx, "Budget duplicated",
		applog.FieldUserID, scope.UserID,
		applog.FieldScope, scope.String(),
		applog.FieldOldBudgetID, budgetID,
		applog.FieldBudgetID, created.ID,
		applog.FieldExpensesCreated, len(copies))
	return created, copies, nil
}

// DuplicateExpense copies one expense as "<title> (copy)" in the same budget.
func (s *BudgetService) DuplicateExpense(ctx context.Context, scope core.Scope, budgetID, expenseID string) (core.Expense, error) {
	src, err := s.repo.GetExpense(ctx, scope, budgetID, expenseID)
	if err != nil {
		return core.Expense{}, err
	}
	cp := src
	cp.ID = ""
	cp.Title = src.Title + " (copy)"
	cp.UpdatedAt = ""
	created, err := s.repo.CreateExpense(ctx, scope, cp)
	if err != nil {
		return core.Expense{}, fmt.Errorf("duplicate expense %s: %w", expenseID, err)
	}
	return created, nil
}
