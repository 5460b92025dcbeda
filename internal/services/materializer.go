package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
)

// Inserter persists next-period copies. The repository assigns the ids.
type Inserter interface {
	CreateBudget(ctx context.Context, scope core.Scope, b core.Budget) (core.Budget, error)
	CreateExpense(ctx context.Context, scope core.Scope, e core.Expense) (core.Expense, error)
}

// ItemFailure records one record that could not be copied forward.
type ItemFailure struct {
	Kind string // "budget", "expense", "expenses" or "scope"
	ID   string
	Err  error
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Kind, f.ID, f.Err)
}

func (f ItemFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Kind  string `json:"kind"`
		ID    string `json:"id"`
		Error string `json:"error"`
	}{f.Kind, f.ID, msg})
}

// NextBudget returns the next-period copy of b: no id, anchored one calendar
// month after b, pointing back at b through OldBudgetID.
func NextBudget(b core.Budget) (core.Budget, error) {
	anchor, err := core.ParseTimestamp(b.UpdatedAt)
	if err != nil {
		return core.Budget{}, &core.ValidationError{Field: "updatedAt", Err: core.ErrInvalidDate}
	}
	next := b
	next.ID = ""
	next.OldBudgetID = b.ID
	next.UpdatedAt = core.FormatDate(core.AddMonths(anchor, 1))
	next.CreatedAt = ""
	if next.Category == "" {
		next.Category = core.DefaultCategory
	}
	return next, nil
}

// NextExpense returns the next-period copy of e attached to newBudgetID. The
// copy is an unconfirmed projection: upcoming and not a favorite.
func NextExpense(e core.Expense, newBudgetID string) (core.Expense, error) {
	anchor, err := core.ParseTimestamp(e.UpdatedAt)
	if err != nil {
		return core.Expense{}, &core.ValidationError{Field: "updatedAt", Err: core.ErrInvalidDate}
	}
	next := e
	next.ID = ""
	next.BudgetID = newBudgetID
	next.UpdatedAt = core.FormatDate(core.AddMonths(anchor, 1))
	next.Upcoming = true
	next.Favorite = false
	return next, nil
}

type BudgetBatch struct {
	Created  []core.Budget
	IDMap    map[string]string // source id -> copy id
	Failures []ItemFailure
}

type ExpenseBatch struct {
	Created  []core.Expense
	Skipped  int
	Failures []ItemFailure
}

// Materializer writes next-period copies with bounded concurrency. A failing
// item is logged and reported; it never stops the rest of the batch.
type Materializer struct {
	repo        Inserter
	concurrency int
	logger      *slog.Logger
}

func NewMaterializer(repo Inserter, concurrency int, logger *slog.Logger) *Materializer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{repo: repo, concurrency: concurrency, logger: logger}
}

// MaterializeBudgets copies every due budget forward. Created keeps the order
// of due, minus failures.
func (m *Materializer) MaterializeBudgets(ctx context.Context, scope core.Scope, due []core.Budget) BudgetBatch {
	created := make([]*core.Budget, len(due))
	errs := make([]error, len(due))

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, src := range due {
		g.Go(func() error {
			next, err := NextBudget(src)
			if err == nil {
				next, err = m.repo.CreateBudget(ctx, scope, next)
			}
			if err != nil {
				errs[i] = err
				return nil
			}
			created[i] = &next
			return nil
		})
	}
	_ = g.Wait()

	batch := BudgetBatch{Created: make([]core.Budget, 0, len(due)), IDMap: make(map[string]string, len(due))}
	for i, src := range due {
		if errs[i] != nil {
			m.logger.ErrorContext(ctx, "Failed to materialize budget",
				applog.FieldUserID, scope.UserID,
				applog.FieldScope, scope.String(),
				applog.FieldBudgetID, src.ID,
				applog.FieldOperation, applog.OpMaterialize,
				applog.FieldError, errs[i])
			batch.Failures = append(batch.Failures, ItemFailure{Kind: "budget", ID: src.ID, Err: errs[i]})
			continue
		}
		batch.Created = append(batch.Created, *created[i])
		batch.IDMap[src.ID] = created[i].ID
	}
	return batch
}

// MaterializeExpenses copies every due expense forward into the copy of its
// budget. Expenses whose budget has no entry in idMap are skipped.
func (m *Materializer) MaterializeExpenses(ctx context.Context, scope core.Scope, due []core.Expense, idMap map[string]string) ExpenseBatch {
	var batch ExpenseBatch
	work := make([]core.Expense, 0, len(due))
	for _, e := range due {
		if _, ok := idMap[e.BudgetID]; !ok || e.BudgetID == "" {
			batch.Skipped++
			continue
		}
		work = append(work, e)
	}

	created := make([]*core.Expense, len(work))
	errs := make([]error, len(work))

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, src := range work {
		g.Go(func() error {
			next, err := NextExpense(src, idMap[src.BudgetID])
			if err == nil {
				next, err = m.repo.CreateExpense(ctx, scope, next)
			}
			if err != nil {
				errs[i] = err
				return nil
			}
			created[i] = &next
			return nil
		})
	}
	_ = g.Wait()

	batch.Created = make([]core.Expense, 0, len(work))
	for i, src := range work {
		if errs[i] != nil {
			m.logger.ErrorContext(ctx, "Failed to materialize expense",
				applog.FieldUserID, scope.UserID,
				applog.FieldScope, scope.String(),
				applog.FieldBudgetID, src.BudgetID,
				applog.FieldExpenseID, src.ID,
				applog.FieldOperation, applog.OpMaterialize,
				applog.FieldError, errs[i])
			batch.Failures = append(batch.Failures, ItemFailure{Kind: "expense", ID: src.ID, Err: errs[i]})
			continue
		}
		batch.Created = append(batch.Created, *created[i])
	}
	return batch
}
