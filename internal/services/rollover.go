package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
)

// ErrEnumeration marks a run aborted because the tenants could not be listed.
var ErrEnumeration = errors.New("tenant enumeration failed")

// RolloverStore is the part of the repository the rollover reads and writes.
type RolloverStore interface {
	Inserter
	ListUsers(ctx context.Context) ([]core.User, error)
	ListSubAccounts(ctx context.Context, userID string) ([]core.SubAccount, error)
	ListBudgets(ctx context.Context, scope core.Scope) ([]core.Budget, error)
	ListExpenses(ctx context.Context, scope core.Scope, budgetID string) ([]core.Expense, error)
}

// ScopeReport counts what one scope produced in a run.
type ScopeReport struct {
	Scope           string        `json:"scope"`
	BudgetsCreated  int           `json:"budgetsCreated"`
	ExpensesCreated int           `json:"expensesCreated"`
	ExpensesSkipped int           `json:"expensesSkipped,omitempty"`
	Failures        []ItemFailure `json:"failures,omitempty"`
}

type UserReport struct {
	UserID  string        `json:"userId"`
	Details []ScopeReport `json:"details"`
}

// Report lists users by id, each with its main scope first.
type Report []UserReport

type Totals struct {
	Users           int
	Scopes          int
	BudgetsCreated  int
	ExpensesCreated int
	ExpensesSkipped int
	Failures        int
}

func (r Report) Totals() Totals {
	t := Totals{Users: len(r)}
	for _, u := range r {
		for _, s := range u.Details {
			t.Scopes++
			t.BudgetsCreated += s.BudgetsCreated
			t.ExpensesCreated += s.ExpensesCreated
			t.ExpensesSkipped += s.ExpensesSkipped
			t.Failures += len(s.Failures)
		}
	}
	return t
}

// ReportWriter receives the report of every completed run.
type ReportWriter interface {
	WriteReport(ctx context.Context, ref time.Time, report Report) error
}

// RolloverConfig bounds the fan-out of a run.
type RolloverConfig struct {
	// ItemConcurrency is the number of copies written at once within a scope.
	ItemConcurrency int

	// ScopeConcurrency is the number of scopes processed at once.
	ScopeConcurrency int
}

func DefaultRolloverConfig() RolloverConfig {
	return RolloverConfig{
		ItemConcurrency:  8,
		ScopeConcurrency: 4,
	}
}

// RolloverProcessor copies every due recurring budget, and the due recurring
// expenses inside it, into the next monthly period.
type RolloverProcessor struct {
	repo         RolloverStore
	materializer *Materializer
	config       RolloverConfig
	writers      []ReportWriter
	logger       *slog.Logger
}

type RolloverOption func(*RolloverProcessor)

func WithReportWriters(w ...ReportWriter) RolloverOption {
	return func(p *RolloverProcessor) { p.writers = append(p.writers, w...) }
}

func WithRolloverLogger(l *slog.Logger) RolloverOption {
	return func(p *RolloverProcessor) { p.logger = l }
}

func NewRolloverProcessor(repo RolloverStore, config RolloverConfig, opts ...RolloverOption) *RolloverProcessor {
	if config.ScopeConcurrency < 1 {
		config.ScopeConcurrency = 1
	}
	p := &RolloverProcessor{
		repo:   repo,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(applog.FieldComponent, applog.ComponentRollover)
	p.materializer = NewMaterializer(repo, config.ItemConcurrency, p.logger)
	return p
}

type scopeJob struct {
	user, slot int
	scope      core.Scope
}

// Run performs one rollover for the reference day ref. Only a failure to
// enumerate users or sub-accounts aborts the run; item and scope failures are
// logged and carried in the report.
func (p *RolloverProcessor) Run(ctx context.Context, ref time.Time) (Report, error) {
	if p.repo == nil {
		return nil, fmt.Errorf("processor not properly initialized")
	}
	ref = ref.UTC()
	start := time.Now()
	refDay := core.FormatDate(ref)

	p.logger.InfoContext(ctx, "Starting rollover", applog.FieldReferenceDate, refDay)

	users, err := p.repo.ListUsers(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to enumerate users",
			applog.FieldOperation, applog.OpEnumerate,
			applog.FieldError, err)
		return nil, fmt.Errorf("%w: list users: %w", ErrEnumeration, err)
	}

	report := make(Report, len(users))
	var jobs []scopeJob
	for i, u := range users {
		subs, err := p.repo.ListSubAccounts(ctx, u.ID)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to enumerate sub-accounts",
				applog.FieldUserID, u.ID,
				applog.FieldOperation, applog.OpEnumerate,
				applog.FieldError, err)
			return nil, fmt.Errorf("%w: list sub-accounts of %s: %w", ErrEnumeration, u.ID, err)
		}
		report[i] = UserReport{UserID: u.ID, Details: make([]ScopeReport, 1+len(subs))}
		jobs = append(jobs, scopeJob{user: i, slot: 0, scope: core.MainScope(u.ID)})
		for j, s := range subs {
			jobs = append(jobs, scopeJob{user: i, slot: j + 1, scope: core.SubScope(u.ID, s.SubAccountID)})
		}
	}

	var g errgroup.Group
	g.SetLimit(p.config.ScopeConcurrency)
	for _, job := range jobs {
		g.Go(func() error {
			report[job.user].Details[job.slot] = p.processScope(ctx, job.scope, ref)
			return nil
		})
	}
	_ = g.Wait()

	t := report.Totals()
	p.logger.InfoContext(ctx, "Rollover complete",
		applog.FieldReferenceDate, refDay,
		applog.FieldUsers, t.Users,
		applog.FieldScopes, t.Scopes,
		applog.FieldBudgetsCreated, t.BudgetsCreated,
		applog.FieldExpensesCreated, t.ExpensesCreated,
		applog.FieldExpensesSkipped, t.ExpensesSkipped,
		applog.FieldFailures, t.Failures,
		applog.FieldDuration, time.Since(start).Milliseconds())

	for _, w := range p.writers {
		if err := w.WriteReport(ctx, ref, report); err != nil {
			p.logger.ErrorContext(ctx, "Failed to write rollover report",
				applog.FieldOperation, applog.OpReport,
				applog.FieldError, err)
		}
	}
	return report, nil
}

// processScope rolls one scope forward. Budgets finish before expenses start
// because the expense copies need the new budget ids.
func (p *RolloverProcessor) processScope(ctx context.Context, scope core.Scope, ref time.Time) ScopeReport {
	sr := ScopeReport{Scope: scope.String()}
	logger := p.logger.With(applog.FieldUserID, scope.UserID, applog.FieldScope, scope.String())

	budgets, err := p.repo.ListBudgets(ctx, scope)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list budgets", applog.FieldError, err)
		sr.Failures = append(sr.Failures, ItemFailure{Kind: "scope", ID: scope.String(), Err: err})
		return sr
	}
	dueBudgets := SelectDue(budgets, ref)
	if len(dueBudgets) == 0 {
		return sr
	}

	bb := p.materializer.MaterializeBudgets(ctx, scope, dueBudgets)
	sr.BudgetsCreated = len(bb.Created)
	sr.Failures = append(sr.Failures, bb.Failures...)

	// Expenses of budgets whose copy failed are still selected so they are
	// counted as skipped.
	var dueExpenses []core.Expense
	for _, b := range dueBudgets {
		expenses, err := p.repo.ListExpenses(ctx, scope, b.ID)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to list expenses",
				applog.FieldBudgetID, b.ID,
				applog.FieldError, err)
			sr.Failures = append(sr.Failures, ItemFailure{Kind: "expenses", ID: b.ID, Err: err})
			continue
		}
		dueExpenses = append(dueExpenses, SelectDue(expenses, ref)...)
	}

	eb := p.materializer.MaterializeExpenses(ctx, scope, dueExpenses, bb.IDMap)
	sr.ExpensesCreated = len(eb.Created)
	sr.ExpensesSkipped = eb.Skipped
	sr.Failures = append(sr.Failures, eb.Failures...)

	logger.InfoContext(ctx, "Scope rolled over",
		applog.FieldBudgetsCreated, sr.BudgetsCreated,
		applog.FieldExpensesCreated, sr.ExpensesCreated,
		applog.FieldExpensesSkipped, sr.ExpensesSkipped,
		applog.FieldFailures, len(sr.Failures))
	return sr
}

// LogReportWriter logs one line per scope of a report.
type LogReportWriter struct {
	Logger *slog.Logger
}

func (w LogReportWriter) WriteReport(ctx context.Context, ref time.Time, report Report) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, u := range report {
		for _, s := range u.Details {
			logger.InfoContext(ctx, "Rollover report",
				applog.FieldReferenceDate, core.FormatDate(ref),
				applog.FieldUserID, u.UserID,
				applog.FieldScope, s.Scope,
				applog.FieldBudgetsCreated, s.BudgetsCreated,
				applog.FieldExpensesCreated, s.ExpensesCreated,
				applog.FieldExpensesSkipped, s.ExpensesSkipped,
				applog.FieldFailures, len(s.Failures))
		}
	}
	return nil
}
