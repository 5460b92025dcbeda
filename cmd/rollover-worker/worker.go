package main

import (
	"context"
	"time"

	applog "budgetbook/internal/log"
	"budgetbook/internal/services"
)

type rolloverRunner interface {
	Run(ctx context.Context, ref time.Time) (services.Report, error)
}

type worker struct {
	processor rolloverRunner
	logger    *applog.Logger
	now       func() time.Time
}

// cycle runs one rollover for the current day. Per-item failures are already
// part of the report; only an enumeration failure is returned.
func (w *worker) cycle(ctx context.Context) error {
	ref := w.now()
	start := time.Now()
	report, err := w.processor.Run(ctx, ref)
	if err != nil {
		w.logger.LogError(ctx, "Rollover cycle failed", err, applog.OpEnumerate,
			applog.NewFields().WithComponent(applog.ComponentWorker))
		return err
	}
	totals := report.Totals()
	w.logger.Info("Rollover cycle complete",
		applog.FieldReferenceDate, ref.UTC().Format(time.DateOnly),
		applog.FieldBudgetsCreated, totals.BudgetsCreated,
		applog.FieldExpensesCreated, totals.ExpensesCreated,
		applog.FieldFailures, totals.Failures,
		applog.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// loop runs a cycle on every tick until ctx is cancelled, optionally running
// one immediately.
func (w *worker) loop(ctx context.Context, interval time.Duration, runNow bool) {
	if runNow {
		_ = w.cycle(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.cycle(ctx)
		}
	}
}
