package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
	"budgetbook/internal/services"
)

type rolloverRunner interface {
	Run(ctx context.Context, ref time.Time) (services.Report, error)
}

// detail is the optional payload of a scheduled event. ReferenceDate
// (YYYY-MM-DD) replays the rollover of a past day.
type detail struct {
	ReferenceDate string `json:"referenceDate"`
}

type handler struct {
	processor rolloverRunner
	logger    *applog.Logger
	now       func() time.Time
}

// Handle runs one rollover cycle and returns its report. Enumeration
// failures fail the invocation so the scheduler can retry.
func (h *handler) Handle(ctx context.Context, event events.CloudWatchEvent) (services.Report, error) {
	ref, err := h.referenceDate(event)
	if err != nil {
		return nil, err
	}

	h.logger.Info("Rollover invocation started",
		applog.FieldReferenceDate, core.FormatDate(ref),
		"event_id", event.ID)

	report, err := h.processor.Run(ctx, ref)
	if err != nil {
		h.logger.LogError(ctx, "Rollover invocation failed", err, applog.OpEnumerate, nil)
		return nil, err
	}
	return report, nil
}

func (h *handler) referenceDate(event events.CloudWatchEvent) (time.Time, error) {
	var d detail
	if len(event.Detail) > 0 {
		if err := json.Unmarshal(event.Detail, &d); err != nil {
			return time.Time{}, fmt.Errorf("decode event detail: %w", err)
		}
	}
	if d.ReferenceDate == "" {
		if h.now != nil {
			return h.now(), nil
		}
		return time.Now(), nil
	}
	ref, err := time.Parse(time.DateOnly, d.ReferenceDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid referenceDate %q: %w", d.ReferenceDate, err)
	}
	return ref, nil
}

// closeOnShutdown returns the runtime shutdown hook that releases the store.
func closeOnShutdown(c io.Closer, logger *applog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close store", applog.FieldError, err)
		}
	}
}
