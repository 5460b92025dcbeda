// Package services holds the rollover engine (selector, materializer and
// orchestrator), the duplicate operations and the report writers.
package services

import (
	"time"

	"budgetbook/internal/core"
)

// Recurring is implemented by the records the rollover can copy forward.
type Recurring interface {
	Recurs() bool
	Anchor() string
	Identity() string
}

// DuenessChecker decides whether a record anchored at anchor is due on ref.
type DuenessChecker interface {
	IsDue(anchor, ref time.Time) bool
}

// MonthlyAnniversary is due exactly one calendar month after the anchor, on
// the same day. Runs 0 or 2+ months after the anchor are not due, so a missed
// day is never caught up and a repeated day never copies twice from a new
// anchor.
type MonthlyAnniversary struct{}

func (MonthlyAnniversary) IsDue(anchor, ref time.Time) bool {
	anchor, ref = anchor.UTC(), ref.UTC()
	if core.CalendarMonthsBetween(anchor, ref) != 1 {
		return false
	}
	return core.SameDay(ref, core.AddMonths(anchor, 1))
}

// DefaultChecker is the rule used by the rollover.
var DefaultChecker DuenessChecker = MonthlyAnniversary{}

// SelectDue returns the recurring candidates due on ref under DefaultChecker,
// in input order.
func SelectDue[T Recurring](candidates []T, ref time.Time) []T {
	return SelectDueWith(DefaultChecker, candidates, ref)
}

// SelectDueWith is SelectDue with an explicit rule. Candidates with a missing
// or unparsable anchor are never due.
func SelectDueWith[T Recurring](checker DuenessChecker, candidates []T, ref time.Time) []T {
	due := make([]T, 0, len(candidates))
	for _, c := range candidates {
		if !c.Recurs() {
			continue
		}
		anchor, err := core.ParseTimestamp(c.Anchor())
		if err != nil {
			continue
		}
		if checker.IsDue(anchor, ref) {
			due = append(due, c)
		}
	}
	return due
}
