package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	applog "budgetbook/internal/log"
	"budgetbook/internal/services"
)

type fakeRunner struct {
	mu    sync.Mutex
	refs  []time.Time
	err   error
	calls chan struct{}
}

func (f *fakeRunner) Run(_ context.Context, ref time.Time) (services.Report, error) {
	f.mu.Lock()
	f.refs = append(f.refs, ref)
	f.mu.Unlock()
	if f.calls != nil {
		f.calls <- struct{}{}
	}
	if f.err != nil {
		return nil, f.err
	}
	return services.Report{{UserID: "u1", Details: []services.ScopeReport{{Scope: "main", BudgetsCreated: 1, ExpensesCreated: 2}}}}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refs)
}

func TestCycle(t *testing.T) {
	day := time.Date(2025, 10, 15, 6, 0, 0, 0, time.UTC)

	t.Run("logs totals", func(t *testing.T) {
		var buf bytes.Buffer
		runner := &fakeRunner{}
		w := &worker{processor: runner, logger: applog.New(applog.Config{Output: &buf}), now: func() time.Time { return day }}

		if err := w.cycle(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !runner.refs[0].Equal(day) {
			t.Errorf("ref = %v, want %v", runner.refs[0], day)
		}
		for _, want := range []string{"reference_date=2025-10-15", "budgets_created=1", "expenses_created=2"} {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("log %q missing %q", buf.String(), want)
			}
		}
	})

	t.Run("enumeration failure is returned", func(t *testing.T) {
		runner := &fakeRunner{err: fmt.Errorf("%w: list users: boom", services.ErrEnumeration)}
		w := &worker{processor: runner, logger: applog.New(applog.Config{Output: &bytes.Buffer{}}), now: func() time.Time { return day }}
		if err := w.cycle(context.Background()); !errors.Is(err, services.ErrEnumeration) {
			t.Errorf("cycle() error = %v", err)
		}
	})
}

func TestLoop(t *testing.T) {
	tests := []struct {
		name   string
		runNow bool
	}{
		{"initial run", true},
		{"skip initial", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{calls: make(chan struct{}, 16)}
			w := &worker{processor: runner, logger: applog.New(applog.Config{Output: &bytes.Buffer{}}), now: time.Now}

			ctx, cancel := context.WithCancel(context.Background())
			finished := make(chan struct{})
			go func() {
				w.loop(ctx, 20*time.Millisecond, tt.runNow)
				close(finished)
			}()

			// initial run (if any) plus at least one tick
			for range 2 {
				select {
				case <-runner.calls:
				case <-time.After(2 * time.Second):
					t.Fatal("timed out waiting for a cycle")
				}
			}
			cancel()
			select {
			case <-finished:
			case <-time.After(2 * time.Second):
				t.Fatal("loop did not stop")
			}
			if runner.count() < 2 {
				t.Errorf("ran %d cycles", runner.count())
			}
		})
	}
}
