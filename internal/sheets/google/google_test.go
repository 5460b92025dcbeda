package google

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"budgetbook/internal/services"
)

type fakeAppender struct {
	calls         int
	spreadsheetID string
	rng           string
	rows          [][]any
	err           error
}

func (f *fakeAppender) AppendRows(_ context.Context, spreadsheetID, rng string, rows [][]any) error {
	f.calls++
	f.spreadsheetID = spreadsheetID
	f.rng = rng
	f.rows = rows
	return f.err
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func sampleReport() services.Report {
	return services.Report{
		{UserID: "u1", Details: []services.ScopeReport{
			{Scope: "main", BudgetsCreated: 2, ExpensesCreated: 5},
			{Scope: "s1", BudgetsCreated: 1, ExpensesSkipped: 1, Failures: []services.ItemFailure{{Kind: "expense", ID: "e1", Err: errors.New("x")}}},
		}},
		{UserID: "u2", Details: []services.ScopeReport{{Scope: "main"}}},
	}
}

func TestWriteReport(t *testing.T) {
	fake := &fakeAppender{}
	w := newWithAppender(fake, Config{SpreadsheetID: "sheet-1", SheetName: "Runs"}, quiet)
	w.now = func() time.Time { return time.Date(2025, 10, 15, 6, 0, 0, 0, time.UTC) }

	ref := time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)
	if err := w.WriteReport(context.Background(), ref, sampleReport()); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if fake.calls != 1 || fake.spreadsheetID != "sheet-1" || fake.rng != "Runs!A:H" {
		t.Errorf("unexpected append call: %+v", fake)
	}
	want := [][]any{
		{"2025-10-15", "u1", "main", 2, 5, 0, 0, "2025-10-15T06:00:00.000Z"},
		{"2025-10-15", "u1", "s1", 1, 0, 1, 1, "2025-10-15T06:00:00.000Z"},
		{"2025-10-15", "u2", "main", 0, 0, 0, 0, "2025-10-15T06:00:00.000Z"},
	}
	if !reflect.DeepEqual(fake.rows, want) {
		t.Errorf("rows = %v, want %v", fake.rows, want)
	}
	for _, row := range fake.rows {
		if len(row) != len(Header) {
			t.Errorf("row has %d columns, header has %d", len(row), len(Header))
		}
	}
}

func TestWriteReportEmpty(t *testing.T) {
	fake := &fakeAppender{}
	w := newWithAppender(fake, Config{SpreadsheetID: "sheet-1"}, quiet)
	if err := w.WriteReport(context.Background(), time.Now(), nil); err != nil {
		t.Fatal(err)
	}
	if fake.calls != 0 {
		t.Errorf("empty report must not call the API")
	}
	if w.sheetName != "Rollover" {
		t.Errorf("default sheet name = %q", w.sheetName)
	}
}

func TestWriteReportError(t *testing.T) {
	fake := &fakeAppender{err: errors.New("quota exceeded")}
	w := newWithAppender(fake, Config{SpreadsheetID: "sheet-1"}, quiet)
	err := w.WriteReport(context.Background(), time.Now(), sampleReport())
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("expected wrapped API error, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing spreadsheet", Config{CredentialsJSON: "{}"}, "missing report spreadsheet id"},
		{"missing credentials", Config{SpreadsheetID: "s"}, "missing service account credentials"},
		{"unreadable file", Config{SpreadsheetID: "s", CredentialsFile: filepath.Join(t.TempDir(), "nope.json")}, "read service account file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg, quiet)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
