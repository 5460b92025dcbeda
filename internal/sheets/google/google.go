// Package google appends rollover run reports to a Google Sheets spreadsheet,
// one row per processed scope.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
	"budgetbook/internal/services"
)

// Header is the row layout written by the report writer.
var Header = []any{"Reference date", "User", "Scope", "Budgets created", "Expenses created", "Expenses skipped", "Failures", "Written at"}

type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// valueAppender is the single Sheets call the writer needs.
type valueAppender interface {
	AppendRows(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
}

type sheetsAppender struct {
	svc *gsheet.Service
}

func (a sheetsAppender) AppendRows(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	_, err := a.svc.Spreadsheets.Values.Append(spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	return err
}

// ReportWriter implements services.ReportWriter.
type ReportWriter struct {
	values        valueAppender
	spreadsheetID string
	sheetName     string
	now           func() time.Time
	logger        *slog.Logger
}

var _ services.ReportWriter = (*ReportWriter)(nil)

// New creates a writer authenticated with service account credentials.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*ReportWriter, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing report spreadsheet id")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newWithAppender(sheetsAppender{svc: svc}, cfg, logger), nil
}

func newWithAppender(values valueAppender, cfg Config, logger *slog.Logger) *ReportWriter {
	if logger == nil {
		logger = slog.Default()
	}
	name := strings.TrimSpace(cfg.SheetName)
	if name == "" {
		name = "Rollover"
	}
	return &ReportWriter{
		values:        values,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     name,
		now:           time.Now,
		logger:        logger.With(applog.FieldComponent, applog.ComponentSheets),
	}
}

// newSheetsService initializes a Sheets Service from inline JSON or a
// credentials file, inline JSON taking precedence.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// Rows renders a report in Header layout, in report order.
func Rows(ref time.Time, report services.Report, writtenAt time.Time) [][]any {
	refDay := core.FormatDate(ref)
	stamp := core.FormatTimestamp(writtenAt)
	var rows [][]any
	for _, u := range report {
		for _, s := range u.Details {
			rows = append(rows, []any{
				refDay,
				u.UserID,
				s.Scope,
				s.BudgetsCreated,
				s.ExpensesCreated,
				s.ExpensesSkipped,
				len(s.Failures),
				stamp,
			})
		}
	}
	return rows
}

func (w *ReportWriter) WriteReport(ctx context.Context, ref time.Time, report services.Report) error {
	rows := Rows(ref, report, w.now())
	if len(rows) == 0 {
		return nil
	}
	rng := fmt.Sprintf("%s!A:H", w.sheetName)
	if err := w.values.AppendRows(ctx, w.spreadsheetID, rng, rows); err != nil {
		return fmt.Errorf("append %d rows to %s: %w", len(rows), rng, err)
	}
	w.logger.InfoContext(ctx, "Rollover report written",
		applog.FieldReferenceDate, core.FormatDate(ref),
		"rows", len(rows),
		"sheet", w.sheetName)
	return nil
}
