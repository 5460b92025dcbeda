package cli

import (
	"context"
	"io"
	"testing"
	"time"

	"budgetbook/internal/backend"
	"budgetbook/internal/config"
	applog "budgetbook/internal/log"
	"budgetbook/internal/services"
)

func TestBackendConfig(t *testing.T) {
	cfg := &config.Config{
		StoreBackend:   "dynamodb",
		SQLiteDBPath:   "./data/x.db",
		DynamoTable:    "budgetbook",
		DynamoGSIName:  "GSI1",
		AWSRegion:      "eu-west-1",
		DynamoEndpoint: "http://localhost:8000",
	}
	got := BackendConfig(cfg)
	want := backend.Config{
		Type:           backend.DynamoBackend,
		SQLiteDBPath:   "./data/x.db",
		DynamoTable:    "budgetbook",
		DynamoIndex:    "GSI1",
		DynamoRegion:   "eu-west-1",
		DynamoEndpoint: "http://localhost:8000",
	}
	if got != want {
		t.Errorf("BackendConfig() = %+v, want %+v", got, want)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("mapped config should be valid: %v", err)
	}
}

func TestReportWriters(t *testing.T) {
	logger := applog.New(applog.Config{Output: io.Discard, Component: applog.ComponentWorker})

	tests := []struct {
		name string
		cfg  *config.Config
		want int
	}{
		{"log only", &config.Config{}, 1},
		// Bad credentials disable the Sheets writer without failing.
		{"sheets misconfigured", &config.Config{ReportSpreadsheetID: "sheet", ReportSheetName: "Rollover"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writers := ReportWriters(context.Background(), logger, tt.cfg)
			if len(writers) != tt.want {
				t.Fatalf("got %d writers, want %d", len(writers), tt.want)
			}
			if _, ok := writers[0].(services.LogReportWriter); !ok {
				t.Errorf("first writer is %T, want LogReportWriter", writers[0])
			}
		})
	}
}

func TestNewRolloverProcessorRunsOnMemoryStore(t *testing.T) {
	logger := applog.New(applog.Config{Output: io.Discard})
	cfg := &config.Config{StoreBackend: "memory", RolloverItemConcurrency: 2, RolloverScopeConcurrency: 2}

	s, err := backend.Open(context.Background(), BackendConfig(cfg), logger.Logger)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p := NewRolloverProcessor(context.Background(), logger, cfg, NewRepository(s, logger))
	report, err := p.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report) != 0 {
		t.Errorf("empty store produced %d user reports", len(report))
	}
}
