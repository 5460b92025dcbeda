package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Store backend selection: memory, sqlite or dynamodb
	StoreBackend string

	// SQLite
	SQLiteDBPath string

	// DynamoDB
	DynamoTable    string
	DynamoGSIName  string
	AWSRegion      string
	DynamoEndpoint string

	// Auth
	JWTSecret string
	JWTIssuer string

	// Write requests allowed per user per minute; 0 disables limiting
	RateLimitPerMinute int
	// Extra CIDRs whose X-Forwarded-For is trusted
	TrustedProxies []string

	// Sub-account ownership cache lifetime
	ScopeCacheTTL time.Duration

	// Rollover worker
	RolloverInterval         time.Duration
	RolloverItemConcurrency  int
	RolloverScopeConcurrency int

	// Google Sheets run report (optional)
	ReportSpreadsheetID      string
	ReportSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Logging
	LogLevel  string
	LogFormat string
}

var (
	validBackends   = []string{"memory", "sqlite", "dynamodb"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		StoreBackend: getEnv("STORE_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/budgetbook.db"),

		DynamoTable:    getEnv("DYNAMO_TABLE", ""),
		DynamoGSIName:  getEnv("DYNAMO_GSI_NAME", "GSI1"),
		AWSRegion:      getEnv("AWS_REGION", ""),
		DynamoEndpoint: getEnv("DYNAMO_ENDPOINT", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		TrustedProxies:     getEnvList("TRUSTED_PROXIES"),
		ScopeCacheTTL:      getEnvDuration("SCOPE_CACHE_TTL", 5*time.Minute),

		RolloverInterval:         getEnvDuration("ROLLOVER_INTERVAL", 24*time.Hour),
		RolloverItemConcurrency:  getEnvInt("ROLLOVER_ITEM_CONCURRENCY", 8),
		RolloverScopeConcurrency: getEnvInt("ROLLOVER_SCOPE_CONCURRENCY", 4),

		ReportSpreadsheetID:      getEnv("REPORT_SPREADSHEET_ID", ""),
		ReportSheetName:          getEnv("REPORT_SHEET_NAME", "Rollover"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	return cfg
}

// ReportsToSheets reports whether a spreadsheet is configured for run reports.
func (c *Config) ReportsToSheets() bool {
	return c.ReportSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate store backend
	if !slices.Contains(validBackends, c.StoreBackend) {
		errors = append(errors, fmt.Sprintf("invalid store backend '%s': must be one of %v", c.StoreBackend, validBackends))
	}

	switch c.StoreBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "dynamodb":
		if c.DynamoTable == "" {
			errors = append(errors, "DYNAMO_TABLE is required when using dynamodb backend")
		}
		if c.DynamoGSIName == "" {
			errors = append(errors, "DYNAMO_GSI_NAME cannot be empty when using dynamodb backend")
		}
	}

	// Validate rollover settings
	if c.RolloverInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rollover interval %v: must be at least 1 minute", c.RolloverInterval))
	} else if c.RolloverInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid rollover interval %v: must be at most 24 hours", c.RolloverInterval))
	}
	if c.RolloverItemConcurrency < 1 || c.RolloverItemConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid rollover item concurrency %d: must be between 1 and 64", c.RolloverItemConcurrency))
	}
	if c.RolloverScopeConcurrency < 1 || c.RolloverScopeConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid rollover scope concurrency %d: must be between 1 and 64", c.RolloverScopeConcurrency))
	}

	// Validate report sheet if enabled
	if c.ReportsToSheets() {
		if c.ReportSheetName == "" {
			errors = append(errors, "REPORT_SHEET_NAME cannot be empty when REPORT_SPREADSHEET_ID is set")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided when REPORT_SPREADSHEET_ID is set")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	// Validate logging
	if !slices.Contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}
	if !slices.Contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validLogFormats))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateAPI checks the settings only the HTTP server needs.
func (c *Config) ValidateAPI() error {
	var errors []string
	if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET must be at least 32 characters")
	}
	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}
	if c.ScopeCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid scope cache TTL %v: must be positive", c.ScopeCacheTTL))
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': %v", cidr, err))
		}
	}
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
