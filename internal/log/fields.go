package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldUserID          = "user_id"
	FieldScope           = "scope"
	FieldSubAccountID    = "sub_account_id"
	FieldBudgetID        = "budget_id"
	FieldOldBudgetID     = "old_budget_id"
	FieldExpenseID       = "expense_id"
	FieldReferenceDate   = "reference_date"
	FieldUsers           = "users"
	FieldScopes          = "scopes"
	FieldBudgetsCreated  = "budgets_created"
	FieldExpensesCreated = "expenses_created"
	FieldExpensesSkipped = "expenses_skipped"
	FieldFailures        = "failures"
	FieldBackend         = "backend"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentRollover   = "rollover"
	ComponentStore      = "store"
	ComponentRepository = "repository"
	ComponentWorker     = "worker"
	ComponentSheets     = "sheets"
	ComponentAuth       = "auth"
	ComponentBackend    = "backend"
)

// Operations defines standard operation names
const (
	OpCreate      = "create"
	OpRead        = "read"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpList        = "list"
	OpDuplicate   = "duplicate"
	OpEnumerate   = "enumerate"
	OpMaterialize = "materialize"
	OpReport      = "report"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithScope adds the tenant scope fields
func (f LogFields) WithScope(userID, scope string) LogFields {
	f[FieldUserID] = userID
	f[FieldScope] = scope
	return f
}

// WithCounts adds rollover counters
func (f LogFields) WithCounts(budgets, expenses, skipped, failures int) LogFields {
	f[FieldBudgetsCreated] = budgets
	f[FieldExpensesCreated] = expenses
	f[FieldExpensesSkipped] = skipped
	f[FieldFailures] = failures
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
