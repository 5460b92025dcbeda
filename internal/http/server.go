// Package http exposes the repository and duplicate operations as a JSON API
// for authenticated users.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
	"budgetbook/internal/middleware/ratelimit"
	"budgetbook/internal/middleware/security"
	"budgetbook/internal/middleware/trace"
	"budgetbook/internal/repository"
)

// Repository is the persistence surface the handlers use.
type Repository interface {
	SubAccountLookup

	CreateUser(ctx context.Context, userID, email, currency string) (core.User, error)
	GetUser(ctx context.Context, userID string) (core.User, error)
	UpdateUser(ctx context.Context, userID string, patch core.UserPatch) (core.User, error)
	CreateSubAccount(ctx context.Context, userID, name string) (core.SubAccount, error)
	DeleteSubAccount(ctx context.Context, userID, subAccountID string) (repository.CascadeResult, error)

	CreateBudget(ctx context.Context, scope core.Scope, b core.Budget) (core.Budget, error)
	GetBudget(ctx context.Context, scope core.Scope, id string) (core.Budget, error)
	ListBudgets(ctx context.Context, scope core.Scope) ([]core.Budget, error)
	UpdateBudget(ctx context.Context, scope core.Scope, id string, patch core.BudgetPatch) (core.Budget, error)
	DeleteBudget(ctx context.Context, scope core.Scope, id string) (int, error)

	CreateExpense(ctx context.Context, scope core.Scope, e core.Expense) (core.Expense, error)
	GetExpense(ctx context.Context, scope core.Scope, budgetID, id string) (core.Expense, error)
	FindExpense(ctx context.Context, scope core.Scope, id string) (core.Expense, error)
	ListExpenses(ctx context.Context, scope core.Scope, budgetID string) ([]core.Expense, error)
	ListUserExpenses(ctx context.Context, userID string) ([]core.Expense, error)
	UpdateExpense(ctx context.Context, scope core.Scope, budgetID, id string, patch core.ExpensePatch) (core.Expense, error)
	DeleteExpense(ctx context.Context, scope core.Scope, budgetID, id string) error
}

// Duplicator copies budgets and expenses.
type Duplicator interface {
	DuplicateBudget(ctx context.Context, scope core.Scope, budgetID string) (core.Budget, []core.Expense, error)
	DuplicateExpense(ctx context.Context, scope core.Scope, budgetID, expenseID string) (core.Expense, error)
}

// Options configures NewServer.
type Options struct {
	Addr               string
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerMinute int // 0 disables limiting
	TrustedProxies     []string
	ScopeCacheTTL      time.Duration
}

type Server struct {
	http.Server

	repo    Repository
	dup     Duplicator
	logger  *applog.Logger
	auth    *Authenticator
	scopes  *ScopeResolver
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer wires middleware and routes, returning a ready-to-run server.
func NewServer(opts Options, repo Repository, dup Duplicator, logger *applog.Logger) (*Server, error) {
	if repo == nil || dup == nil {
		return nil, errors.New("http server needs a repository and a duplicator")
	}
	if opts.ScopeCacheTTL <= 0 {
		opts.ScopeCacheTTL = 5 * time.Minute
	}

	ips, err := security.NewIPResolver(opts.TrustedProxies...)
	if err != nil {
		return nil, err
	}
	scopes, err := NewScopeResolver(repo, opts.ScopeCacheTTL)
	if err != nil {
		return nil, err
	}

	s := &Server{
		repo:   repo,
		dup:    dup,
		logger: logger,
		auth:   NewAuthenticator(opts.JWTSecret, opts.JWTIssuer),
		scopes: scopes,
		tracer: trace.NewMiddleware(logger, ips.ClientIP),
	}
	if opts.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
	}

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.tracer.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found", RequestID: trace.GetRequestID(r.Context())})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", RequestID: trace.GetRequestID(r.Context())})
	})

	r.Get("/healthz", handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		if s.limiter != nil {
			r.Use(s.limiter.Middleware(writeKey, nil))
		}

		r.Post("/me", s.handleCreateUser)
		r.Get("/me", s.handleGetUser)
		r.Put("/me", s.handleUpdateUser)

		r.Post("/subaccounts", s.handleCreateSubAccount)
		r.Delete("/subaccounts/{subAccountId}", s.handleDeleteSubAccount)

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", s.handleListBudgets)
			r.Post("/", s.handleCreateBudget)
			r.Get("/{budgetId}", s.handleGetBudget)
			r.Put("/{budgetId}", s.handleUpdateBudget)
			r.Delete("/{budgetId}", s.handleDeleteBudget)
			r.Post("/{budgetId}/duplicate", s.handleDuplicateBudget)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", s.handleListExpenses)
			r.Post("/", s.handleCreateExpense)
			r.Get("/all", s.handleListAllExpenses)
			r.Get("/{expenseId}", s.handleGetExpense)
			r.Put("/{expenseId}", s.handleUpdateExpense)
			r.Delete("/{expenseId}", s.handleDeleteExpense)
			r.Post("/{expenseId}/duplicate", s.handleDuplicateExpense)
		})
	})
	return r
}

// writeKey limits writes per user; reads are not limited.
func writeKey(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ""
	}
	return UserIDFromContext(r.Context())
}

// Metrics is the counter snapshot served on /metrics.
type Metrics struct {
	HTTP      trace.Metrics      `json:"http"`
	RateLimit *ratelimit.Metrics `json:"rateLimit,omitempty"`
}

// Metrics returns the request counters and, when limiting is enabled, the
// rate limiter counters.
func (s *Server) Metrics() Metrics {
	m := Metrics{HTTP: s.tracer.GetMetrics()}
	if s.limiter != nil {
		rl := s.limiter.GetMetrics()
		m.RateLimit = &rl
	}
	return m
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Metrics())
}

// Shutdown gracefully shuts down the server and releases background resources.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
		if s.limiter != nil {
			s.limiter.Stop()
		}
		s.scopes.Close()
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
