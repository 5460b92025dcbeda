package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"budgetbook/internal/core"
	"budgetbook/internal/keys"
	applog "budgetbook/internal/log"
	"budgetbook/internal/repository"
	"budgetbook/internal/services"
	"budgetbook/internal/store"
	"budgetbook/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	logger := applog.New(applog.Config{Output: io.Discard, Component: applog.ComponentHTTP})
	repo := repository.New(memory.New(), repository.WithLogger(logger.Logger))
	if opts.JWTSecret == "" {
		opts.JWTSecret = testSecret
	}
	srv, err := NewServer(opts, repo, services.NewBudgetService(repo, 2, logger.Logger), logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func sign(t *testing.T, method jwt.SigningMethod, claims jwt.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func tokenFor(t *testing.T, sub string) string {
	return sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
}

func do(srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		buf, _ := json.Marshal(b)
		r = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
}

func TestHealthAndHeaders(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
	if got := decode[map[string]string](t, rr)["status"]; got != "ok" {
		t.Errorf("status = %q", got)
	}

	rr = do(srv, http.MethodGet, "/nope", "", nil)
	expectStatus(t, rr, http.StatusNotFound)
	rr = do(srv, http.MethodPatch, "/healthz", "", nil)
	expectStatus(t, rr, http.StatusMethodNotAllowed)

	if got := srv.Metrics().HTTP.TotalRequests; got != 3 {
		t.Errorf("TotalRequests = %d, want 3", got)
	}

	rr = do(srv, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rr, http.StatusOK)
	m := decode[Metrics](t, rr)
	// counted on entry, so the metrics request includes itself
	if m.HTTP.TotalRequests != 4 || m.RateLimit != nil {
		t.Errorf("metrics = %+v", m)
	}
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t, Options{JWTIssuer: "https://issuer.example"})
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not.a.jwt", http.StatusUnauthorized},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS384, jwt.RegisteredClaims{Subject: "u1", Issuer: "https://issuer.example", ExpiresAt: future}), http.StatusUnauthorized},
		{"expired", sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "https://issuer.example", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}), http.StatusUnauthorized},
		{"no expiry", sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "https://issuer.example"}), http.StatusUnauthorized},
		{"wrong issuer", sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "other", ExpiresAt: future}), http.StatusUnauthorized},
		{"subject with separator", sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u#1", Issuer: "https://issuer.example", ExpiresAt: future}), http.StatusUnauthorized},
		// authenticated, but no profile yet
		{"valid", sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "https://issuer.example", ExpiresAt: future}), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(srv, http.MethodGet, "/api/me", tt.token, nil)
			expectStatus(t, rr, tt.want)
		})
	}

	other := sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "https://issuer.example", ExpiresAt: future})
	forged := other[:len(other)-2] + "xx"
	expectStatus(t, do(srv, http.MethodGet, "/api/me", forged, nil), http.StatusUnauthorized)
}

func TestUserAndSubAccounts(t *testing.T) {
	srv := newTestServer(t, Options{})
	tok := tokenFor(t, "u1")

	rr := do(srv, http.MethodPost, "/api/me", tok, map[string]string{"email": "a@example.com", "currency": "EUR"})
	expectStatus(t, rr, http.StatusCreated)
	if u := decode[core.User](t, rr); u.ID != "u1" || u.Email != "a@example.com" {
		t.Errorf("created user = %+v", u)
	}
	expectStatus(t, do(srv, http.MethodPost, "/api/me", tok, map[string]string{"email": "a@example.com"}), http.StatusConflict)
	expectStatus(t, do(srv, http.MethodPost, "/api/me", tokenFor(t, "u2"), map[string]string{"email": " "}), http.StatusUnprocessableEntity)

	rr = do(srv, http.MethodPut, "/api/me", tok, map[string]string{"currency": "USD"})
	expectStatus(t, rr, http.StatusOK)
	if u := decode[core.User](t, rr); u.Currency != "USD" || u.Email != "a@example.com" {
		t.Errorf("updated user = %+v", u)
	}

	rr = do(srv, http.MethodPost, "/api/subaccounts", tok, map[string]string{"name": "Holidays"})
	expectStatus(t, rr, http.StatusCreated)
	sub := decode[core.SubAccount](t, rr)

	rr = do(srv, http.MethodGet, "/api/me", tok, nil)
	expectStatus(t, rr, http.StatusOK)
	if u := decode[core.User](t, rr); len(u.SubAccounts) != 1 || u.SubAccounts[0].ID != sub.ID {
		t.Errorf("user sub-accounts = %+v", u.SubAccounts)
	}

	// Another user cannot address the sub-account.
	other := tokenFor(t, "u2")
	expectStatus(t, do(srv, http.MethodGet, "/api/budgets?subAccountId="+sub.ID, other, nil), http.StatusForbidden)
	expectStatus(t, do(srv, http.MethodDelete, "/api/subaccounts/"+sub.ID, other, nil), http.StatusNotFound)
	expectStatus(t, do(srv, http.MethodGet, "/api/budgets?subAccountId=a%23b", tok, nil), http.StatusUnprocessableEntity)
}

func TestSubAccountDeleteInvalidatesScope(t *testing.T) {
	srv := newTestServer(t, Options{})
	tok := tokenFor(t, "u1")

	expectStatus(t, do(srv, http.MethodPost, "/api/me", tok, map[string]string{"email": "a@example.com"}), http.StatusCreated)
	sub := decode[core.SubAccount](t, do(srv, http.MethodPost, "/api/subaccounts", tok, map[string]string{"name": "Car"}))

	budgetPath := "/api/budgets?subAccountId=" + sub.ID
	expectStatus(t, do(srv, http.MethodPost, budgetPath, tok, map[string]any{
		"title": "Fuel", "amount": "80", "currency": "EUR", "period": "monthly",
	}), http.StatusCreated)
	srv.scopes.cache.Wait()

	rr := do(srv, http.MethodDelete, "/api/subaccounts/"+sub.ID, tok, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[cascadeResponse](t, rr); got != (cascadeResponse{BudgetsDeleted: 1}) {
		t.Errorf("cascade = %+v", got)
	}

	expectStatus(t, do(srv, http.MethodGet, budgetPath, tok, nil), http.StatusForbidden)
}

func TestBudgetsAndExpenses(t *testing.T) {
	srv := newTestServer(t, Options{})
	tok := tokenFor(t, "u1")

	// Decoding and validation failures.
	expectStatus(t, do(srv, http.MethodPost, "/api/budgets", tok, `{"title":`), http.StatusBadRequest)
	expectStatus(t, do(srv, http.MethodPost, "/api/budgets", tok, `{"title":"x","bogus":1}`), http.StatusBadRequest)
	expectStatus(t, do(srv, http.MethodPost, "/api/budgets", tok, map[string]any{
		"title": "Rent", "amount": "0", "currency": "EUR", "period": "monthly",
	}), http.StatusUnprocessableEntity)

	rr := do(srv, http.MethodPost, "/api/budgets", tok, map[string]any{
		"title": "Groceries", "amount": "400", "currency": "EUR", "period": "monthly",
		"isRecurring": true, "updatedAt": "2025-09-15T00:00:00.000Z",
	})
	expectStatus(t, rr, http.StatusCreated)
	budget := decode[core.Budget](t, rr)
	if budget.ID == "" || budget.UserID != "u1" || budget.UpdatedAt != "2025-09-15T00:00:00.000Z" {
		t.Fatalf("created budget = %+v", budget)
	}

	rr = do(srv, http.MethodGet, "/api/budgets", tok, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decode[[]core.Budget](t, rr); len(list) != 1 || list[0].ID != budget.ID {
		t.Errorf("budgets = %+v", list)
	}

	rr = do(srv, http.MethodPut, "/api/budgets/"+budget.ID, tok, map[string]any{"title": "Food"})
	expectStatus(t, rr, http.StatusOK)
	if b := decode[core.Budget](t, rr); b.Title != "Food" || !b.IsRecurring {
		t.Errorf("updated budget = %+v", b)
	}

	rr = do(srv, http.MethodPost, "/api/expenses", tok, map[string]any{
		"title": "Market", "amount": "35.20", "currency": "EUR", "category": "Food", "budgetId": budget.ID,
	})
	expectStatus(t, rr, http.StatusCreated)
	expense := decode[core.Expense](t, rr)
	expectStatus(t, do(srv, http.MethodPost, "/api/expenses", tok, map[string]any{
		"title": "Orphan", "amount": "1", "currency": "EUR", "budgetId": "missing",
	}), http.StatusNotFound)

	// Located through the index and through the named budget.
	for _, path := range []string{
		"/api/expenses/" + expense.ID,
		"/api/expenses/" + expense.ID + "?budgetId=" + budget.ID,
	} {
		rr = do(srv, http.MethodGet, path, tok, nil)
		expectStatus(t, rr, http.StatusOK)
		if got := decode[core.Expense](t, rr); got.ID != expense.ID || !got.Amount.Equal(expense.Amount) {
			t.Errorf("GET %s = %+v", path, got)
		}
	}
	expectStatus(t, do(srv, http.MethodGet, "/api/expenses/"+expense.ID+"?budgetId=", tok, nil), http.StatusNotFound)

	rr = do(srv, http.MethodGet, "/api/expenses?budgetId="+budget.ID, tok, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decode[[]core.Expense](t, rr); len(list) != 1 {
		t.Errorf("budget expenses = %+v", list)
	}
	rr = do(srv, http.MethodGet, "/api/expenses", tok, nil)
	expectStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("unassigned expenses = %s, want []", rr.Body.String())
	}

	rr = do(srv, http.MethodPut, "/api/expenses/"+expense.ID, tok, map[string]any{"favorite": true})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[core.Expense](t, rr); !got.Favorite || got.BudgetID != budget.ID {
		t.Errorf("updated expense = %+v", got)
	}

	rr = do(srv, http.MethodPost, "/api/expenses/"+expense.ID+"/duplicate", tok, nil)
	expectStatus(t, rr, http.StatusCreated)
	if got := decode[core.Expense](t, rr); got.Title != "Market (copy)" || got.ID == expense.ID {
		t.Errorf("duplicated expense = %+v", got)
	}

	rr = do(srv, http.MethodPost, "/api/budgets/"+budget.ID+"/duplicate", tok, nil)
	expectStatus(t, rr, http.StatusCreated)
	dup := decode[duplicateBudgetResponse](t, rr)
	if dup.Budget.Title != "Food Copy" || len(dup.Expenses) != 2 {
		t.Errorf("duplicated budget = %+v", dup)
	}

	rr = do(srv, http.MethodGet, "/api/expenses/all", tok, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decode[[]core.Expense](t, rr); len(list) != 4 {
		t.Errorf("all expenses = %d, want 4", len(list))
	}

	expectStatus(t, do(srv, http.MethodDelete, "/api/expenses/"+expense.ID, tok, nil), http.StatusNoContent)
	expectStatus(t, do(srv, http.MethodGet, "/api/expenses/"+expense.ID, tok, nil), http.StatusNotFound)

	rr = do(srv, http.MethodDelete, "/api/budgets/"+budget.ID, tok, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[deleteBudgetResponse](t, rr); got.ExpensesDeleted != 1 {
		t.Errorf("delete budget = %+v", got)
	}
	expectStatus(t, do(srv, http.MethodGet, "/api/budgets/"+budget.ID, tok, nil), http.StatusNotFound)
}

func TestListAllExpensesBySubAccount(t *testing.T) {
	srv := newTestServer(t, Options{})
	tok := tokenFor(t, "u1")
	expectStatus(t, do(srv, http.MethodPost, "/api/me", tok, map[string]string{"email": "a@example.com"}), http.StatusCreated)
	sub := decode[core.SubAccount](t, do(srv, http.MethodPost, "/api/subaccounts", tok, map[string]string{"name": "Kids"}))

	for _, path := range []string{"/api/expenses", "/api/expenses?subAccountId=" + sub.ID} {
		expectStatus(t, do(srv, http.MethodPost, path, tok, map[string]any{
			"title": "Item", "amount": "5", "currency": "EUR",
		}), http.StatusCreated)
	}

	rr := do(srv, http.MethodGet, "/api/expenses/all?subAccountId="+sub.ID, tok, nil)
	expectStatus(t, rr, http.StatusOK)
	list := decode[[]core.Expense](t, rr)
	if len(list) != 1 || list[0].SubAccountID != sub.ID {
		t.Errorf("sub-account expenses = %+v", list)
	}
	if all := decode[[]core.Expense](t, do(srv, http.MethodGet, "/api/expenses/all", tok, nil)); len(all) != 2 {
		t.Errorf("all expenses = %d, want 2", len(all))
	}
}

func TestWriteRateLimit(t *testing.T) {
	srv := newTestServer(t, Options{RateLimitPerMinute: 2})
	tok := tokenFor(t, "u1")

	for i := range 3 {
		rr := do(srv, http.MethodPost, "/api/subaccounts", tok, map[string]string{"name": fmt.Sprint(i)})
		want := http.StatusNotFound // no profile
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		expectStatus(t, rr, want)
	}
	for range 3 {
		expectStatus(t, do(srv, http.MethodGet, "/api/budgets", tok, nil), http.StatusOK)
	}
	// limits are per user
	expectStatus(t, do(srv, http.MethodPost, "/api/subaccounts", tokenFor(t, "u2"), map[string]string{"name": "x"}), http.StatusNotFound)

	rr := do(srv, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rr, http.StatusOK)
	m := decode[Metrics](t, rr)
	if m.RateLimit == nil || m.RateLimit.Rejected != 1 || m.RateLimit.ClientCount != 2 {
		t.Errorf("rate limit metrics = %+v", m.RateLimit)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", errBadRequest), http.StatusBadRequest},
		{&core.ValidationError{Field: "title", Err: core.ErrEmptyTitle}, http.StatusUnprocessableEntity},
		{keys.ErrInvalidID, http.StatusUnprocessableEntity},
		{fmt.Errorf("get budget b: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{errUnauthorized, http.StatusUnauthorized},
		{errForbidden, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/budgets", nil)
	req = req.WithContext(applog.WithLogger(req.Context(), applog.New(applog.Config{Output: io.Discard})))
	writeError(rr, req, applog.OpList, errors.New("dynamodb: throttled"))

	expectStatus(t, rr, http.StatusInternalServerError)
	if body := decode[errorBody](t, rr); body.Error != "internal error" {
		t.Errorf("error body = %+v", body)
	}
}
