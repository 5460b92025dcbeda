package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
)

type budgetRequest struct {
	Title       string          `json:"title"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Period      core.Period     `json:"period"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	IsRecurring bool            `json:"isRecurring"`
	Upcoming    bool            `json:"upcoming"`
	Favorite    bool            `json:"favorite"`
	UpdatedAt   string          `json:"updatedAt"`
}

func (b budgetRequest) budget() core.Budget {
	return core.Budget{
		Title:       b.Title,
		Amount:      b.Amount,
		Currency:    b.Currency,
		Period:      b.Period,
		Category:    b.Category,
		Description: b.Description,
		IsRecurring: b.IsRecurring,
		Upcoming:    b.Upcoming,
		Favorite:    b.Favorite,
		UpdatedAt:   b.UpdatedAt,
	}
}

type deleteBudgetResponse struct {
	ID              string `json:"id"`
	ExpensesDeleted int    `json:"expensesDeleted"`
}

type duplicateBudgetResponse struct {
	Budget   core.Budget    `json:"budget"`
	Expenses []core.Expense `json:"expenses"`
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	budgets, err := s.repo.ListBudgets(r.Context(), scope)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(budgets))
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	b, err := s.repo.CreateBudget(r.Context(), scope, req.budget())
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	b, err := s.repo.GetBudget(r.Context(), scope, chi.URLParam(r, "budgetId"))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	var patch core.BudgetPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	b, err := s.repo.UpdateBudget(r.Context(), scope, chi.URLParam(r, "budgetId"), patch)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	id := chi.URLParam(r, "budgetId")
	n, err := s.repo.DeleteBudget(r.Context(), scope, id)
	if err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteBudgetResponse{ID: id, ExpensesDeleted: n})
}

func (s *Server) handleDuplicateBudget(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpDuplicate, err)
		return
	}
	b, expenses, err := s.dup.DuplicateBudget(r.Context(), scope, chi.URLParam(r, "budgetId"))
	if err != nil {
		writeError(w, r, applog.OpDuplicate, err)
		return
	}
	writeJSON(w, http.StatusCreated, duplicateBudgetResponse{Budget: b, Expenses: nonNil(expenses)})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
