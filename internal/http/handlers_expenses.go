package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
)

type expenseRequest struct {
	Title       string          `json:"title"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	BudgetID    string          `json:"budgetId"`
	IsRecurring bool            `json:"isRecurring"`
	Upcoming    bool            `json:"upcoming"`
	Favorite    bool            `json:"favorite"`
	UpdatedAt   string          `json:"updatedAt"`
}

func (e expenseRequest) expense() core.Expense {
	return core.Expense{
		Title:       e.Title,
		Amount:      e.Amount,
		Currency:    e.Currency,
		Category:    e.Category,
		Description: e.Description,
		BudgetID:    e.BudgetID,
		IsRecurring: e.IsRecurring,
		Upcoming:    e.Upcoming,
		Favorite:    e.Favorite,
		UpdatedAt:   e.UpdatedAt,
	}
}

// locateExpense reads the expense directly when the request names its budget
// (an empty budgetId means unassigned) and through the expense index otherwise.
func (s *Server) locateExpense(r *http.Request, scope core.Scope) (core.Expense, error) {
	id := chi.URLParam(r, "expenseId")
	if q := r.URL.Query(); q.Has("budgetId") {
		return s.repo.GetExpense(r.Context(), scope, q.Get("budgetId"), id)
	}
	return s.repo.FindExpense(r.Context(), scope, id)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	expenses, err := s.repo.ListExpenses(r.Context(), scope, r.URL.Query().Get("budgetId"))
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(expenses))
}

// handleListAllExpenses returns every expense of the user, narrowed to one
// sub-account when subAccountId is given.
func (s *Server) handleListAllExpenses(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	expenses, err := s.repo.ListUserExpenses(r.Context(), scope.UserID)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	if !scope.IsMain() {
		filtered := expenses[:0]
		for _, e := range expenses {
			if e.SubAccountID == scope.SubAccountID {
				filtered = append(filtered, e)
			}
		}
		expenses = filtered
	}
	writeJSON(w, http.StatusOK, nonNil(expenses))
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	e, err := s.repo.CreateExpense(r.Context(), scope, req.expense())
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	e, err := s.locateExpense(r, scope)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	var patch core.ExpensePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	current, err := s.locateExpense(r, scope)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	e, err := s.repo.UpdateExpense(r.Context(), scope, current.BudgetID, current.ID, patch)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	current, err := s.locateExpense(r, scope)
	if err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	if err := s.repo.DeleteExpense(r.Context(), scope, current.BudgetID, current.ID); err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuplicateExpense(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopes.FromRequest(r)
	if err != nil {
		writeError(w, r, applog.OpDuplicate, err)
		return
	}
	current, err := s.locateExpense(r, scope)
	if err != nil {
		writeError(w, r, applog.OpDuplicate, err)
		return
	}
	e, err := s.dup.DuplicateExpense(r.Context(), scope, current.BudgetID, current.ID)
	if err != nil {
		writeError(w, r, applog.OpDuplicate, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}
