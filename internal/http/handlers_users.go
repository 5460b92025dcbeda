package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Currency string `json:"currency"`
}

type createSubAccountRequest struct {
	Name string `json:"name"`
}

type cascadeResponse struct {
	BudgetsDeleted  int `json:"budgetsDeleted"`
	ExpensesDeleted int `json:"expensesDeleted"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	u, err := s.repo.CreateUser(r.Context(), UserIDFromContext(r.Context()), req.Email, req.Currency)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.repo.GetUser(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch core.UserPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	u, err := s.repo.UpdateUser(r.Context(), UserIDFromContext(r.Context()), patch)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleCreateSubAccount(w http.ResponseWriter, r *http.Request) {
	var req createSubAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	sub, err := s.repo.CreateSubAccount(r.Context(), UserIDFromContext(r.Context()), req.Name)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleDeleteSubAccount(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	subAccountID := chi.URLParam(r, "subAccountId")

	res, err := s.repo.DeleteSubAccount(r.Context(), userID, subAccountID)
	s.scopes.Forget(userID, subAccountID)
	if err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	writeJSON(w, http.StatusOK, cascadeResponse{BudgetsDeleted: res.Budgets, ExpensesDeleted: res.Expenses})
}
