package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"

	// MainScopeLabel names a user's main account in reports.
	MainScopeLabel = "main"

	// DefaultCategory is applied to copies of budgets that were saved without one.
	DefaultCategory = "Others"
)

type (
	Period string

	// Scope is a tenant namespace: a user's main account or one of their sub-accounts.
	Scope struct {
		UserID       string
		SubAccountID string
	}

	Budget struct {
		ID           string          `json:"id"`
		UserID       string          `json:"userId"`
		Title        string          `json:"title"`
		Amount       decimal.Decimal `json:"amount"`
		Currency     string          `json:"currency"`
		Period       Period          `json:"period"`
		Category     string          `json:"category"`
		Description  string          `json:"description,omitempty"`
		IsRecurring  bool            `json:"isRecurring"`
		Upcoming     bool            `json:"upcoming"`
		Favorite     bool            `json:"favorite"`
		SubAccountID string          `json:"subAccountId,omitempty"`
		OldBudgetID  string          `json:"oldBudgetId,omitempty"` // set only on rollover copies, never persisted
		CreatedAt    string          `json:"createdAt,omitempty"`
		UpdatedAt    string          `json:"updatedAt"`
	}

	Expense struct {
		ID           string          `json:"id"`
		UserID       string          `json:"userId"`
		Title        string          `json:"title"`
		Amount       decimal.Decimal `json:"amount"`
		Currency     string          `json:"currency"`
		Category     string          `json:"category"`
		Description  string          `json:"description,omitempty"`
		BudgetID     string          `json:"budgetId,omitempty"`
		SubAccountID string          `json:"subAccountId,omitempty"`
		IsRecurring  bool            `json:"isRecurring"`
		Upcoming     bool            `json:"upcoming"`
		Favorite     bool            `json:"favorite"`
		UpdatedAt    string          `json:"updatedAt"`
	}

	User struct {
		ID          string       `json:"id"`
		Email       string       `json:"email"`
		Currency    string       `json:"currency,omitempty"`
		CreatedAt   string       `json:"createdAt,omitempty"`
		UpdatedAt   string       `json:"updatedAt,omitempty"`
		SubAccounts []SubAccount `json:"subAccounts"`
	}

	SubAccount struct {
		ID           string `json:"id"`
		SubAccountID string `json:"subAccountId"`
		Name         string `json:"name"`
		CreatedAt    string `json:"createdAt"`
	}
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation failed")

	ErrInvalidAmount = errors.New("amount must be greater than zero")
	ErrEmptyTitle    = errors.New("title is required")
	ErrEmptyCurrency = errors.New("currency is required")
	ErrInvalidPeriod = errors.New("period must be monthly or yearly")
	ErrInvalidDate   = errors.New("invalid date")
	ErrEmptyEmail    = errors.New("email is required")
	ErrEmptyName     = errors.New("name is required")
)

// ValidationError reports which field failed validation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// MainScope returns the main-account scope of a user.
func MainScope(userID string) Scope {
	return Scope{UserID: userID}
}

// SubScope returns the scope of one sub-account of a user.
func SubScope(userID, subAccountID string) Scope {
	return Scope{UserID: userID, SubAccountID: subAccountID}
}

func (s Scope) IsMain() bool {
	return s.SubAccountID == ""
}

// String returns "main" for the main scope and the sub-account id otherwise.
func (s Scope) String() string {
	if s.IsMain() {
		return MainScopeLabel
	}
	return s.SubAccountID
}

func (p Period) Valid() bool {
	switch p {
	case PeriodMonthly, PeriodYearly:
		return true
	default:
		return false
	}
}

// ValidateAmount accepts strictly positive amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount", ErrInvalidAmount)
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return invalid("title", ErrEmptyTitle)
	}
	if len(b.Title) > 200 {
		return invalid("title", errors.New("title too long (max 200 characters)"))
	}
	if err := ValidateAmount(b.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(b.Currency) == "" {
		return invalid("currency", ErrEmptyCurrency)
	}
	if !b.Period.Valid() {
		return invalid("period", ErrInvalidPeriod)
	}
	if b.UpdatedAt != "" {
		if _, err := ParseTimestamp(b.UpdatedAt); err != nil {
			return invalid("updatedAt", ErrInvalidDate)
		}
	}
	return nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return invalid("title", ErrEmptyTitle)
	}
	if len(e.Title) > 200 {
		return invalid("title", errors.New("title too long (max 200 characters)"))
	}
	if err := ValidateAmount(e.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(e.Currency) == "" {
		return invalid("currency", ErrEmptyCurrency)
	}
	if e.UpdatedAt != "" {
		if _, err := ParseTimestamp(e.UpdatedAt); err != nil {
			return invalid("updatedAt", ErrInvalidDate)
		}
	}
	return nil
}

// Recurs and Anchor let the rollover selector treat budgets and expenses alike.
func (b Budget) Recurs() bool     { return b.IsRecurring }
func (b Budget) Anchor() string   { return b.UpdatedAt }
func (b Budget) Identity() string { return b.ID }

func (e Expense) Recurs() bool     { return e.IsRecurring }
func (e Expense) Anchor() string   { return e.UpdatedAt }
func (e Expense) Identity() string { return e.ID }

// BudgetPatch carries a partial budget update; nil fields are left untouched.
type BudgetPatch struct {
	Title       *string          `json:"title,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    *string          `json:"currency,omitempty"`
	Period      *Period          `json:"period,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Description *string          `json:"description,omitempty"`
	IsRecurring *bool            `json:"isRecurring,omitempty"`
	Upcoming    *bool            `json:"upcoming,omitempty"`
	Favorite    *bool            `json:"favorite,omitempty"`
	UpdatedAt   *string          `json:"updatedAt,omitempty"`
}

func (p BudgetPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return invalid("title", ErrEmptyTitle)
	}
	if p.Amount != nil {
		if err := ValidateAmount(*p.Amount); err != nil {
			return err
		}
	}
	if p.Currency != nil && strings.TrimSpace(*p.Currency) == "" {
		return invalid("currency", ErrEmptyCurrency)
	}
	if p.Period != nil && !p.Period.Valid() {
		return invalid("period", ErrInvalidPeriod)
	}
	if p.UpdatedAt != nil {
		if _, err := ParseTimestamp(*p.UpdatedAt); err != nil {
			return invalid("updatedAt", ErrInvalidDate)
		}
	}
	return nil
}

// ExpensePatch carries a partial expense update. A non-nil BudgetID moves the
// expense to another budget ("" detaches it from any budget).
type ExpensePatch struct {
	Title       *string          `json:"title,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    *string          `json:"currency,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Description *string          `json:"description,omitempty"`
	BudgetID    *string          `json:"budgetId,omitempty"`
	IsRecurring *bool            `json:"isRecurring,omitempty"`
	Upcoming    *bool            `json:"upcoming,omitempty"`
	Favorite    *bool            `json:"favorite,omitempty"`
	UpdatedAt   *string          `json:"updatedAt,omitempty"`
}

func (p ExpensePatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return invalid("title", ErrEmptyTitle)
	}
	if p.Amount != nil {
		if err := ValidateAmount(*p.Amount); err != nil {
			return err
		}
	}
	if p.Currency != nil && strings.TrimSpace(*p.Currency) == "" {
		return invalid("currency", ErrEmptyCurrency)
	}
	if p.UpdatedAt != nil {
		if _, err := ParseTimestamp(*p.UpdatedAt); err != nil {
			return invalid("updatedAt", ErrInvalidDate)
		}
	}
	return nil
}

// ApplyTo returns a copy of e with the patch applied.
func (p ExpensePatch) ApplyTo(e Expense) Expense {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Currency != nil {
		e.Currency = *p.Currency
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.BudgetID != nil {
		e.BudgetID = *p.BudgetID
	}
	if p.IsRecurring != nil {
		e.IsRecurring = *p.IsRecurring
	}
	if p.Upcoming != nil {
		e.Upcoming = *p.Upcoming
	}
	if p.Favorite != nil {
		e.Favorite = *p.Favorite
	}
	if p.UpdatedAt != nil {
		e.UpdatedAt = *p.UpdatedAt
	}
	return e
}

// UserPatch carries a partial profile update.
type UserPatch struct {
	Email    *string `json:"email,omitempty"`
	Currency *string `json:"currency,omitempty"`
}

func (p UserPatch) Validate() error {
	if p.Email != nil && strings.TrimSpace(*p.Email) == "" {
		return invalid("email", ErrEmptyEmail)
	}
	if p.Currency != nil && strings.TrimSpace(*p.Currency) == "" {
		return invalid("currency", ErrEmptyCurrency)
	}
	return nil
}
