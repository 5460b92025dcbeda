// Package keys builds the partition and sort keys of every stored record.
//
// Layout:
//
//	profile      USER#<u>                          PROFILE#<u>
//	sub-account  USER#<u>                          SUB#<s>
//	budget       USER#<u>[#SUB#<s>]                BUDGET#<b>
//	expense      USER#<u>[#SUB#<s>][#BUDGET#<b>]   EXPENSE#<e>
//
// Every expense is also indexed under (USER#<u>, EXPENSE#<e>).
package keys

import (
	"errors"
	"fmt"
	"strings"

	"budgetbook/internal/core"
)

const (
	Separator = "#"

	PrefixUser       = "USER#"
	PrefixProfile    = "PROFILE#"
	PrefixSubAccount = "SUB#"
	PrefixBudget     = "BUDGET#"
	PrefixExpense    = "EXPENSE#"
)

var ErrInvalidID = errors.New("invalid id")

// ValidateID rejects ids that are empty or would break key segmentation.
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty %s id", ErrInvalidID, kind)
	}
	if strings.Contains(id, Separator) {
		return fmt.Errorf("%w: %s id %q contains %q", ErrInvalidID, kind, id, Separator)
	}
	return nil
}

// ValidateScope checks both identifiers of a scope.
func ValidateScope(scope core.Scope) error {
	if err := ValidateID("user", scope.UserID); err != nil {
		return err
	}
	if !scope.IsMain() {
		return ValidateID("sub-account", scope.SubAccountID)
	}
	return nil
}

func UserPK(userID string) string {
	return PrefixUser + userID
}

func ProfileSK(userID string) string {
	return PrefixProfile + userID
}

func SubAccountSK(subAccountID string) string {
	return PrefixSubAccount + subAccountID
}

// ScopePK is the partition holding a scope's budgets and unassigned expenses.
func ScopePK(scope core.Scope) string {
	pk := UserPK(scope.UserID)
	if !scope.IsMain() {
		pk += Separator + SubAccountSK(scope.SubAccountID)
	}
	return pk
}

func BudgetSK(budgetID string) string {
	return PrefixBudget + budgetID
}

// BudgetExpensesPK is the partition holding the expenses of one budget.
func BudgetExpensesPK(scope core.Scope, budgetID string) string {
	return ScopePK(scope) + Separator + BudgetSK(budgetID)
}

// ExpensePK returns the budget partition when budgetID is set, the scope
// partition otherwise.
func ExpensePK(scope core.Scope, budgetID string) string {
	if budgetID == "" {
		return ScopePK(scope)
	}
	return BudgetExpensesPK(scope, budgetID)
}

func ExpenseSK(expenseID string) string {
	return PrefixExpense + expenseID
}

// ExpenseIndex returns the secondary index key pair of an expense.
func ExpenseIndex(userID, expenseID string) (gsiPK, gsiSK string) {
	return UserPK(userID), ExpenseSK(expenseID)
}

// UserIDFromProfileSK extracts the user id from a profile sort key.
func UserIDFromProfileSK(sk string) (string, bool) {
	id, ok := strings.CutPrefix(sk, PrefixProfile)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// IDFromSK strips prefix from a sort key.
func IDFromSK(sk, prefix string) (string, bool) {
	id, ok := strings.CutPrefix(sk, prefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
