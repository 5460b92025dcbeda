package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"budgetbook/internal/core"
	"budgetbook/internal/keys"
	applog "budgetbook/internal/log"
	"budgetbook/internal/store"
)

// profile is the stored shape of a user; sub-accounts live in their own items.
type profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Currency  string `json:"currency,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func (p profile) user(subs []core.SubAccount) core.User {
	if subs == nil {
		subs = []core.SubAccount{}
	}
	return core.User{
		ID:          p.ID,
		Email:       p.Email,
		Currency:    p.Currency,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		SubAccounts: subs,
	}
}

// CreateUser writes the profile of a newly confirmed user.
func (r *Repository) CreateUser(ctx context.Context, userID, email, currency string) (core.User, error) {
	if err := keys.ValidateID("user", userID); err != nil {
		return core.User{}, err
	}
	if strings.TrimSpace(email) == "" {
		return core.User{}, &core.ValidationError{Field: "email", Err: core.ErrEmptyEmail}
	}

	now := r.timestamp()
	p := profile{ID: userID, Email: email, Currency: currency, CreatedAt: now, UpdatedAt: now}
	attrs, err := toAttrs(p, entityProfile)
	if err != nil {
		return core.User{}, err
	}
	if err := r.store.Put(ctx, store.Item{PK: keys.UserPK(userID), SK: keys.ProfileSK(userID), Attrs: attrs}); err != nil {
		return core.User{}, fmt.Errorf("create user %s: %w", userID, err)
	}
	return p.user(nil), nil
}

func (r *Repository) getProfile(ctx context.Context, userID string) (profile, error) {
	if err := keys.ValidateID("user", userID); err != nil {
		return profile{}, err
	}
	it, err := r.store.Get(ctx, store.Key{PK: keys.UserPK(userID), SK: keys.ProfileSK(userID)})
	if err != nil {
		return profile{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	var p profile
	if err := fromAttrs(it.Attrs, &p); err != nil {
		return profile{}, err
	}
	if p.ID == "" {
		p.ID = userID
	}
	return p, nil
}

// GetUser returns the profile together with its sub-accounts.
func (r *Repository) GetUser(ctx context.Context, userID string) (core.User, error) {
	p, err := r.getProfile(ctx, userID)
	if err != nil {
		return core.User{}, err
	}
	subs, err := r.ListSubAccounts(ctx, userID)
	if err != nil {
		return core.User{}, err
	}
	return p.user(subs), nil
}

func (r *Repository) UpdateUser(ctx context.Context, userID string, patch core.UserPatch) (core.User, error) {
	if err := keys.ValidateID("user", userID); err != nil {
		return core.User{}, err
	}
	if err := patch.Validate(); err != nil {
		return core.User{}, err
	}
	fields, err := toAttrs(patch, "")
	if err != nil {
		return core.User{}, err
	}
	fields["updatedAt"] = r.timestamp()

	if _, err := r.store.Update(ctx, store.Key{PK: keys.UserPK(userID), SK: keys.ProfileSK(userID)}, fields); err != nil {
		return core.User{}, fmt.Errorf("update user %s: %w", userID, err)
	}
	return r.GetUser(ctx, userID)
}

// ListUsers returns every user profile, ordered by id. Sub-accounts are not
// loaded. The id comes from the profile sort key; the stored id attribute is
// only a fallback.
func (r *Repository) ListUsers(ctx context.Context) ([]core.User, error) {
	items, err := r.store.Scan(ctx, keys.PrefixProfile)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]core.User, 0, len(items))
	for _, it := range items {
		var p profile
		if err := fromAttrs(it.Attrs, &p); err != nil {
			return nil, fmt.Errorf("list users: %s/%s: %w", it.PK, it.SK, err)
		}
		if id, ok := keys.UserIDFromProfileSK(it.SK); ok {
			p.ID = id
		}
		if p.ID == "" {
			r.logger.WarnContext(ctx, "Skipping profile without user id",
				"pk", it.PK,
				"sk", it.SK)
			continue
		}
		users = append(users, p.user(nil))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *Repository) CreateSubAccount(ctx context.Context, userID, name string) (core.SubAccount, error) {
	if strings.TrimSpace(name) == "" {
		return core.SubAccount{}, &core.ValidationError{Field: "name", Err: core.ErrEmptyName}
	}
	if _, err := r.getProfile(ctx, userID); err != nil {
		return core.SubAccount{}, err
	}

	id := r.newID()
	sub := core.SubAccount{ID: id, SubAccountID: id, Name: strings.TrimSpace(name), CreatedAt: r.timestamp()}
	attrs, err := toAttrs(sub, entitySubAccount)
	if err != nil {
		return core.SubAccount{}, err
	}
	if err := r.store.Put(ctx, store.Item{PK: keys.UserPK(userID), SK: keys.SubAccountSK(id), Attrs: attrs}); err != nil {
		return core.SubAccount{}, fmt.Errorf("create sub-account for %s: %w", userID, err)
	}
	return sub, nil
}

func (r *Repository) GetSubAccount(ctx context.Context, userID, subAccountID string) (core.SubAccount, error) {
	if err := keys.ValidateScope(core.SubScope(userID, subAccountID)); err != nil {
		return core.SubAccount{}, err
	}
	it, err := r.store.Get(ctx, store.Key{PK: keys.UserPK(userID), SK: keys.SubAccountSK(subAccountID)})
	if err != nil {
		return core.SubAccount{}, fmt.Errorf("get sub-account %s: %w", subAccountID, err)
	}
	var sub core.SubAccount
	if err := fromAttrs(it.Attrs, &sub); err != nil {
		return core.SubAccount{}, err
	}
	return sub, nil
}

func (r *Repository) ListSubAccounts(ctx context.Context, userID string) ([]core.SubAccount, error) {
	if err := keys.ValidateID("user", userID); err != nil {
		return nil, err
	}
	items, err := r.store.Query(ctx, keys.UserPK(userID), keys.PrefixSubAccount)
	if err != nil {
		return nil, fmt.Errorf("list sub-accounts of %s: %w", userID, err)
	}
	return decodeAll[core.SubAccount](items)
}

// DeleteSubAccount removes a sub-account with every budget in it, their
// expenses, and the sub-account's unassigned expenses. The sub-account record
// is removed last so an interrupted cascade can be retried.
func (r *Repository) DeleteSubAccount(ctx context.Context, userID, subAccountID string) (CascadeResult, error) {
	var res CascadeResult
	if _, err := r.GetSubAccount(ctx, userID, subAccountID); err != nil {
		return res, err
	}
	scope := core.SubScope(userID, subAccountID)

	budgets, err := r.ListBudgets(ctx, scope)
	if err != nil {
		return res, err
	}
	for _, b := range budgets {
		n, err := r.DeleteBudget(ctx, scope, b.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return res, err
		}
		res.Budgets++
		res.Expenses += n
	}

	n, err := r.deletePartition(ctx, keys.ScopePK(scope), keys.PrefixExpense)
	res.Expenses += n
	if err != nil {
		return res, err
	}

	if err := r.store.Delete(ctx, store.Key{PK: keys.UserPK(userID), SK: keys.SubAccountSK(subAccountID)}); err != nil {
		return res, fmt.Errorf("delete sub-account %s: %w", subAccountID, err)
	}

	r.logger.InfoContext(ctx, "Sub-account deleted",
		applog.FieldUserID, userID,
		applog.FieldSubAccountID, subAccountID,
		"budgets_deleted", res.Budgets,
		"expenses_deleted", res.Expenses)
	return res, nil
}

// deletePartition removes every item of pk whose sort key starts with skPrefix.
func (r *Repository) deletePartition(ctx context.Context, pk, skPrefix string) (int, error) {
	items, err := r.store.Query(ctx, pk, skPrefix)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", pk, err)
	}
	deleted := 0
	for _, it := range items {
		if err := r.store.Delete(ctx, it.Key()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("delete %s/%s: %w", it.PK, it.SK, err)
		}
		deleted++
	}
	return deleted, nil
}
