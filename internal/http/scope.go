package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"budgetbook/internal/core"
	"budgetbook/internal/keys"
	"budgetbook/internal/store"
)

// SubAccountLookup is the ownership check behind scope resolution.
type SubAccountLookup interface {
	GetSubAccount(ctx context.Context, userID, subAccountID string) (core.SubAccount, error)
}

// ScopeResolver turns the optional subAccountId query parameter into a
// scope, remembering confirmed ownership for ttl.
type ScopeResolver struct {
	lookup SubAccountLookup
	cache  *ristretto.Cache[string, bool]
	ttl    time.Duration
}

func NewScopeResolver(lookup SubAccountLookup, ttl time.Duration) (*ScopeResolver, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: 10000, // number of keys to track frequency of
		MaxCost:     1000,
		BufferItems: 64, // number of keys per Get buffer
	})
	if err != nil {
		return nil, fmt.Errorf("create scope cache: %w", err)
	}
	return &ScopeResolver{lookup: lookup, cache: cache, ttl: ttl}, nil
}

func ownershipKey(userID, subAccountID string) string {
	return keys.UserPK(userID) + keys.Separator + keys.SubAccountSK(subAccountID)
}

// Resolve returns the main scope when subAccountID is empty and the
// sub-account scope when userID owns it.
func (s *ScopeResolver) Resolve(ctx context.Context, userID, subAccountID string) (core.Scope, error) {
	if subAccountID == "" {
		return core.MainScope(userID), nil
	}
	scope := core.SubScope(userID, subAccountID)
	if err := keys.ValidateScope(scope); err != nil {
		return core.Scope{}, err
	}

	key := ownershipKey(userID, subAccountID)
	if owned, ok := s.cache.Get(key); ok && owned {
		return scope, nil
	}

	_, err := s.lookup.GetSubAccount(ctx, userID, subAccountID)
	if errors.Is(err, store.ErrNotFound) {
		return core.Scope{}, fmt.Errorf("%w: sub-account %s", errForbidden, subAccountID)
	}
	if err != nil {
		return core.Scope{}, err
	}
	s.cache.SetWithTTL(key, true, 1, s.ttl)
	return scope, nil
}

// FromRequest resolves the scope of an authenticated request.
func (s *ScopeResolver) FromRequest(r *http.Request) (core.Scope, error) {
	return s.Resolve(r.Context(), UserIDFromContext(r.Context()), r.URL.Query().Get("subAccountId"))
}

// Forget drops the cached ownership of a deleted sub-account.
func (s *ScopeResolver) Forget(userID, subAccountID string) {
	s.cache.Del(ownershipKey(userID, subAccountID))
}

func (s *ScopeResolver) Close() {
	s.cache.Close()
}
