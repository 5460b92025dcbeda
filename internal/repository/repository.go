// Package repository maps users, sub-accounts, budgets and expenses onto the
// partitioned key-value store.
package repository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
	"budgetbook/internal/store"
)

// Entity type markers stored on every item.
const (
	attrEntity = "entity"

	entityProfile    = "profile"
	entitySubAccount = "subAccount"
	entityBudget     = "budget"
	entityExpense    = "expense"
)

type Repository struct {
	store  store.Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

type Option func(*Repository)

// WithClock replaces time.Now, used for the default updatedAt/createdAt.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) { r.newID = newID }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

func New(s store.Store, opts ...Option) *Repository {
	r := &Repository{
		store:  s,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(applog.FieldComponent, applog.ComponentRepository)
	return r
}

// Store exposes the underlying store, e.g. for closing it.
func (r *Repository) Store() store.Store {
	return r.store
}

func (r *Repository) timestamp() string {
	return core.FormatTimestamp(r.now())
}

// CascadeResult counts records removed by a cascading delete.
type CascadeResult struct {
	Budgets  int `json:"budgets"`
	Expenses int `json:"expenses"`
}

// toAttrs converts an entity into store attributes through its JSON form,
// so the stored attribute names match the API field names.
func toAttrs(v any, entity string) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", entity, err)
	}
	attrs := map[string]any{}
	if err := json.Unmarshal(b, &attrs); err != nil {
		return nil, fmt.Errorf("encode %s: %w", entity, err)
	}
	if entity != "" {
		attrs[attrEntity] = entity
	}
	return attrs, nil
}

func fromAttrs(attrs map[string]any, v any) error {
	b, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("decode item: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode item: %w", err)
	}
	return nil
}

func decodeAll[T any](items []store.Item) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		var v T
		if err := fromAttrs(it.Attrs, &v); err != nil {
			return nil, fmt.Errorf("%s/%s: %w", it.PK, it.SK, err)
		}
		out = append(out, v)
	}
	return out, nil
}
