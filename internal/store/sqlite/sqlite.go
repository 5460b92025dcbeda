// Package sqlite stores items in a single SQLite table keyed by (pk, sk).
// Attributes are kept as a JSON document per row.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"budgetbook/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and migrates it.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single connection: read-merge-write updates must not hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key store.Key) (store.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT pk, sk, gsi1pk, gsi1sk, attrs FROM items WHERE pk = ? AND sk = ?`, key.PK, key.SK)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Item{}, fmt.Errorf("get %s/%s: %w", key.PK, key.SK, store.ErrNotFound)
	}
	if err != nil {
		return store.Item{}, fmt.Errorf("get %s/%s: %w", key.PK, key.SK, err)
	}
	return it, nil
}

func (s *Store) Put(ctx context.Context, item store.Item) error {
	attrs, err := encodeAttrs(item.Attrs)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", item.PK, item.SK, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items (pk, sk, gsi1pk, gsi1sk, attrs) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (pk, sk) DO NOTHING`,
		item.PK, item.SK, item.GSI1PK, item.GSI1SK, attrs)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", item.PK, item.SK, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", item.PK, item.SK, err)
	}
	if n == 0 {
		return fmt.Errorf("put %s/%s: %w", item.PK, item.SK, store.ErrConflict)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, key store.Key, fields map[string]any) (store.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Item{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT pk, sk, gsi1pk, gsi1sk, attrs FROM items WHERE pk = ? AND sk = ?`, key.PK, key.SK)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Item{}, fmt.Errorf("update %s/%s: %w", key.PK, key.SK, store.ErrNotFound)
	}
	if err != nil {
		return store.Item{}, fmt.Errorf("update %s/%s: %w", key.PK, key.SK, err)
	}

	store.MergeAttrs(it.Attrs, fields)
	attrs, err := encodeAttrs(it.Attrs)
	if err != nil {
		return store.Item{}, fmt.Errorf("update %s/%s: %w", key.PK, key.SK, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET attrs = ? WHERE pk = ? AND sk = ?`, attrs, key.PK, key.SK); err != nil {
		return store.Item{}, fmt.Errorf("update %s/%s: %w", key.PK, key.SK, err)
	}
	if err := tx.Commit(); err != nil {
		return store.Item{}, fmt.Errorf("commit update: %w", err)
	}
	return it, nil
}

func (s *Store) Delete(ctx context.Context, key store.Key) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE pk = ? AND sk = ?`, key.PK, key.SK)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", key.PK, key.SK, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", key.PK, key.SK, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s/%s: %w", key.PK, key.SK, store.ErrNotFound)
	}
	return nil
}

// Prefix filters compare substr() rather than LIKE, which is case-insensitive
// for ASCII and treats % and _ as wildcards.

func (s *Store) Query(ctx context.Context, pk, skPrefix string) ([]store.Item, error) {
	return s.list(ctx, "query",
		`SELECT pk, sk, gsi1pk, gsi1sk, attrs FROM items
		 WHERE pk = ? AND substr(sk, 1, length(?)) = ?
		 ORDER BY sk, pk`, pk, skPrefix, skPrefix)
}

func (s *Store) QueryIndex(ctx context.Context, gsiPK, gsiSKPrefix string) ([]store.Item, error) {
	if gsiPK == "" {
		return []store.Item{}, nil
	}
	return s.list(ctx, "query index",
		`SELECT pk, sk, gsi1pk, gsi1sk, attrs FROM items
		 WHERE gsi1pk = ? AND substr(gsi1sk, 1, length(?)) = ?
		 ORDER BY gsi1sk, pk`, gsiPK, gsiSKPrefix, gsiSKPrefix)
}

func (s *Store) Scan(ctx context.Context, skPrefix string) ([]store.Item, error) {
	return s.list(ctx, "scan",
		`SELECT pk, sk, gsi1pk, gsi1sk, attrs FROM items
		 WHERE substr(sk, 1, length(?)) = ?
		 ORDER BY sk, pk`, skPrefix, skPrefix)
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]store.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []store.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (store.Item, error) {
	var (
		it    store.Item
		attrs string
	)
	if err := r.Scan(&it.PK, &it.SK, &it.GSI1PK, &it.GSI1SK, &attrs); err != nil {
		return store.Item{}, err
	}
	it.Attrs = map[string]any{}
	if err := json.Unmarshal([]byte(attrs), &it.Attrs); err != nil {
		return store.Item{}, fmt.Errorf("decode attrs: %w", err)
	}
	return it, nil
}

func encodeAttrs(attrs map[string]any) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attrs: %w", err)
	}
	return string(b), nil
}
