package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Scanner is the subset of *sql.Row and *sql.Rows a schema reads from
type Scanner interface {
	Scan(dest ...any) error
}

// Schema maps one entity kind onto a table keyed by a time value.
// Columns()[0] must be the key column.
type Schema[T any] interface {
	Table() string
	Columns() []string
	FormatKey(t time.Time) string
	Values(item T) []any
	Scan(sc Scanner) (T, error)
}

// Store is a keyed, ranged repository over one entity kind.
//
// All, Range, Upsert and UpsertAll return errors and are used on write paths
// and wherever a failure must count against a job. FindAll and FindByRange are
// the read-path variants: a failure is logged and yields an empty slice.
//
// Every operation runs in its own transaction, committed on success and rolled
// back on error, so stores are safe for concurrent use by different jobs.
type Store[T any] struct {
	db     *DB
	schema Schema[T]
	logger *slog.Logger

	selectSQL string
	upsertSQL string
	insertSQL string
}

// NewStore binds a schema to the shared connection
func NewStore[T any](db *DB, schema Schema[T], logger *slog.Logger) *Store[T] {
	cols := schema.Columns()
	key := cols[0]

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	updates := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) ",
		schema.Table(), strings.Join(cols, ", "), placeholders, key)
	upsert := insert
	if len(updates) == 0 {
		upsert += "DO NOTHING"
	} else {
		upsert += "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	return &Store[T]{
		db:        db,
		schema:    schema,
		logger:    logger.With("table", schema.Table()),
		selectSQL: fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), schema.Table()),
		upsertSQL: upsert,
		insertSQL: insert + "DO NOTHING",
	}
}

// withTx runs fn inside a transaction. The connection goes back to the pool on
// every exit path: commit, rollback, or panic.
func (s *Store[T]) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Warn("rollback failed", "err", rbErr)
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("committing transaction: %w", cErr)
		}
	}()

	return fn(tx)
}

func (s *Store[T]) query(ctx context.Context, where string, args ...any) ([]T, error) {
	q := s.selectSQL
	if where != "" {
		q += " WHERE " + where
	}
	q += fmt.Sprintf(" ORDER BY %s ASC", s.schema.Columns()[0])

	var results []T
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("querying %s: %w", s.schema.Table(), err)
		}
		defer rows.Close()

		for rows.Next() {
			item, err := s.schema.Scan(rows)
			if err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}
			results = append(results, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// All returns every stored item ordered by key
func (s *Store[T]) All(ctx context.Context) ([]T, error) {
	return s.query(ctx, "")
}

// Range returns the items whose key lies in [from, to], both bounds inclusive
func (s *Store[T]) Range(ctx context.Context, from, to time.Time) ([]T, error) {
	key := s.schema.Columns()[0]
	return s.query(ctx, key+" BETWEEN ? AND ?", s.schema.FormatKey(from), s.schema.FormatKey(to))
}

// FindAll is All with the read-path policy: failures are logged, never returned
func (s *Store[T]) FindAll(ctx context.Context) []T {
	items, err := s.All(ctx)
	if err != nil {
		s.logger.Warn("find all failed", "err", err)
		return []T{}
	}
	if items == nil {
		return []T{}
	}
	return items
}

// FindByRange is Range with the read-path policy
func (s *Store[T]) FindByRange(ctx context.Context, from, to time.Time) []T {
	items, err := s.Range(ctx, from, to)
	if err != nil {
		s.logger.Warn("find by range failed", "from", from, "to", to, "err", err)
		return []T{}
	}
	if items == nil {
		return []T{}
	}
	return items
}

// Upsert inserts the item or replaces the one stored under the same key
func (s *Store[T]) Upsert(ctx context.Context, item T) (T, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.upsertSQL, s.schema.Values(item)...); err != nil {
			return fmt.Errorf("upserting into %s: %w", s.schema.Table(), err)
		}
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return item, nil
}

// Insert stores the item unless one already exists under the same key. An
// existing row is never modified; inserted reports whether a row was written.
func (s *Store[T]) Insert(ctx context.Context, item T) (inserted bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.insertSQL, s.schema.Values(item)...)
		if err != nil {
			return fmt.Errorf("inserting into %s: %w", s.schema.Table(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("inserting into %s: %w", s.schema.Table(), err)
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// UpsertAll applies Upsert to every item in one transaction: either all items
// are visible afterwards or none are.
func (s *Store[T]) UpsertAll(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.upsertSQL)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()

		for i, item := range items {
			if _, err := stmt.ExecContext(ctx, s.schema.Values(item)...); err != nil {
				return fmt.Errorf("upserting item %d into %s: %w", i, s.schema.Table(), err)
			}
		}
		return nil
	})
}
