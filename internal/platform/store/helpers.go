package store

import (
	"context"

	perr "metxy/internal/platform/errors"
)

// ExecOne runs a write and asserts exactly one row was affected
func ExecOne(ctx context.Context, q RowQuerier, sql string, args ...any) error {
	t, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return perr.FromPostgres(err, "exec")
	}
	if n := t.RowsAffected(); n != 1 {
		return perr.NotFoundf("expected one row affected, got %d", n)
	}
	return nil
}

// One maps the single row of a query through scan; no row is NotFound
func One[T any](ctx context.Context, q RowQuerier, scan func(Row) (T, error), sql string, args ...any) (T, error) {
	var zero T
	rs, err := q.Query(ctx, sql, args...)
	if err != nil {
		return zero, perr.FromPostgres(err, "query")
	}
	defer rs.Close()
	if !rs.Next() {
		if err := rs.Err(); err != nil {
			return zero, perr.FromPostgres(err, "rows")
		}
		return zero, perr.ErrNotFound
	}
	item, err := scan(rs)
	if err != nil {
		return zero, perr.FromPostgres(err, "scan")
	}
	if rs.Next() {
		return zero, perr.Newf(perr.ErrorCodeDB, "expected 1 row, got more")
	}
	return item, perr.FromPostgres(rs.Err(), "rows")
}

// Many maps every row through scan
func Many[T any](ctx context.Context, q RowQuerier, scan func(Row) (T, error), sql string, args ...any) ([]T, error) {
	rs, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, perr.FromPostgres(err, "query")
	}
	defer rs.Close()

	var out []T
	for rs.Next() {
		item, err := scan(rs)
		if err != nil {
			return nil, perr.FromPostgres(err, "scan")
		}
		out = append(out, item)
	}
	return out, perr.FromPostgres(rs.Err(), "rows")
}
