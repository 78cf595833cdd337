// Package mysql implements storage.Store on a MySQL-protocol database.
//
// It runs against MySQL or a Dolt sql-server. Projects, versions, entities,
// archive jobs and the credential index are ordinary tables; secrets are kept
// as append-only versions so a refresh never destroys the previous token pair.
//
// Transient connection errors (stale pool connections, server restarts) are
// retried with exponential backoff; everything else fails immediately.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
)

// Store implements storage.Store.
type Store struct {
	db     *sql.DB
	closed atomic.Bool

	// retryMaxElapsed bounds transient-error retries per statement.
	retryMaxElapsed time.Duration
}

var _ storage.Store = (*Store)(nil)

// Config holds connection settings.
type Config struct {
	// DSN in go-sql-driver format, e.g. "root:pw@tcp(127.0.0.1:3306)/captain".
	DSN string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration

	// SkipSchema disables CREATE TABLE IF NOT EXISTS on open.
	SkipSchema bool
}

const defaultRetryMaxElapsed = 30 * time.Second

// Open connects, verifies the connection and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &Store{db: db, retryMaxElapsed: defaultRetryMaxElapsed}

	if err := s.withRetry(ctx, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if !cfg.SkipSchema {
		if err := s.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// normalizeDSN forces parseTime so DATETIME columns scan into time.Time.
func normalizeDSN(dsn string) (string, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql DSN: %w", err)
	}
	parsed.ParseTime = true
	if parsed.Loc == nil {
		parsed.Loc = time.UTC
	}
	return parsed.FormatDSN(), nil
}

// Close releases the connection pool. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.execContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func newRetryBackoff(maxElapsed time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	return bo
}

// isRetryableError returns true for transient connection errors.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, transient := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"database is read only",
		"lost connection",
		"gone away",
		"i/o timeout",
	} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}
	return false
}

func (s *Store) withRetry(ctx context.Context, op func() error) error {
	bo := newRetryBackoff(s.retryMaxElapsed)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

func (s *Store) queryRowContext(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	return s.withRetry(ctx, func() error {
		return scan(s.db.QueryRowContext(ctx, query, args...))
	})
}

// buildSet turns an update map into "col = ?" assignments using columns as
// the allowlist.
func buildSet(kind string, updates map[string]any, columns map[string]string) (string, []any, error) {
	if len(updates) == 0 {
		return "", nil, fmt.Errorf("%s update: no fields", kind)
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		col, ok := columns[k]
		if !ok {
			return "", nil, fmt.Errorf("%s %w: %s", kind, storage.ErrUnknownField, k)
		}
		v, err := sqlValue(updates[k])
		if err != nil {
			return "", nil, fmt.Errorf("%s field %s: %w", kind, k, err)
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	return strings.Join(sets, ", "), args, nil
}

func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case string, bool:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	}
	// Named string types (ToolCreated, ChangeStatus) fall through here.
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}
