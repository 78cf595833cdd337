package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
)

// secretPathPrefix namespaces paths handed out by StoreSecret.
const secretPathPrefix = "mysql://secrets/"

func (s *Store) GetSecretPath(ctx context.Context, tool, uid string) (string, error) {
	var path string
	err := s.queryRowContext(ctx, func(row *sql.Row) error { return row.Scan(&path) },
		"SELECT secret_path FROM credential_index WHERE tool = ? AND uid = ?", tool, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get secret path for %s/%s: %w", tool, uid, err)
	}
	return path, nil
}

func (s *Store) SaveSecretPath(ctx context.Context, tool, uid, secretPath string) error {
	_, err := s.execContext(ctx, "REPLACE INTO credential_index (tool, uid, secret_path) VALUES (?, ?, ?)", tool, uid, secretPath)
	if err != nil {
		return fmt.Errorf("save secret path for %s/%s: %w", tool, uid, err)
	}
	return nil
}

func (s *Store) SaveAuthState(ctx context.Context, tool, uid, state string) error {
	_, err := s.execContext(ctx, "REPLACE INTO auth_states (tool, uid, state) VALUES (?, ?, ?)", tool, uid, state)
	if err != nil {
		return fmt.Errorf("save auth state for %s/%s: %w", tool, uid, err)
	}
	return nil
}

func (s *Store) ConsumeAuthState(ctx context.Context, tool, uid string) (string, error) {
	var state string
	err := s.queryRowContext(ctx, func(row *sql.Row) error { return row.Scan(&state) },
		"SELECT state FROM auth_states WHERE tool = ? AND uid = ?", tool, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get auth state for %s/%s: %w", tool, uid, err)
	}
	if _, err := s.execContext(ctx, "DELETE FROM auth_states WHERE tool = ? AND uid = ?", tool, uid); err != nil {
		return "", fmt.Errorf("delete auth state for %s/%s: %w", tool, uid, err)
	}
	return state, nil
}

func (s *Store) StoreSecret(ctx context.Context, name string, payload []byte) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store secret %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM secret_versions WHERE name = ? FOR UPDATE", name).Scan(&next); err != nil {
		return "", fmt.Errorf("store secret %s: next version: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO secret_versions (name, version, payload, created_at) VALUES (?, ?, ?, ?)",
		name, next, payload, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("store secret %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store secret %s: commit: %w", name, err)
	}
	return secretPathPrefix + name, nil
}

func (s *Store) GetSecret(ctx context.Context, path string) ([]byte, error) {
	name := strings.TrimPrefix(path, secretPathPrefix)
	var payload []byte
	err := s.queryRowContext(ctx, func(row *sql.Row) error { return row.Scan(&payload) },
		"SELECT payload FROM secret_versions WHERE name = ? ORDER BY version DESC LIMIT 1", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("secret %s: %w", path, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", path, err)
	}
	return payload, nil
}
