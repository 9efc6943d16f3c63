package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opsforge/medic/internal/infra/storage"
)

// KVStore implements storage.Store on a single-table key/value schema with
// optional expiry. Expired rows are filtered on read and lazily overwritten.
type KVStore struct {
	db *DB
}

func NewKVStore(db *DB) *KVStore {
	return &KVStore{db: db}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt sql.NullTime
	)
	query := `SELECT value, expires_at FROM kv_entries WHERE key = $1`
	err := s.db.QueryRowxContext(ctx, query, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get kv entry: %w", err)
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *KVStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	query := `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to put kv entry: %w", err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete kv entry: %w", err)
	}
	return nil
}

func (s *KVStore) List(ctx context.Context, prefix string) ([]storage.Entry, error) {
	query := `
		SELECT key, value FROM kv_entries
		WHERE key LIKE $1 || '%'
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY key
	`
	rows, err := s.db.QueryxContext(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list kv entries: %w", err)
	}
	defer rows.Close()

	var entries []storage.Entry
	for rows.Next() {
		var e storage.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("failed to scan kv entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
