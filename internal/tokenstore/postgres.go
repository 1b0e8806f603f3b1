package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore はclient_tokensテーブルにトークンを保存するStore。
// 複数のコンソールインスタンスが同じDBを使う場合、keyで行を区別する。
type PostgresStore struct {
	db  *sql.DB
	key string
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB, key string) *PostgresStore {
	if key == "" {
		key = "default"
	}
	return &PostgresStore{db: db, key: key}
}

// Load は保存済みトークンを取得する。
func (s *PostgresStore) Load(ctx context.Context) (Tokens, error) {
	var t Tokens
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, updated_at
		 FROM client_tokens
		 WHERE store_key = $1`,
		s.key,
	).Scan(&t.Access, &t.Refresh, &t.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return Tokens{}, ErrNotFound
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to load tokens: %w", err)
	}
	return t, nil
}

// Save はトークンをUPSERTする。
func (s *PostgresStore) Save(ctx context.Context, tokens Tokens) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_tokens (store_key, access_token, refresh_token, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (store_key) DO UPDATE
		 SET access_token = EXCLUDED.access_token,
		     refresh_token = EXCLUDED.refresh_token,
		     updated_at = now()`,
		s.key, tokens.Access, tokens.Refresh,
	)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// Clear は保存済みトークンを削除する。
func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM client_tokens WHERE store_key = $1`,
		s.key,
	)
	if err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
