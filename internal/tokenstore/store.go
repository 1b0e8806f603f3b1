// Package tokenstore はアクセストークン/リフレッシュトークンの永続化を提供する。
// 永続化するクライアント状態はこの2つのトークンのみで、ユーザープロフィールは保存しない。
package tokenstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound は保存済みのトークンが存在しない場合に返される。
var ErrNotFound = errors.New("tokenstore: no tokens stored")

// Tokens は永続化されるトークンペア。
type Tokens struct {
	Access    string    `json:"access"`
	Refresh   string    `json:"refresh"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Empty はどちらのトークンも持たない場合にtrueを返す。
func (t Tokens) Empty() bool {
	return t.Access == "" && t.Refresh == ""
}

// Store はトークンペアの保存先。
// 書き込みはセッションマネージャーのみが行う。
type Store interface {
	// Load は保存済みトークンを返す。存在しない場合はErrNotFoundを返す。
	Load(ctx context.Context) (Tokens, error)
	// Save はトークンペアを上書き保存する。
	Save(ctx context.Context, tokens Tokens) error
	// Clear は保存済みトークンを削除する。存在しない場合もエラーにしない。
	Clear(ctx context.Context) error
}

// MemoryStore はプロセス内のみでトークンを保持するStore。
// テストおよびTOKEN_STORE=memory（Webコンソールの一時利用）で使う。
type MemoryStore struct {
	mu     sync.Mutex
	tokens Tokens
	saved  bool
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load は保持中のトークンを返す。
func (s *MemoryStore) Load(_ context.Context) (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return Tokens{}, ErrNotFound
	}
	return s.tokens, nil
}

// Save はトークンを保持する。
func (s *MemoryStore) Save(_ context.Context, tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
	s.saved = true
	return nil
}

// Clear は保持中のトークンを破棄する。
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = Tokens{}
	s.saved = false
	return nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
