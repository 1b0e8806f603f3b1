package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient はRedisStoreが利用するgo-redisのメソッド。
// *redis.Clientがこれを満たす。
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore はRedisにトークンをJSONで保存するStore。
type RedisStore struct {
	client RedisClient
	key    string
	ttl    time.Duration
}

// NewRedisStore はRedisStoreを生成する。
// ttlが0の場合はキーに有効期限を設定しない。
func NewRedisStore(client RedisClient, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = "default"
	}
	return &RedisStore{client: client, key: "mfgconsole:tokens:" + key, ttl: ttl}
}

// NewRedisClient はREDIS_URLからgo-redisクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Load は保存済みトークンを取得する。
func (s *RedisStore) Load(ctx context.Context) (Tokens, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return Tokens{}, ErrNotFound
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to load tokens: %w", err)
	}

	var t Tokens
	if err := json.Unmarshal([]byte(v), &t); err != nil {
		return Tokens{}, fmt.Errorf("failed to decode tokens: %w", err)
	}
	return t, nil
}

// Save はトークンを保存する。
func (s *RedisStore) Save(ctx context.Context, tokens Tokens) error {
	if tokens.UpdatedAt.IsZero() {
		tokens.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	if err := s.client.Set(ctx, s.key, string(data), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// Clear は保存済みトークンを削除する。
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)
