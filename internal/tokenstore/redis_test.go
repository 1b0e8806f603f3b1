package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// mockRedisClient はRedisClientのテスト用モック。
type mockRedisClient struct {
	data    map[string]string
	lastTTL time.Duration
	failSet error
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{data: make(map[string]string)}
}

func (m *mockRedisClient) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockRedisClient) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if m.failSet != nil {
		return redis.NewStatusResult("", m.failSet)
	}
	m.data[key] = value.(string)
	m.lastTTL = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockRedisClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	s := NewRedisStore(client, "console-1", time.Hour)

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("保存前のLoad err = %v, want ErrNotFound", err)
	}

	if err := s.Save(ctx, Tokens{Access: "a", Refresh: "r"}); err != nil {
		t.Fatalf("Save がエラーを返した: %v", err)
	}
	if _, ok := client.data["mfgconsole:tokens:console-1"]; !ok {
		t.Error("キーにプレフィックスが付与されていない")
	}
	if client.lastTTL != time.Hour {
		t.Errorf("TTL = %v, want 1h", client.lastTTL)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}
	if got.Access != "a" || got.Refresh != "r" {
		t.Errorf("Load = %+v", got)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear がエラーを返した: %v", err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Clear後のLoad err = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_SaveError_IsWrapped(t *testing.T) {
	client := newMockRedisClient()
	client.failSet = errors.New("connection refused")
	s := NewRedisStore(client, "", 0)

	err := s.Save(context.Background(), Tokens{Access: "a"})
	if err == nil {
		t.Fatal("Set失敗時はエラーになるべき")
	}
	if !errors.Is(err, client.failSet) {
		t.Errorf("元のエラーがラップされていない: %v", err)
	}
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	if _, err := NewRedisClient("not a url"); err == nil {
		t.Error("不正なREDIS_URLはエラーになるべき")
	}
}
