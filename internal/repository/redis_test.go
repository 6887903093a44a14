package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupRedis(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := NewRedisClient(srv.Addr())
	repo := NewRedisRepository(client, time.Minute)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, srv
}

func TestSuppressToken(t *testing.T) {
	repo, srv := setupRedis(t)
	ctx := context.Background()

	suppressed, err := repo.IsTokenSuppressed(ctx, "tok123")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if suppressed {
		t.Fatal("fresh token reported as suppressed")
	}

	if err := repo.SuppressToken(ctx, "tok123"); err != nil {
		t.Fatalf("suppress: %v", err)
	}
	suppressed, err = repo.IsTokenSuppressed(ctx, "tok123")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !suppressed {
		t.Fatal("token not suppressed after SuppressToken")
	}

	srv.FastForward(2 * time.Minute)
	suppressed, err = repo.IsTokenSuppressed(ctx, "tok123")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if suppressed {
		t.Error("suppression outlived its TTL")
	}
}

func TestRedisPingFailsWhenServerGone(t *testing.T) {
	repo, srv := setupRedis(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	srv.Close()
	if err := repo.Ping(context.Background()); err == nil {
		t.Error("ping succeeded against a stopped server")
	}
}

func TestNewRedisClientAcceptsURL(t *testing.T) {
	client := NewRedisClient("redis://localhost:6380/2")
	defer client.Close()
	if got := client.Options().Addr; got != "localhost:6380" {
		t.Errorf("addr = %q", got)
	}
	if got := client.Options().DB; got != 2 {
		t.Errorf("db = %d", got)
	}
}
