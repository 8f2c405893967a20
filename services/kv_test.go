package services

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type listingKV interface {
	KV
	KeyLister
}

// testKVContract runs the behaviour every backend shares. Values are JSON
// scalars so jsonb round-trips them byte for byte.
func testKVContract(t *testing.T, kv listingKV, prefix string) {
	t.Helper()
	ctx := context.Background()
	a, b := prefix+"user:1:orders", prefix+"user:2:orders"
	t.Cleanup(func() {
		_ = kv.Remove(ctx, a)
		_ = kv.Remove(ctx, b)
	})

	if _, ok, err := kv.Get(ctx, a); err != nil || ok {
		t.Fatalf("Get(%q) on empty store = ok %v, err %v; want absent", a, ok, err)
	}
	if err := kv.Set(ctx, a, []byte(`42`)); err != nil {
		t.Fatalf("Set(%q): %v", a, err)
	}
	if err := kv.Set(ctx, a, []byte(`"v2"`)); err != nil {
		t.Fatalf("Set(%q) overwrite: %v", a, err)
	}
	got, ok, err := kv.Get(ctx, a)
	if err != nil || !ok || string(got) != `"v2"` {
		t.Errorf("Get(%q) = %s, %v, %v; want \"v2\"", a, got, ok, err)
	}
	if err := kv.Set(ctx, b, []byte(`1`)); err != nil {
		t.Fatalf("Set(%q): %v", b, err)
	}
	keys, err := kv.Keys(ctx, prefix+"user:")
	if err != nil || len(keys) != 2 || keys[0] != a || keys[1] != b {
		t.Errorf("Keys(%q) = %v, %v; want [%s %s]", prefix+"user:", keys, err, a, b)
	}
	if err := kv.Remove(ctx, a); err != nil {
		t.Fatalf("Remove(%q): %v", a, err)
	}
	if err := kv.Remove(ctx, a); err != nil {
		t.Errorf("Remove(%q) twice: %v", a, err)
	}
	if _, ok, _ := kv.Get(ctx, a); ok {
		t.Errorf("Get(%q) after Remove still present", a)
	}
}

func TestMemoryKV(t *testing.T) {
	testKVContract(t, NewMemoryKV(), "")
}

// Integration tests for the real backends. Skip on -short or when the env is not set.
func TestPGKV_Integration(t *testing.T) {
	dsn := os.Getenv("KBAR_TEST_DSN")
	if testing.Short() || dsn == "" {
		t.Skip("skipping postgres integration test: KBAR_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS kv_records (
		key TEXT PRIMARY KEY, value JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		t.Fatalf("create kv_records: %v", err)
	}
	testKVContract(t, NewPGKV(pool), "kvtest:")
}

func TestRedisKV_Integration(t *testing.T) {
	addr := os.Getenv("KBAR_TEST_REDIS")
	if testing.Short() || addr == "" {
		t.Skip("skipping redis integration test: KBAR_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	testKVContract(t, NewRedisKV(client), "kvtest:")
}
