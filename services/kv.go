package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// KV is the key/value persistence backing carts, orders and loyalty points.
// A missing key is reported with ok=false, not an error.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// KeyLister is implemented by backends that can enumerate keys by prefix.
// Startup uses it to find users whose payment countdowns must be resumed.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// PGKV stores records in the kv_records table.
type PGKV struct {
	Pool *pgxpool.Pool
}

func NewPGKV(pool *pgxpool.Pool) *PGKV {
	return &PGKV{Pool: pool}
}

func (s *PGKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.Pool.QueryRow(ctx, `SELECT value FROM kv_records WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *PGKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO kv_records (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return err
}

func (s *PGKV) Remove(ctx context.Context, key string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM kv_records WHERE key = $1`, key)
	return err
}

func (s *PGKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT key FROM kv_records WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// RedisKV keeps records as plain redis strings.
type RedisKV struct {
	Client *redis.Client
	Prefix string
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{Client: client, Prefix: "kbar:"}
}

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.Client.Get(ctx, s.Prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return s.Client.Set(ctx, s.Prefix+key, value, 0).Err()
}

func (s *RedisKV) Remove(ctx context.Context, key string) error {
	return s.Client.Del(ctx, s.Prefix+key).Err()
}

func (s *RedisKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.Client.Scan(ctx, 0, s.Prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), s.Prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// MemoryKV is a process-local KV. FailNext makes the next matching
// operations fail, which tests use to exercise storage error paths.
type MemoryKV struct {
	mu    sync.Mutex
	data  map[string][]byte
	fails map[string]error // op ("get", "set", "remove") -> error
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte), fails: make(map[string]error)}
}

// FailNext arms a one-shot failure for op.
func (m *MemoryKV) FailNext(op string, err error) {
	m.mu.Lock()
	m.fails[op] = err
	m.mu.Unlock()
}

func (m *MemoryKV) takeFail(op string) error {
	err, ok := m.fails[op]
	if ok {
		delete(m.fails, op)
	}
	return err
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFail("get"); err != nil {
		return nil, false, err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFail("set"); err != nil {
		return err
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFail("remove"); err != nil {
		return err
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
