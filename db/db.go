package db

import (
	"context"

	"kbar-telegram/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var (
	Pool  *pgxpool.Pool
	Redis *redis.Client
)

func Init(cfg config.DBConfig) error {
	var err error
	Pool, err = pgxpool.New(context.Background(), cfg.DSN())
	return err
}

// InitRedis connects the redis client and checks it with a PING.
func InitRedis(ctx context.Context, cfg config.RedisConfig) error {
	Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return Redis.Ping(ctx).Err()
}

func Close() {
	if Pool != nil {
		Pool.Close()
	}
	if Redis != nil {
		_ = Redis.Close()
	}
}
