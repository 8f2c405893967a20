package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"
)

type Config struct {
	DB       DBConfig
	Redis    RedisConfig
	Telegram TelegramConfig
	Payment  PaymentConfig
	History  HistoryConfig
	HTTP     HTTPConfig
	Log      LogConfig

	StoreBackend string
	AutoMigrate  bool
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN is the pgx connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type TelegramConfig struct {
	Token             string
	StaffChatID       int64  // chat that receives kitchen cards
	StaffPasswordHash string // bcrypt hash for /login
	EditsPerSecond    float64
}

type PaymentConfig struct {
	Timeout           time.Duration
	SettlementLatency time.Duration
	SettlementSuccess float64
}

type HistoryConfig struct {
	PurgeFailed bool // clear-history also drops payment_failed orders
}

type HTTPConfig struct {
	Addr string // empty disables the health/metrics server
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("DB_PORT: %w", err)
	}
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	staffChatID, err := strconv.ParseInt(getEnv("STAFF_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("STAFF_CHAT_ID: %w", err)
	}
	timeout, err := time.ParseDuration(getEnv("PAYMENT_TIMEOUT", "300s"))
	if err != nil {
		return nil, fmt.Errorf("PAYMENT_TIMEOUT: %w", err)
	}
	latency, err := time.ParseDuration(getEnv("SETTLEMENT_LATENCY", "2s"))
	if err != nil {
		return nil, fmt.Errorf("SETTLEMENT_LATENCY: %w", err)
	}
	success, err := strconv.ParseFloat(getEnv("SETTLEMENT_SUCCESS_RATE", "0.8"), 64)
	if err != nil || success < 0 || success > 1 {
		return nil, fmt.Errorf("SETTLEMENT_SUCCESS_RATE must be within [0,1]")
	}
	edits, err := strconv.ParseFloat(getEnv("EDITS_PER_SECOND", "1"), 64)
	if err != nil || edits <= 0 {
		return nil, fmt.Errorf("EDITS_PER_SECOND must be > 0")
	}

	cfg := &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     port,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "kbar"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Telegram: TelegramConfig{
			Token:             getEnv("TOKEN", ""),
			StaffChatID:       staffChatID,
			StaffPasswordHash: getEnv("STAFF_PASSWORD_HASH", ""),
			EditsPerSecond:    edits,
		},
		Payment: PaymentConfig{
			Timeout:           timeout,
			SettlementLatency: latency,
			SettlementSuccess: success,
		},
		History: HistoryConfig{
			PurgeFailed: getBool("HISTORY_PURGE_FAILED"),
		},
		HTTP: HTTPConfig{
			Addr: os.Getenv("HTTP_ADDR"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		AutoMigrate:  getBool("AUTO_MIGRATE"),
	}
	if _, ok := os.LookupEnv("HTTP_ADDR"); !ok {
		cfg.HTTP.Addr = ":8080"
	}
	switch cfg.StoreBackend {
	case StoreBackendPostgres, StoreBackendRedis, StoreBackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	return cfg, nil
}

// SetupLogging applies LOG_LEVEL and LOG_FORMAT to the global logger.
func SetupLogging(c LogConfig) {
	if lvl, err := log.ParseLevel(c.Level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.Printf("unknown LOG_LEVEL %q, using info", c.Level)
		log.SetLevel(log.InfoLevel)
	}
	if strings.EqualFold(c.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return v == "1" || strings.EqualFold(v, "true")
}
