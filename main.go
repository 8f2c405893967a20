package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kbar-telegram/bot"
	"kbar-telegram/config"
	"kbar-telegram/db"
	"kbar-telegram/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.Log)

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrate(cfg)
			return
		case "hash-password":
			runHashPassword()
			return
		}
	}

	if cfg.Telegram.Token == "" {
		fmt.Fprintln(os.Stderr, "TOKEN not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, cards, health, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "store:", err)
		os.Exit(1)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(reg)

	clock := services.RealClock()
	store := services.NewStore(kv)
	hub := services.NewHub()
	locks := &services.UserLocks{}
	machine := services.NewOrderMachine(services.MachineConfig{
		Store:          store,
		Clock:          clock,
		Settler:        services.NewSimulatedSettler(cfg.Payment.SettlementLatency, cfg.Payment.SettlementSuccess, nil),
		Hub:            hub,
		Locks:          locks,
		Metrics:        metrics,
		PaymentTimeout: cfg.Payment.Timeout,
		PurgeFailed:    cfg.History.PurgeFailed,
	})

	b, err := bot.New(cfg, bot.Deps{
		Carts:   services.NewCartService(store, hub, locks, metrics),
		Machine: machine,
		Hub:     hub,
		Quick:   services.NewQuickSessions(),
		Nav:     services.NewNavParams(),
		Staff:   services.NewStaffAuth(cfg.Telegram.StaffPasswordHash, clock),
		Cards:   cards,
		Notices: services.NewNoticeLog(clock),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "bot:", err)
		os.Exit(1)
	}

	if err := machine.ResumeAll(ctx); err != nil {
		log.Printf("resume orders: %v", err)
	}

	if cfg.HTTP.Addr != "" {
		go bot.ServeHTTP(ctx, cfg.HTTP.Addr, bot.NewRouter(reg, health))
	}

	log.WithField("store", cfg.StoreBackend).Info("bot started")
	b.Start(ctx)
	log.Info("bot stopped")
}

// openStore connects the configured backend. Card pointers live in postgres
// when it is the backend and in memory otherwise.
func openStore(ctx context.Context, cfg *config.Config) (services.KV, services.CardPointers, bot.HealthCheck, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		if err := db.Init(cfg.DB); err != nil {
			return nil, nil, nil, fmt.Errorf("db: %w", err)
		}
		if cfg.AutoMigrate {
			if err := applyMigrations(ctx, false); err != nil {
				return nil, nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return services.NewPGKV(db.Pool), &services.PGCardPointers{Pool: db.Pool}, db.Pool.Ping, nil
	case config.StoreBackendRedis:
		if err := db.InitRedis(ctx, cfg.Redis); err != nil {
			return nil, nil, nil, fmt.Errorf("redis: %w", err)
		}
		health := func(ctx context.Context) error { return db.Redis.Ping(ctx).Err() }
		return services.NewRedisKV(db.Redis), services.NewMemoryCardPointers(), health, nil
	default:
		log.Warn("memory store: orders are lost on restart")
		return services.NewMemoryKV(), services.NewMemoryCardPointers(), nil, nil
	}
}

func runMigrate(cfg *config.Config) {
	if err := db.Init(cfg.DB); err != nil {
		fmt.Fprintln(os.Stderr, "db:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := applyMigrations(context.Background(), true); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

// runHashPassword prints a STAFF_PASSWORD_HASH for the password given as argument.
func runHashPassword() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: kbar-telegram hash-password <password>")
		os.Exit(2)
	}
	hash, err := services.HashPassword(os.Args[2])
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash:", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
