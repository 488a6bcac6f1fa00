package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"laundrypos/backend/internal/cache"
	"laundrypos/backend/internal/catalog"
	"laundrypos/backend/internal/config"
	"laundrypos/backend/internal/httpapi"
	"laundrypos/backend/internal/notify"
	"laundrypos/backend/internal/service"
	"laundrypos/backend/internal/store"
	"laundrypos/backend/internal/store/memory"
	pgstore "laundrypos/backend/internal/store/postgres"
	sqlitestore "laundrypos/backend/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("repository unavailable: %v", err)
	}

	catalogCache, notifier, redisClosers := openRedis(ctx, cfg)
	closers = append(closers, redisClosers...)

	reader := catalog.NewReader(repo, catalogCache, cfg.CatalogCacheTTL)
	svc := service.New(repo, reader, notifier)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	if cfg.BootstrapOwnerPass != "" {
		if err := auth.EnsureOwner(ctx, cfg.BootstrapOwnerUser, cfg.BootstrapOwnerPass, cfg.DefaultBranchID); err != nil {
			log.Fatalf("owner bootstrap failed: %v", err)
		}
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, cfg.DefaultBranchID)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("laundry ledger listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// openRepository picks postgres when DATABASE_URL is set, then sqlite when
// SQLITE_PATH is set, and falls back to the seeded in-memory store.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, []func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing in-memory fallback: %w", err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, nil, fmt.Errorf("postgres migrate: %w", err)
			}
			log.Println("repository: postgres schema migrated")
		}
		log.Println("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite %s: %w", cfg.SQLitePath, err)
		}
		log.Printf("repository: sqlite (%s)", cfg.SQLitePath)
		return lite, []func() error{lite.Close}, nil
	default:
		log.Println("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

// openRedis wires the catalog cache and the achievement publisher to Redis
// when it is configured and reachable. Otherwise the catalog is read
// uncached and achievements go to the log.
func openRedis(ctx context.Context, cfg config.Config) (cache.CatalogCache, notify.LoyaltyNotifier, []func() error) {
	if cfg.RedisAddr == "" {
		log.Println("cache: noop, notifier: log")
		return cache.NoopCatalogCache{}, notify.Log{}, nil
	}

	client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	redisCache := cache.NewRedisCatalogCache(client)
	if err := redisCache.Ping(ctx); err != nil {
		log.Printf("redis unavailable (%v), using noop cache and log notifier", err)
		_ = client.Close()
		return cache.NoopCatalogCache{}, notify.Log{}, nil
	}

	log.Printf("cache: redis, notifier: redis channel %s", cfg.LoyaltyEventsChannel)
	return redisCache, notify.NewRedisPublisher(client, cfg.LoyaltyEventsChannel), []func() error{client.Close}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
