package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	fiberredis "github.com/gofiber/storage/redis/v3"
	"github.com/redis/go-redis/v9"

	"qryptic/internal/config"
	"qryptic/internal/db"
	"qryptic/internal/db/sqlite"
	"qryptic/internal/directory"
	"qryptic/internal/feed"
	"qryptic/internal/metrics"
	"qryptic/internal/middleware"
	"qryptic/internal/resolver"
	"qryptic/internal/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// Initialize database
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer repo.Close()

	// Change feed. With Redis, writes go out through the relay and every
	// instance's hub is fed from it.
	hub := feed.NewHub(cfg.Feed.Buffer, logger)
	var (
		publisher      directory.Publisher = hub
		limiterStorage fiber.Storage
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		relay := feed.NewRedisRelay(rdb, hub, logger)
		publisher = relay
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("feed relay stopped", "error", err)
			}
		}()

		limiterStorage = fiberredis.New(fiberredis.Config{URL: cfg.RedisURL})
		log.Println("Feed relay and rate limiter using Redis")
	}

	throttle := feed.NewScanThrottle(publisher, cfg.Feed.ScanPushRate, cfg.Feed.ScanPushBurst,
		feed.WithThrottleLogger(logger))
	throttle.StartJanitor(ctx)
	defer throttle.Close()

	store := directory.NewStore(repo, publisher,
		directory.WithScanSink(throttle),
		directory.WithDefaultColors(cfg.Defaults.Foreground, cfg.Defaults.Background),
		directory.WithLogger(logger),
	)
	metrics.Init(store)

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize token verification: %v", err)
	}

	srv := server.New(cfg)
	srv.RegisterRoutes(server.Deps{
		Store:          store,
		Hub:            hub,
		Resolver:       resolver.New(store, cfg.Resolver.Timeout, logger),
		Verifier:       verifier,
		LimiterStorage: limiterStorage,
	})

	// Graceful shutdown
	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("Server started on %s", cfg.ServerAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()
	hub.Close() // ends open streams so Shutdown does not wait on them
	if err := srv.Shutdown(); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}

func openRepository(ctx context.Context, cfg *config.Config) (directory.Repository, error) {
	if !cfg.IsPostgres() {
		log.Printf("Using SQLite database %s", cfg.DatabaseURL)
		repo, err := sqlite.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		database.Close()
		return nil, err
	}
	log.Println("Migrations completed successfully")
	return database, nil
}

func newVerifier(ctx context.Context, cfg *config.Config) (middleware.Verifier, error) {
	if cfg.OIDCIssuer != "" {
		log.Printf("Verifying bearer tokens against OIDC issuer %s", cfg.OIDCIssuer)
		return middleware.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
	}
	if !cfg.IsDev() && cfg.JWTSecret == "change-me-in-production" {
		return nil, errors.New("JWT_SECRET must be set outside development")
	}
	return middleware.NewHMACVerifier(cfg.JWTSecret), nil
}
