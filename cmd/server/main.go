package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/tally/internal"
	"github.com/DukeRupert/tally/internal/archive"
	"github.com/DukeRupert/tally/internal/auth"
	"github.com/DukeRupert/tally/internal/billing"
	"github.com/DukeRupert/tally/internal/domain"
	"github.com/DukeRupert/tally/internal/gateway"
	"github.com/DukeRupert/tally/internal/handler"
	"github.com/DukeRupert/tally/internal/lock"
	"github.com/DukeRupert/tally/internal/metrics"
	"github.com/DukeRupert/tally/internal/middleware"
	"github.com/DukeRupert/tally/internal/region"
	"github.com/DukeRupert/tally/internal/service"
	"github.com/DukeRupert/tally/internal/store"
	"github.com/DukeRupert/tally/internal/store/gormstore"
	"github.com/DukeRupert/tally/internal/store/sqlstore"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	clock := clockwork.NewRealClock()

	// ==========================================================================
	// Stores
	// ==========================================================================

	globalDB, err := sql.Open("pgx", cfg.GlobalDatabaseURL)
	if err != nil {
		return fmt.Errorf("global database connection failed: %w", err)
	}
	defer globalDB.Close()
	globalDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	globalDB.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := globalDB.PingContext(ctx); err != nil {
		return fmt.Errorf("global database ping failed: %w", err)
	}

	if cfg.RunMigrations {
		if err := internal.RunMigrations(globalDB); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	logger.Info("Global store ready")

	domesticDB, err := gormstore.Open(cfg.DomesticDatabaseDSN, cfg.DBMaxOpenConns, cfg.DBConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("domestic database connection failed: %w", err)
	}
	if sqlDB, err := domesticDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	domestic := gormstore.New(domesticDB)
	if err := domestic.Ping(ctx); err != nil {
		return fmt.Errorf("domestic database ping failed: %w", err)
	}
	logger.Info("Domestic store ready")

	gw := gateway.New(map[domain.Region]store.Handle{
		domain.RegionGlobal:   sqlstore.New(globalDB, sqlstore.Postgres),
		domain.RegionDomestic: domestic,
	}, logger)

	// ==========================================================================
	// Locking
	// ==========================================================================

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis configuration failed: %w", err)
		}
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		locker = lock.NewRedis(client, cfg.LockTTL, cfg.LockRetries, logger)
		logger.Info("Distributed locking enabled")
	} else {
		logger.Warn("REDIS_URL not set, reconciliation locks are process-local")
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	classifier, err := region.NewClassifier(cfg.DomesticCIDRs)
	if err != nil {
		return fmt.Errorf("DOMESTIC_CIDRS: %w", err)
	}
	router := region.NewRouter(domain.Region(cfg.DefaultRegion), logger)

	reconciler := service.NewReconcileService(gw, locker, router, clock, cfg.StoreTimeout, logger)

	archiver, err := newArchiver(cfg, logger)
	if err != nil {
		return fmt.Errorf("archive initialization failed: %w", err)
	}

	relay := billing.NewRelay(cfg.RelaySecret)
	providers := []billing.Provider{
		billing.NewStripe(cfg.StripeWebhookSecret),
		billing.NewPayPal(relay),
		billing.NewAlipay(relay),
		billing.NewWeChat(relay),
	}
	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, Stripe callbacks will be rejected")
	}
	if cfg.RelaySecret == "" {
		logger.Warn("RELAY_SECRET not set, relayed callbacks will be rejected")
	}

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := cfg.Env != "development"
	authMw := middleware.NewAuthMiddleware(auth.NewVerifier(cfg.JWTSecret, clock), logger)
	regionMw := middleware.NewRegionMiddleware(classifier)
	adminAuth := middleware.NewBasicAuthMiddleware("admin", cfg.AdminUsername, cfg.AdminPassword)
	metricsAuth := middleware.NewBasicAuthMiddleware("metrics", cfg.MetricsUsername, cfg.MetricsPassword)

	readStack := []func(http.Handler) http.Handler{regionMw.Handler, authMw.RequireToken}
	if cfg.EntitlementRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.EntitlementRateLimit, time.Minute, clock)
		go limiter.Run(ctx)
		readStack = append([]func(http.Handler) http.Handler{middleware.NewRateLimitMiddleware(limiter, logger).Limit}, readStack...)
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	handler.NewHealthHandler(gw, 2*time.Second, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Provider callbacks (public - authenticated by signature)
	var payloads handler.PayloadArchiver
	if archiver != nil {
		payloads = archiver
	}
	handler.NewWebhookHandler(providers, reconciler, payloads, cfg.WebhookRetryOnUnavailable, logger).RegisterRoutes(mux)

	// Entitlement reads (bearer token)
	handler.NewEntitlementHandler(reconciler, router, clock, cfg.EntitlementWriteBack, logger).
		RegisterRoutes(mux, middleware.Stack(readStack...))

	// Operator actions (basic auth)
	if cfg.AdminUsername == "" && cfg.AdminPassword == "" {
		logger.Warn("ADMIN_USERNAME and ADMIN_PASSWORD not set, admin endpoints are unprotected")
	}
	handler.NewAdminHandler(reconciler, router, clock, logger).RegisterRoutes(mux, adminAuth.Handler)
	if archiver != nil {
		handler.NewReplayHandler(providers, archiver, reconciler, clock, logger).RegisterRoutes(mux, adminAuth.Handler)
	}

	root := middleware.Stack(
		metrics.Middleware,
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "default_region", router.Default())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// newArchiver builds the webhook payload archive, or returns nil when
// archiving is disabled.
func newArchiver(cfg *internal.Config, logger *slog.Logger) (*archive.Archiver, error) {
	var backend archive.Store
	switch cfg.ArchiveProvider {
	case internal.ArchiveLocal:
		s, err := archive.NewLocalStorage(archive.LocalConfig{BasePath: cfg.ArchiveLocalPath}, logger)
		if err != nil {
			return nil, err
		}
		backend = s
	case internal.ArchiveR2:
		s, err := archive.NewR2Storage(archive.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		backend = s
	default:
		return nil, nil
	}
	return archive.NewArchiver(backend, logger), nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
