package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/gearhive/cart-service/internal/client/catalog"
	"github.com/gearhive/cart-service/internal/config"
	"github.com/gearhive/cart-service/internal/domain"
	"github.com/gearhive/cart-service/internal/event"
	handler "github.com/gearhive/cart-service/internal/handler/http"
	"github.com/gearhive/cart-service/internal/repository/fallback"
	localrepo "github.com/gearhive/cart-service/internal/repository/local"
	pgrepo "github.com/gearhive/cart-service/internal/repository/postgres"
	redisrepo "github.com/gearhive/cart-service/internal/repository/redis"
	"github.com/gearhive/cart-service/internal/service"
	"github.com/gearhive/cart-service/pkg/database"
	"github.com/gearhive/cart-service/pkg/health"
	"github.com/gearhive/cart-service/pkg/httpclient"
	pkgkafka "github.com/gearhive/cart-service/pkg/kafka"
)

// App wires together all dependencies and runs the cart service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	rdb        *redis.Client
	pool       *pgxpool.Pool
	producer   *pkgkafka.Producer
	cartStore  *fallback.Store
	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Redis holds authenticated customers' carts.
	rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis",
		slog.String("addr", cfg.RedisAddr),
		slog.Int("db", cfg.RedisDB),
	)

	// Postgres holds orders and vouchers.
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.URL = cfg.DatabaseURL
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to Postgres")

	// Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Local file store: guest carts and the synchronous mirror.
	localStore, err := localrepo.NewCartStore(cfg.LocalStoreDir)
	if err != nil {
		producer.Close()
		pool.Close()
		rdb.Close()
		return nil, fmt.Errorf("open local cart store: %w", err)
	}

	// Build the dependency graph.
	cartTTL := cfg.CartTTLDuration()
	redisStore := redisrepo.NewCartStore(rdb, cartTTL)
	cartStore := fallback.New(redisStore, localStore, cfg.WriteDebounce(), logger)

	orderRepo := pgrepo.NewOrderRepository(pool)
	voucherRepo := pgrepo.NewVoucherRepository(pool)

	catalogHTTP := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("catalog"),
		logger,
	)
	catalogClient := catalog.NewClient(catalogHTTP, cfg.CatalogBaseURL)

	eventProducer := event.NewProducer(producer, logger)

	rules := domain.PricingRules{
		ShippingFee:           cfg.ShippingFee,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
	}

	cartService := service.NewCartService(
		cartStore, catalogClient, voucherRepo, eventProducer, logger,
		cartTTL, rules, cfg.Currency,
	)
	orderService := service.NewOrderService(
		orderRepo, voucherRepo, cartService, eventProducer, logger,
		rules, cfg.Currency,
	)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(
		cartService,
		orderService,
		healthHandler,
		handler.NewOwnerResolver(cfg.JWTSecret),
		logger,
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		rdb:        rdb,
		pool:       pool,
		producer:   producer,
		cartStore:  cartStore,
		httpServer: httpServer,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components. The cart store is closed before
// its backends so pending debounced writes flush to Redis first.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.cartStore.Close(shutdownCtx); err != nil {
		a.logger.Error("cart store close error", slog.String("error", err.Error()))
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
	}

	a.pool.Close()

	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
