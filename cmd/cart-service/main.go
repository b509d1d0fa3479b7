package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopcart/cart-service/internal/cache"
	"github.com/shopcart/cart-service/internal/catalog"
	"github.com/shopcart/cart-service/internal/config"
	h "github.com/shopcart/cart-service/internal/http"
	"github.com/shopcart/cart-service/internal/metrics"
	"github.com/shopcart/cart-service/internal/poller"
	"github.com/shopcart/cart-service/internal/repository"
	"github.com/shopcart/cart-service/internal/service"
	"github.com/shopcart/cart-service/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("cart service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := repo.Close(closeCtx); err != nil {
			log.Warn("failed to close repository", zap.Error(err))
		}
	}()

	cartCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	client := catalog.NewClient(cfg.CatalogBaseURL, cfg.CatalogTimeout, nil)
	resolver := catalog.NewResolver(client, cfg.BreakerSettings(), m, log)
	log.Info("catalog client configured", zap.String("base_url", cfg.CatalogBaseURL))

	svc := service.NewCartService(repo, cartCache, resolver,
		service.WithMetrics(m),
		service.WithMaxRetries(cfg.CartMaxRetries),
	)

	if cfg.KafkaEnabled() {
		p := poller.NewPoller(svc, log, cfg.KafkaCheckoutTopic, cfg.KafkaGroupID, cfg.KafkaBrokers...)
		defer func() {
			if err := p.Close(); err != nil {
				log.Warn("failed to close poller", zap.Error(err))
			}
		}()
		go p.Run(ctx)
		log.Info("checkout poller started",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaCheckoutTopic),
		)
	}

	cartHandler := h.NewCartHandler(svc, cfg.RequestTimeout, cfg.MaxRequestBodySize)
	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(cartHandler, h.RouterOptions{
			ServiceName: cfg.ServiceName,
			Logger:      log,
			Metrics:     m,
			Gatherer:    reg,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("cart service listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down cart service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("cart service stopped")
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.CartRepository, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres, config.StoreSQLite:
		dsn := cfg.PostgresDSN
		if cfg.StoreDriver == config.StoreSQLite {
			dsn = cfg.SQLitePath
		}
		repo, err := repository.NewSQLRepository(cfg.StoreDriver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
		}
		if err := repo.RunMigrations(); err != nil {
			_ = repo.Close(ctx)
			return nil, err
		}
		log.Info("connected to sql store", zap.String("driver", cfg.StoreDriver))
		return repo, nil
	default:
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		repo := repository.NewMongoRepository(db)
		if err := repo.CreateIndexes(ctx); err != nil {
			_ = repo.Close(ctx)
			return nil, err
		}
		log.Info("connected to MongoDB", zap.String("database", cfg.MongoDBName))
		return repo, nil
	}
}

func openCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.CartCache, func(), error) {
	if !cfg.RedisEnabled {
		log.Info("redis cache disabled")
		return cache.Noop{}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))

	return cache.NewRedisCache(client), func() { _ = client.Close() }, nil
}
