package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/linlinbupt123-crypto/ledger_service/api"
	"github.com/linlinbupt123-crypto/ledger_service/config"
	"github.com/linlinbupt123-crypto/ledger_service/db"
	"github.com/linlinbupt123-crypto/ledger_service/notify"
	"github.com/linlinbupt123-crypto/ledger_service/repository"
	"github.com/linlinbupt123-crypto/ledger_service/service"
)

const shutdownTimeout = 10 * time.Second

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var logger zerolog.Logger
	if cfg.LogFormat == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// openStore returns the configured store and a func releasing its connection.
func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (repository.Store, func(), error) {
	switch cfg.Driver {
	case "mongo":
		m, err := db.NewMongoRepo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		if err := m.EnsureIndexes(ctx); err != nil {
			_ = m.Close(ctx)
			return nil, nil, err
		}
		logger.Info().Str("db", cfg.MongoDB).Msg("connected to MongoDB")
		return repository.NewMongoStore(m), func() { _ = m.Close(context.Background()) }, nil
	case "postgres":
		pool, err := db.NewPostgresPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		s := repository.NewPostgresStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Msg("connected to PostgreSQL")
		return s, pool.Close, nil
	default:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return repository.NewMemStore(), func() {}, nil
	}
}

// openNotifier always logs events and adds Redis and RabbitMQ when
// configured. A sink that cannot connect is skipped with a warning.
func openNotifier(ctx context.Context, cfg config.NotifyConfig, logger zerolog.Logger) (notify.Notifier, func()) {
	sinks := notify.Multi{notify.NewLogNotifier(logger)}
	var closers []func()

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, wallet channels disabled")
			_ = client.Close()
		} else {
			logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
			sinks = append(sinks, notify.NewRedisNotifier(client))
			closers = append(closers, func() { _ = client.Close() })
		}
	}
	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, events will not be published")
		} else {
			logger.Info().Str("exchange", cfg.Exchange).Msg("connected to RabbitMQ")
			sinks = append(sinks, pub)
			closers = append(closers, func() { _ = pub.Close() })
		}
	}
	return notify.WithTimeout(sinks, cfg.Timeout), func() {
		for _, c := range closers {
			c()
		}
	}
}

func main() {
	path := os.Getenv("LEDGER_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
	}
	defer closeStore()

	notifier, closeNotifier := openNotifier(ctx, cfg.Notify, logger)
	defer closeNotifier()

	walletService := service.NewWalletService(store, notifier, cfg.Ledger, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	api.NewWalletHandler(walletService).Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server start failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
