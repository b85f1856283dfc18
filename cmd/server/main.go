package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iliyamo/pairchat/internal/blob"
	"github.com/iliyamo/pairchat/internal/config"
	"github.com/iliyamo/pairchat/internal/database"
	"github.com/iliyamo/pairchat/internal/handler"
	"github.com/iliyamo/pairchat/internal/hub"
	"github.com/iliyamo/pairchat/internal/middleware"
	"github.com/iliyamo/pairchat/internal/queue"
	"github.com/iliyamo/pairchat/internal/repository"
	"github.com/iliyamo/pairchat/internal/router"
	"github.com/iliyamo/pairchat/internal/service"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	auditLog := pflag.String("audit-log", "logs/messages.log", "file the message.created consumer appends to")
	pflag.Parse()

	// A missing file is fine; the real environment wins either way.
	_ = godotenv.Load(*envFile)

	logger := newLogger(os.Getenv("APP_ENV"))
	zap.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DSN())
	if err != nil {
		zap.S().Fatalw("failed to open database", "error", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		zap.S().Fatalw("failed to migrate database", "error", err)
	}
	users := repository.NewUserRepo(db)
	messages := repository.NewMessageRepo(db)

	blobs, err := blob.New(cfg.Blob)
	if err != nil {
		zap.S().Fatalw("failed to init blob store", "backend", cfg.Blob.Backend, "error", err)
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())

	opts := hub.Options{
		PingInterval: cfg.Hub.PingInterval,
		DeathGrace:   cfg.Hub.DeathGrace,
		Store:        messages,
		Blobs:        blobs,
		Logger:       zap.S(),
	}
	if cfg.Broker != "" {
		opts.Events = service.NewPublisher(cfg.Broker)
		go func() {
			if err := queue.StartMessageConsumer(ctx, cfg.Broker, *auditLog); err != nil && !errors.Is(err, context.Canceled) {
				zap.S().Errorw("message consumer stopped", "error", err)
			}
		}()
	}
	h := hub.New(opts)

	e := router.New(router.Deps{
		Cfg:       cfg,
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Auth:      handler.NewAuthHandler(cfg, users),
		Chat:      handler.NewChatHandler(users, messages, h),
		WS:        handler.NewWSHandler(h, middleware.TokenVerifier{Secret: cfg.JWTSecret}, cfg.WS, cfg.Origin),
	})

	addr := ":" + cfg.Port
	go func() {
		zap.S().Infow("listening", "addr", addr, "env", cfg.Env, "blob_backend", cfg.Blob.Backend, "events", cfg.Broker != "")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	zap.S().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = multierr.Combine(
		h.Close(),
		e.Shutdown(shutdownCtx),
		db.Close(),
	)
	if rdb != nil {
		err = multierr.Append(err, rdb.Close())
	}
	if err != nil {
		zap.S().Warnw("shutdown finished with errors", "error", err)
	}
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "prod" || env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
