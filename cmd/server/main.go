package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/girasoltours/newsletter/internal/api"
	"github.com/girasoltours/newsletter/internal/config"
	"github.com/girasoltours/newsletter/internal/newsletter"
	"github.com/girasoltours/newsletter/internal/pkg/logger"
	"github.com/girasoltours/newsletter/internal/queue"
	"github.com/girasoltours/newsletter/internal/ratelimit"
	"github.com/girasoltours/newsletter/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("loading config", "err", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	db, err := openDB(cfg.Database)
	if err != nil {
		logger.Error("connecting to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	} else {
		logger.Warn("redis not configured, subscribe rate limiting disabled")
	}

	store := newsletter.NewStore(db)
	jobQueue := queue.New(db, cfg.Dispatch.MaxAttempts)
	limiter := ratelimit.New(redisClient, "newsletter:subscribe",
		cfg.Limits.SubscribePerHour, time.Hour)
	composer := newsletter.NewEmailComposer(
		newsletter.NewTemplateEngine(),
		newsletter.NewLinkBuilder(cfg.Mail.FrontendURL),
		cfg.Mail.CompanyName,
		cfg.Mail.FromEmail,
	)

	service := newsletter.NewService(store, jobQueue, limiter, composer)
	sender := worker.NewBatchSender(store, jobQueue, composer)

	server := api.NewServer(cfg.Server, api.NewHandlers(service, store, sender))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr())
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
