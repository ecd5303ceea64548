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

	"github.com/girasoltours/newsletter/internal/config"
	"github.com/girasoltours/newsletter/internal/newsletter"
	"github.com/girasoltours/newsletter/internal/notifier"
	"github.com/girasoltours/newsletter/internal/pkg/distlock"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDB(ctx, cfg.Database)
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
	}

	sesNotifier, err := notifier.NewSESNotifier(ctx,
		cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region,
		cfg.Mail.FromName, cfg.Mail.FromEmail, cfg.Mail.ReplyTo)
	if err != nil {
		logger.Error("initializing SES notifier", "err", err)
		os.Exit(1)
	}

	store := newsletter.NewStore(db)
	jobQueue := queue.New(db, cfg.Dispatch.MaxAttempts)
	composer := newsletter.NewEmailComposer(
		newsletter.NewTemplateEngine(),
		newsletter.NewLinkBuilder(cfg.Mail.FrontendURL),
		cfg.Mail.CompanyName,
		cfg.Mail.FromEmail,
	)
	// The sweeper re-enqueues confirmations through the same service the
	// API uses; the limiter never fires on this path.
	service := newsletter.NewService(store, jobQueue,
		ratelimit.New(nil, "", 0, 0), composer)

	dispatcher := worker.NewDispatcher(jobQueue, store, sesNotifier, cfg.Dispatch)
	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("starting dispatcher", "err", err)
		os.Exit(1)
	}

	finalizer := worker.NewFinalizer(store, jobQueue,
		distlock.NewLock(redisClient, db, "newsletter:finalizer", time.Minute),
		15*time.Second)
	finalizer.Start(ctx)

	sweeper := worker.NewSweeper(store, service,
		distlock.NewLock(redisClient, db, "newsletter:sweeper", 10*time.Minute),
		cfg.Sweeper)
	sweeper.Start(ctx)

	// Return jobs orphaned by a crashed worker to the queue on startup.
	if reclaimed, err := jobQueue.ReclaimStuck(ctx, 10*time.Minute); err != nil {
		logger.Warn("reclaiming stuck jobs", "err", err)
	} else if reclaimed > 0 {
		logger.Info("reclaimed stuck jobs", "count", reclaimed)
	}

	logger.Info("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	sweeper.Stop()
	finalizer.Stop()
	dispatcher.Stop()
	cancel()
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
