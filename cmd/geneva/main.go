// cmd/geneva/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	awsclients "geneva-listings/internal/common/aws"
	"geneva-listings/internal/common/config"
	"geneva-listings/internal/common/database"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/observability"
	"geneva-listings/internal/common/telegram"

	"geneva-listings/internal/bots/hunter"
	"geneva-listings/internal/bots/moderator"
	"geneva-listings/internal/lifecycle"
	"geneva-listings/internal/notify"
	"geneva-listings/internal/projector"
	"geneva-listings/internal/session"
	"geneva-listings/internal/store"
	"geneva-listings/internal/web"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting geneva listings service...",
		zap.String("environment", cfg.App.Environment))

	obs := observability.New("geneva")
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry (optional) ---
	var searchIndex *projector.SearchIndex
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		searchIndex = projector.NewSearchIndex(esClient.Client, cfg.Database.Elasticsearch.Index, log)
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Store & migrations ---
	submissionStore := store.New(pg.DB, log)
	if err := submissionStore.Migrate(ctx); err != nil {
		zapLog.Fatal("migrations failed", zap.Error(err))
	}

	// --- Telegram clients ---
	requestTimeout := config.GetDuration(cfg.Telegram.RequestTimeout)
	hunterClient := telegram.NewClient(cfg.Telegram.HunterBotToken, cfg.Telegram.APIBaseURL, requestTimeout)
	moderatorClient := telegram.NewClient(cfg.Telegram.ModeratorBotToken, cfg.Telegram.APIBaseURL, requestTimeout)

	// --- Lifecycle engine and projections ---
	engine := lifecycle.NewEngine(submissionStore, lifecycle.MustNewSchemaRegistry(), log)
	engine.SetObservability(obs)

	channel := projector.NewChannelPublisher(moderatorClient, cfg.Telegram.ChannelID, log)
	engine.SetPublisher(channel)

	proj := projector.NewProjector(submissionStore, redis.Client, searchIndex, log)
	engine.Subscribe(proj)

	notifier := notify.NewNotifier(hunterClient, moderatorClient, cfg.Moderation, cfg.Notifications, log)
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		var sesClient *awsclients.SESClient
		var snsClient *awsclients.SNSClient
		if cfg.Notifications.Email.Enabled {
			if sesClient, err = awsclients.NewSESClient(ctx, cfg.Notifications.AWS.Region); err != nil {
				zapLog.Error("SES client init failed, email alerts disabled", zap.Error(err))
			}
		}
		if cfg.Notifications.SMS.Enabled {
			if snsClient, err = awsclients.NewSNSClient(ctx, cfg.Notifications.AWS.Region); err != nil {
				zapLog.Error("SNS client init failed, sms alerts disabled", zap.Error(err))
			}
		}
		notifier.WithAWS(sesClient, snsClient)
	}
	engine.Subscribe(notifier)

	if err := proj.Rebuild(ctx); err != nil {
		zapLog.Error("initial projection rebuild failed", zap.Error(err))
	}

	// --- Adapters ---
	sessions := session.NewManager(redis.Client, cfg.Submissions.Cooldown(), log)
	hunterBot := hunter.NewBot(hunterClient, engine, sessions, submissionStore, cfg.Submissions, log)
	moderatorBot := moderator.NewBot(moderatorClient, engine, submissionStore, cfg.Moderation, log)
	webServer := web.NewServer(cfg, engine, submissionStore, proj, hunterClient, log)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				zapLog.Error(name+" stopped unexpectedly", zap.Error(err))
				cancel()
			}
		}()
	}

	run("hunter bot", hunterBot.Run)
	run("moderator bot", moderatorBot.Run)
	run("web server", webServer.Run)

	zapLog.Info("All adapters started")

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		zapLog.Info("Shutdown signal received, stopping adapters...")
	case <-ctx.Done():
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		zapLog.Warn("Shutdown timed out waiting for adapters")
	}

	zapLog.Info("Geneva listings service stopped gracefully")
}
