package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/guest-messaging/internal/api/http"
	"github.com/spec-kit/guest-messaging/internal/api/http/handlers"
	"github.com/spec-kit/guest-messaging/internal/auth"
	"github.com/spec-kit/guest-messaging/internal/config"
	"github.com/spec-kit/guest-messaging/internal/events"
	"github.com/spec-kit/guest-messaging/internal/observability"
	"github.com/spec-kit/guest-messaging/internal/persistence"
	"github.com/spec-kit/guest-messaging/internal/ratelimit"
	"github.com/spec-kit/guest-messaging/internal/realtime"
	"github.com/spec-kit/guest-messaging/internal/repository"
	"github.com/spec-kit/guest-messaging/internal/service"
	"github.com/spec-kit/guest-messaging/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var (
		conversationRepo repository.ConversationRepository
		messageRepo      repository.MessageRepository
	)
	if pool := pg.PoolHandle(); pool != nil {
		conversationRepo = repository.NewConversationRepository(pool)
		messageRepo = repository.NewMessageRepository(pool)
	} else {
		store := repository.NewMemoryStore()
		conversationRepo = store.Conversations()
		messageRepo = store.Messages()
	}

	metrics := observability.NewMetrics("chat")
	dispatcher := events.NewInMemoryDispatcher()

	var publisher service.NotificationPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka close", zap.Error(err))
			}
		}()
		publisher = kafkaPublisher
		logger.Info("notification stream enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, publisher, logger))

	conversationService := service.NewConversationService(service.ConversationDependencies{
		ConversationRepo: conversationRepo,
		MessageRepo:      messageRepo,
		Dispatcher:       dispatcher,
		Limiter:          ratelimit.New(redis.Client, int64(cfg.RateLimit.MessagesPerWindow), cfg.RateLimit.Window()),
		Config:           cfg.Chat,
		Logger:           logger,
	})

	topics := realtime.NewTopics()
	var (
		broker   realtime.Broker   = realtime.NewLocalBroker(topics)
		presence realtime.Presence = realtime.NewMemoryPresence()
	)
	if redis.Enabled() {
		presence = realtime.NewRedisPresence(redis.Client, cfg.Realtime.PresenceKey)
		if cfg.Realtime.Relay == config.RelayRedis {
			broker = realtime.NewRedisBroker(redis.Client, cfg.Realtime.RelayChannel, topics, logger)
		}
	} else if cfg.Realtime.Relay == config.RelayRedis {
		logger.Warn("REALTIME_RELAY=redis requires REDIS_ADDR; delivering in-process")
	}

	gateway := realtime.NewGateway(realtime.GatewayDependencies{
		Service:          conversationService,
		Topics:           topics,
		Broker:           broker,
		Presence:         presence,
		Config:           cfg.Realtime,
		Logger:           logger,
		Metrics:          metrics,
		StaffDisplayName: cfg.Chat.StaffDisplayName,
	})
	gateway.RegisterHandlers(dispatcher)
	relayDone := worker.StartRelayWorker(ctx, broker, logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:           handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Conversations:    handlers.NewConversationsHandler(conversationService),
		Gateway:          gateway,
		Metrics:          metrics,
		AuthMiddleware:   authMiddleware,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout(),
		AllowedOrigins:   cfg.App.AllowedOrigins,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("relay", cfg.Realtime.Relay))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
	cancel()
	<-relayDone
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
