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

	httptransport "github.com/spec-kit/teams-ticket-relay/internal/api/http"
	"github.com/spec-kit/teams-ticket-relay/internal/api/http/handlers"
	"github.com/spec-kit/teams-ticket-relay/internal/auth"
	"github.com/spec-kit/teams-ticket-relay/internal/config"
	"github.com/spec-kit/teams-ticket-relay/internal/events"
	"github.com/spec-kit/teams-ticket-relay/internal/graph"
	"github.com/spec-kit/teams-ticket-relay/internal/notion"
	"github.com/spec-kit/teams-ticket-relay/internal/observability"
	"github.com/spec-kit/teams-ticket-relay/internal/persistence"
	"github.com/spec-kit/teams-ticket-relay/internal/repository"
	"github.com/spec-kit/teams-ticket-relay/internal/service"
	"github.com/spec-kit/teams-ticket-relay/internal/worker"
)

const shutdownTimeout = 15 * time.Second

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

	metrics := observability.NewMetrics()

	var redis *persistence.Redis
	tracked := repository.NewMemoryTrackedMessageRepository()
	claims := repository.NewMemoryTicketClaimRepository()
	if cfg.Redis.Enabled() {
		redis = persistence.NewRedis(cfg.Redis, logger)
		defer redis.Close()
		tracked = repository.NewRedisTrackedMessageRepository(redis)
		claims = repository.NewRedisTicketClaimRepository(redis)
	}

	outbound := graph.NewHTTPClient(cfg.Graph.Timeout(), cfg.Graph.MaxConns)
	handshakes := graph.NewHandshakeTracker()
	tokens := graph.NewTokenCache(graph.NewClientCredentials(graph.CredentialsConfig{
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		TokenURL:     cfg.Graph.ResolvedTokenURL(),
	}, outbound), graph.DefaultTokenSkew)
	graphClient := graph.NewClient(outbound, tokens, graph.Options{
		BaseURL: cfg.Graph.BaseURL,
		Timeout: cfg.Graph.Timeout(),
		Retry: graph.RetryPolicy{
			MaxAttempts:  cfg.Graph.CreateMaxAttempts,
			InitialDelay: cfg.Graph.CreateInitialDelay(),
		},
		Handshakes: handshakes,
	}, logger)
	notionClient := notion.NewClient(outbound, notion.Options{
		BaseURL:       cfg.Notion.BaseURL,
		Token:         cfg.Notion.APIToken,
		DatabaseID:    cfg.Notion.DatabaseID,
		Version:       cfg.Notion.Version,
		Timeout:       cfg.Graph.Timeout(),
		DefaultStatus: cfg.Tickets.DefaultStatus,
		Source:        cfg.Tickets.Source,
	}, logger)

	dispatcher := events.NewInMemoryDispatcher()
	eventLog := service.NewEventLogService(dispatcher, logger, metrics, cfg.Notification, nil)
	worker.StartEventWorker(eventLog)

	processor := service.NewNotificationService(graphClient, notionClient, tracked, claims, dispatcher, metrics, logger, service.ProcessorConfig{
		ClientState:      cfg.Webhook.ClientState,
		ApprovalReaction: cfg.Approval.Reaction,
		AllowedUsers:     cfg.Approval.AllowedUsers,
		DefaultStatus:    cfg.Tickets.DefaultStatus,
		Source:           cfg.Tickets.Source,
	})
	subscriptions := service.NewSubscriptionService(graphClient, dispatcher, metrics, logger, service.SubscriptionSettings{
		BaseURL:               cfg.Webhook.BaseURL(),
		ClientState:           cfg.Webhook.ClientState,
		DefaultResource:       cfg.Subscription.DefaultResource,
		DefaultExpirationDays: cfg.Subscription.DefaultExpirationDays,
	})

	poller := worker.NewReactionPoller(processor, tracked, cfg.Poller.Interval(), cfg.Poller.Retention(), metrics, logger)
	monitor := worker.NewRenewalMonitor(ctx, subscriptions, cfg.Subscription.CheckInterval(), service.RenewalThreshold, logger)

	webhook := handlers.NewWebhookHandler(ctx, processor, subscriptions, cfg.Webhook.AsyncProcessing, metrics, logger)
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	if !tokenManager.Enabled() {
		logger.Warn("AUTH_JWT_SECRET not set; management routes are unauthenticated")
	}

	app := httptransport.NewApp(cfg.App.Name, httptransport.RouteConfig{
		Validation:     handlers.NewValidationHandler(handshakes, webhook.Notification, metrics, logger),
		Webhook:        webhook,
		Subscriptions:  handlers.NewSubscriptionHandler(subscriptions, monitor),
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, redis),
		KeepAlive:      handlers.NewKeepAliveHandler(graphClient, notionClient, logger),
		Diagnostics:    handlers.NewDiagnosticsHandler(cfg, metrics, tracked, handshakes),
		AuthMiddleware: auth.NewAuthMiddleware(tokenManager, logger),
		Logger:         logger,
		Metrics:        metrics,
		RequestTimeout: cfg.App.RequestTimeout(),
	})

	// The default subscription's handshake needs a listening server.
	app.Hooks().OnListen(func(fiber.ListenData) error {
		go ensureDefaultSubscription(ctx, subscriptions, logger)
		return nil
	})

	go poller.Run(ctx)
	if cfg.Subscription.AutoRenew {
		monitor.Start(0)
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	monitor.Stop()
	poller.Stop()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer waitCancel()
	if err := webhook.Wait(waitCtx); err != nil {
		logger.Warn("in-flight notification batches abandoned", zap.Error(err))
	}
}

func ensureDefaultSubscription(ctx context.Context, subscriptions *service.SubscriptionService, logger *zap.Logger) {
	sub, err := subscriptions.EnsureDefault(ctx)
	if err != nil {
		logger.Error("default subscription bootstrap failed", zap.Error(err))
		return
	}
	if sub != nil {
		logger.Info("default subscription ready", zap.String("subscription_id", sub.ID), zap.String("resource", sub.Resource))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
