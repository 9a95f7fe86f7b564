package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/payment-reconciler/config"
	grpcapi "github.com/Dhoini/payment-reconciler/internal/api/grpc"
	"github.com/Dhoini/payment-reconciler/internal/api/rest"
	"github.com/Dhoini/payment-reconciler/internal/api/rest/handlers"
	"github.com/Dhoini/payment-reconciler/internal/api/rest/middleware"
	"github.com/Dhoini/payment-reconciler/internal/kafka"
	"github.com/Dhoini/payment-reconciler/internal/kafka/producer"
	"github.com/Dhoini/payment-reconciler/internal/metrics"
	"github.com/Dhoini/payment-reconciler/internal/reconcile"
	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/internal/stripe"
	"github.com/Dhoini/payment-reconciler/internal/webhook"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const readinessInterval = 15 * time.Second

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	cfg           *config.Config
	log           *logger.Logger
	store         *repository.Store
	cache         *repository.RedisCacheRepository
	producer      producer.ReconcileProducer
	systemMetrics metrics.SystemMetrics
	httpServer    *rest.Server
	grpcServer    *grpcapi.Server
}

// New создает и связывает все компоненты. Redis и Kafka необязательны:
// без них сервис работает без кеша и без публикации событий.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(registry, log)

	store, err := repository.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{
		cfg:           cfg,
		log:           log,
		store:         store,
		systemMetrics: metrics.NewSystemMetrics(registry, log),
	}

	orders := repository.NewOrderRepository(store, log)
	subscriptions := repository.NewSubscriptionRepository(store, log)
	shipments := repository.NewSubscriptionOrderRepository(store, log)
	skips := repository.NewSkipRepository(store, log)
	catalog := repository.NewCatalogRepository(store, log)
	events := repository.NewEventRepository(store, log)

	if cfg.Stripe.APIKey == "" {
		log.Warnw("STRIPE_API_KEY is not set: invoice events will be acknowledged without effect")
	}
	lookup := stripe.NewStripeClient(stripe.Config{
		APIKey:  cfg.Stripe.APIKey,
		APIURL:  cfg.Stripe.APIURL,
		Timeout: cfg.Stripe.LookupTimeout(),
	}, log)
	var invalidator reconcile.SnapshotInvalidator
	if a.cache = a.openCache(); a.cache != nil {
		cached := stripe.NewCachedLookup(lookup, a.cache, log)
		lookup, invalidator = cached, cached
	}

	a.producer = a.openProducer(ctx)

	guard := reconcile.NewGuard(orders, subscriptions, log)
	reconciler := reconcile.NewSubscriptionReconciler(subscriptions, invalidator, a.producer, log)
	orchestrator := reconcile.NewFulfillmentOrchestrator(store, orders, shipments, skips, catalog, guard, webhookMetrics, a.producer, log)
	materializer := reconcile.NewOrderMaterializer(orders, catalog, guard, lookup, reconciler, orchestrator, webhookMetrics, a.producer, log)
	notifier := reconcile.NewNotifier(webhookMetrics, a.producer, log)

	dispatcher := webhook.NewDispatcher(materializer, reconciler, notifier, events, webhookMetrics, log)
	verifier := webhook.NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.SignatureTolerance(), log)
	endpoint := webhook.NewEndpoint(verifier, dispatcher, webhookMetrics, log)

	if cfg.Auth.JWTSecret == "" {
		log.Warnw("JWT_SECRET is not set: account and admin routes will reject every token")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := rest.SetupRouter(rest.RouterDeps{
		Log:      log,
		Registry: registry,
		Auth:     middleware.NewJWTMiddleware(log, &middleware.DefaultTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)}),
		Health:   handlers.NewHealthHandler(store, log),
		Webhook:  handlers.NewWebhookHandler(endpoint, log),
		Account:  handlers.NewAccountHandler(orders, subscriptions, shipments, skips, log),
		Admin:    handlers.NewAdminHandler(orders, shipments, events, log),
	})
	a.httpServer = rest.NewServer(router, cfg.Server, log)

	if a.grpcServer, err = grpcapi.NewServer(cfg.GRPC, log); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Run запускает серверы и блокируется до отмены ctx или ошибки сервера
func (a *App) Run(ctx context.Context) error {
	a.systemMetrics.StartRecording(15 * time.Second)

	readyCtx, stopReadiness := context.WithCancel(ctx)
	defer stopReadiness()
	go a.grpcServer.WatchReadiness(readyCtx, a.store, readinessInterval)

	errCh := make(chan error, 2)
	go func() { errCh <- a.httpServer.Start() }()
	go func() { errCh <- a.grpcServer.Start() }()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutdown signal received")
	case runErr = <-errCh:
		a.log.Errorw("Server stopped unexpectedly", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	a.grpcServer.Stop()

	return runErr
}

// Close освобождает ресурсы в порядке, обратном созданию
func (a *App) Close() {
	a.systemMetrics.Stop()
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warnw("Failed to close Kafka producer", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warnw("Failed to close Redis client", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warnw("Failed to close store", "error", err)
	}
}

func (a *App) openCache() *repository.RedisCacheRepository {
	if a.cfg.Redis.Addr == "" {
		return nil
	}
	cache, err := repository.NewRedisCacheRepository(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB, a.cfg.Redis.CacheTTL(), a.log)
	if err != nil {
		a.log.Warnw("Redis is unavailable, subscription lookups are not cached", "error", err, "addr", a.cfg.Redis.Addr)
		return nil
	}
	return cache
}

func (a *App) openProducer(ctx context.Context) producer.ReconcileProducer {
	brokers := a.cfg.Kafka.Brokers
	if len(brokers) == 0 {
		a.log.Info("Kafka brokers are not configured, reconcile events are not published")
		return producer.NopProducer{}
	}

	if a.cfg.Kafka.EnsureTopics {
		if err := kafka.EnsureKafkaTopics(ctx, brokers, a.log); err != nil {
			a.log.Warnw("Failed to ensure Kafka topics", "error", err)
		}
	}

	syncProducer, err := kafka.NewSyncProducer(kafka.NewConfig(brokers), a.log)
	if err != nil {
		a.log.Warnw("Kafka is unavailable, reconcile events are not published", "error", err)
		return producer.NopProducer{}
	}
	return producer.NewKafkaReconcileProducer(syncProducer, a.log)
}
