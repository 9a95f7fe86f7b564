package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const serviceName = "stripe"

// SubscriptionLookup разрешает метаданные подписки на стороне платежной системы
type SubscriptionLookup interface {
	GetSubscription(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionSnapshot, error)
}

// Config настройки клиента Stripe
type Config struct {
	APIKey string
	// APIURL переопределяет адрес API (тесты, stripe-mock)
	APIURL string
	// Timeout ограничивает весь поиск вместе с повторами
	Timeout         time.Duration
	InitialInterval time.Duration
	HTTPClient      *http.Client
	// FailureThreshold подряд идущих сбоев до размыкания
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 200 * time.Millisecond
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
}

// stripeClient реализует SubscriptionLookup поверх stripe-go
type stripeClient struct {
	api     *client.API
	breaker *gobreaker.CircuitBreaker[*stripe.Subscription]
	cfg     Config
	log     *logger.Logger
}

// NewStripeClient создает клиент Stripe с таймаутом, повторами и предохранителем
func NewStripeClient(cfg Config, log *logger.Logger) SubscriptionLookup {
	cfg.setDefaults()

	backendCfg := &stripe.BackendConfig{
		HTTPClient: cfg.HTTPClient,
		// повторами управляет backoff ниже
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	settings := gobreaker.Settings{
		Name:        "stripe-subscriptions",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// ответы 4xx говорят о запросе, а не о здоровье Stripe
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &stripeClient{
		api:     client.New(cfg.APIKey, backends),
		breaker: gobreaker.NewCircuitBreaker[*stripe.Subscription](settings),
		cfg:     cfg,
		log:     log,
	}
}

// GetSubscription загружает подписку. Любой сбой (таймаут, не-2xx, разомкнутый
// предохранитель) возвращается как ошибка внешнего сервиса.
func (sc *stripeClient) GetSubscription(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.cfg.Timeout)
	defer cancel()

	var sub *stripe.Subscription
	operation := func() error {
		res, err := sc.breaker.Execute(func() (*stripe.Subscription, error) {
			params := &stripe.SubscriptionParams{}
			params.Context = ctx
			return sc.api.Subscriptions.Get(stripeSubscriptionID, params)
		})
		if err != nil {
			if ctx.Err() != nil || !isRetryable(err) {
				return backoff.Permanent(err)
			}
			sc.log.Debugw("Retrying Stripe subscription lookup", "stripeSubscriptionID", stripeSubscriptionID, "error", err)
			return err
		}
		sub = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = sc.cfg.InitialInterval
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0 // ограничено контекстом

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		logStripeError(sc.log, "GetSubscription", err)
		if ctx.Err() != nil {
			return nil, domain.NewExternalServiceError(serviceName, "timeout", "subscription lookup timed out", 0,
				fmt.Errorf("%w: %v", domain.ErrTimeoutExceeded, err))
		}
		return nil, toExternalError(err)
	}

	return snapshotOf(sub), nil
}

func snapshotOf(sub *stripe.Subscription) *domain.SubscriptionSnapshot {
	snap := &domain.SubscriptionSnapshot{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		Metadata:           sub.Metadata,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	return snap
}

// isRetryable: сетевые ошибки, 429 и 5xx
func isRetryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 0
	}
	return true
}

func toExternalError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return domain.NewExternalServiceError(serviceName, string(stripeErr.Code), stripeErr.Msg, stripeErr.HTTPStatusCode, err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewExternalServiceError(serviceName, "circuit_open", "circuit breaker is open", 0, err)
	}
	return domain.NewExternalServiceError(serviceName, "transport", "request failed", 0, err)
}

// logStripeError логирует детали ошибки Stripe
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
		return
	}
	log.Errorw("Non-Stripe error during Stripe operation",
		"operation", operation,
		"error", err,
	)
}
