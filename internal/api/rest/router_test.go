package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/api/rest"
	"github.com/Dhoini/payment-reconciler/internal/api/rest/handlers"
	"github.com/Dhoini/payment-reconciler/internal/api/rest/middleware"
	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/kafka/producer"
	"github.com/Dhoini/payment-reconciler/internal/metrics"
	"github.com/Dhoini/payment-reconciler/internal/reconcile"
	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/internal/repository/repotest"
	"github.com/Dhoini/payment-reconciler/internal/webhook"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	webhookSecret = "whsec_e2e"
	jwtSecret     = "jwt_e2e"
)

// staticLookup отвечает снимками из карты. Ключ с nil значением имитирует
// недоступность Stripe (503), отсутствующий ключ дает 404.
type staticLookup map[string]*domain.SubscriptionSnapshot

func (s staticLookup) GetSubscription(ctx context.Context, id string) (*domain.SubscriptionSnapshot, error) {
	snap, ok := s[id]
	switch {
	case !ok:
		return nil, domain.NewExternalServiceError("stripe", "resource_missing", "no such subscription", http.StatusNotFound, nil)
	case snap == nil:
		return nil, domain.NewExternalServiceError("stripe", "api_error", "service unavailable", http.StatusServiceUnavailable, nil)
	}
	return snap, nil
}

type app struct {
	store  *repository.Store
	router *gin.Engine
	orders repository.OrderRepository
	subs   repository.SubscriptionRepository
	lookup staticLookup
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	store := repotest.NewStore(t)
	registry := prometheus.NewRegistry()
	m := metrics.NewWebhookMetrics(registry, log)
	p := producer.NopProducer{}

	orders := repository.NewOrderRepository(store, log)
	subs := repository.NewSubscriptionRepository(store, log)
	links := repository.NewSubscriptionOrderRepository(store, log)
	skips := repository.NewSkipRepository(store, log)
	catalog := repository.NewCatalogRepository(store, log)
	events := repository.NewEventRepository(store, log)
	lookup := staticLookup{}

	guard := reconcile.NewGuard(orders, subs, log)
	reconciler := reconcile.NewSubscriptionReconciler(subs, nil, p, log)
	orchestrator := reconcile.NewFulfillmentOrchestrator(store, orders, links, skips, catalog, guard, m, p, log)
	materializer := reconcile.NewOrderMaterializer(orders, catalog, guard, lookup, reconciler, orchestrator, m, p, log)
	dispatcher := webhook.NewDispatcher(materializer, reconciler, reconcile.NewNotifier(m, p, log), events, m, log)
	endpoint := webhook.NewEndpoint(webhook.NewVerifier(webhookSecret, 0, log), dispatcher, m, log)

	router := rest.SetupRouter(rest.RouterDeps{
		Log:      log,
		Registry: registry,
		Auth:     middleware.NewJWTMiddleware(log, &middleware.DefaultTokenValidator{Secret: []byte(jwtSecret)}),
		Health:   handlers.NewHealthHandler(store, log),
		Webhook:  handlers.NewWebhookHandler(endpoint, log),
		Account:  handlers.NewAccountHandler(orders, subs, links, skips, log),
		Admin:    handlers.NewAdminHandler(orders, links, events, log),
	})

	return &app{store: store, router: router, orders: orders, subs: subs, lookup: lookup}
}

func (a *app) deliver(t *testing.T, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte(payload), webhookSecret, time.Now()))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *app) call(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	claims := middleware.TokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func message(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Message
}

func TestWebhook_CheckoutCompletedEndToEnd(t *testing.T) {
	a := newApp(t)
	repotest.SeedAddressWithID(t, a.store, 42, 7, "1 Main St", "Springfield")

	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{
		"id":"cs_123","mode":"payment","payment_status":"paid","amount_total":2500,"currency":"usd",
		"metadata":{"user_id":"7","address_id":"42"}}}}`

	w := a.deliver(t, payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, message(t, w))

	// повторная доставка того же события
	w = a.deliver(t, payload)
	require.Equal(t, http.StatusOK, w.Code)

	// новое событие о той же сессии
	w = a.deliver(t, strings.Replace(payload, "evt_1", "evt_1b", 1))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1, repotest.Count(t, a.store, "orders"))
	order, err := a.orders.GetBySessionID(context.Background(), "cs_123")
	require.NoError(t, err)
	assert.Equal(t, "25.00", order.TotalAmount.StringFixed(2))
	require.NotNil(t, order.ShippingAddress)

	w = a.call(t, http.MethodGet, "/api/v1/admin/events/evt_1", token(t, 1, middleware.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"applied"`)
}

func TestWebhook_Rejections(t *testing.T) {
	a := newApp(t)
	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set(webhook.SignatureHeader, "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := `{"id":"evt_big","type":"x","data":{"object":{"pad":"` + strings.Repeat("a", webhook.MaxPayloadBytes) + `"}}}`
	w = a.deliver(t, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	assert.Equal(t, 0, repotest.Count(t, a.store, "orders"))
	assert.Equal(t, 0, repotest.Count(t, a.store, "processed_events"))
}

func TestWebhook_InvoiceLookupFailureIsAcknowledged(t *testing.T) {
	a := newApp(t)
	a.lookup["sub_unknown"] = nil

	payload := `{"id":"evt_inv","type":"invoice.payment_succeeded","data":{"object":{
		"id":"in_1","subscription":"sub_unknown","amount_paid":1000,"currency":"usd","created":1735732800}}}`

	w := a.deliver(t, payload)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, repotest.Count(t, a.store, "orders"))
	// не фиксируется, чтобы ручная повторная отправка сработала после исправления
	assert.Equal(t, 0, repotest.Count(t, a.store, "processed_events"))

	a.lookup["sub_unknown"] = &domain.SubscriptionSnapshot{ID: "sub_unknown", Status: "active", Metadata: map[string]string{"user_id": "7"}}
	w = a.deliver(t, payload)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, repotest.Count(t, a.store, "orders"))
}

func TestWebhook_InvoiceForMissingSubscriptionIsRecordedAsFailed(t *testing.T) {
	a := newApp(t)

	payload := `{"id":"evt_gone","type":"invoice.payment_succeeded","data":{"object":{
		"id":"in_2","subscription":"sub_gone","amount_paid":1000,"currency":"usd","created":1735732800}}}`

	w := a.deliver(t, payload)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, repotest.Count(t, a.store, "orders"))

	ev, err := repository.NewEventRepository(a.store, logger.NewNop()).Get(context.Background(), "evt_gone")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, ev.Outcome)

	// повтор отвечает из журнала, Stripe больше не спрашивают
	w = a.deliver(t, payload)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "already processed")
}

func TestWebhook_SubscriptionLifecycle(t *testing.T) {
	a := newApp(t)
	sub := `{"id":"%s","type":"%s","data":{"object":{"id":"sub_9","customer":"cus_1","status":"%s",
		"current_period_start":1733054400,"current_period_end":1735732800,"metadata":{"user_id":"7"}}}}`

	require.Equal(t, http.StatusOK, a.deliver(t, fmt.Sprintf(sub, "evt_c", "customer.subscription.created", "trialing")).Code)
	require.Equal(t, http.StatusOK, a.deliver(t, fmt.Sprintf(sub, "evt_d", "customer.subscription.deleted", "active")).Code)
	require.Equal(t, http.StatusOK, a.deliver(t, fmt.Sprintf(sub, "evt_d2", "customer.subscription.deleted", "active")).Code)

	s, err := a.subs.GetByStripeID(context.Background(), "sub_9")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, s.Status)
	require.NotNil(t, s.NextBillingDate)
	assert.Equal(t, "2025-01-01", s.NextBillingDate.UTC().Format(time.DateOnly))
	assert.Equal(t, 1, repotest.Count(t, a.store, "subscriptions"))
}

func TestAccount_SkipFlow(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	sub := &domain.Subscription{UserID: 7, StripeSubscriptionID: "sub_acc", Status: domain.SubscriptionStatusActive}
	require.NoError(t, a.subs.Create(ctx, sub))

	skipDate := time.Now().UTC().AddDate(0, 0, 7).Format(time.DateOnly)
	path := fmt.Sprintf("/api/v1/subscriptions/%d/skips", sub.ID)

	w := a.call(t, http.MethodPost, path, "", map[string]string{"skip_date": skipDate})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.call(t, http.MethodPost, path, token(t, 8, ""), map[string]string{"skip_date": skipDate})
	assert.Equal(t, http.StatusNotFound, w.Code, "foreign subscription")

	w = a.call(t, http.MethodPost, path, token(t, 7, ""), map[string]string{"skip_date": "next tuesday"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = a.call(t, http.MethodPost, path, token(t, 7, ""), map[string]string{"skip_date": skipDate})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = a.call(t, http.MethodPost, path, token(t, 7, ""), map[string]string{"skip_date": skipDate})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.call(t, http.MethodGet, path, token(t, 7, ""), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), skipDate)
}

func TestAdmin_RequiresRole(t *testing.T) {
	a := newApp(t)

	w := a.call(t, http.MethodPatch, "/api/v1/admin/orders/1/status", token(t, 7, ""), map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.call(t, http.MethodPatch, "/api/v1/admin/orders/1/status", token(t, 1, middleware.RoleAdmin), map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.call(t, http.MethodPatch, "/api/v1/admin/orders/1/status", token(t, 1, middleware.RoleAdmin), map[string]string{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	a := newApp(t)

	w := a.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}
