package reconcile_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/kafka/producer"
	"github.com/Dhoini/payment-reconciler/internal/metrics"
	"github.com/Dhoini/payment-reconciler/internal/reconcile"
	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/internal/repository/repotest"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	mu    sync.Mutex
	snaps map[string]*domain.SubscriptionSnapshot
	err   error
	calls int
}

func (f *fakeLookup) GetSubscription(ctx context.Context, id string) (*domain.SubscriptionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	snap, ok := f.snaps[id]
	if !ok {
		return nil, domain.NewExternalServiceError("stripe", "resource_missing", "no such subscription", 404, nil)
	}
	return snap, nil
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

// hidingSubscriptions отдает ErrNotFound на первое чтение, как будто
// параллельная доставка вставила строку сразу после него
type hidingSubscriptions struct {
	repository.SubscriptionRepository
	hidden atomic.Bool
}

func (h *hidingSubscriptions) GetByStripeID(ctx context.Context, id string) (*domain.Subscription, error) {
	if h.hidden.CompareAndSwap(false, true) {
		return nil, repository.ErrNotFound
	}
	return h.SubscriptionRepository.GetByStripeID(ctx, id)
}

type harness struct {
	store        *repository.Store
	orders       repository.OrderRepository
	subs         repository.SubscriptionRepository
	links        repository.SubscriptionOrderRepository
	skips        repository.SkipRepository
	lookup       *fakeLookup
	invalidator  *recordingInvalidator
	guard        *reconcile.Guard
	reconciler   *reconcile.SubscriptionReconciler
	orchestrator *reconcile.FulfillmentOrchestrator
	materializer *reconcile.OrderMaterializer
	notifier     *reconcile.Notifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := logger.NewNop()
	store := repotest.NewStore(t)
	m := metrics.NewWebhookMetrics(prometheus.NewRegistry(), log)
	p := producer.NopProducer{}

	h := &harness{
		store:       store,
		orders:      repository.NewOrderRepository(store, log),
		subs:        repository.NewSubscriptionRepository(store, log),
		links:       repository.NewSubscriptionOrderRepository(store, log),
		skips:       repository.NewSkipRepository(store, log),
		lookup:      &fakeLookup{snaps: map[string]*domain.SubscriptionSnapshot{}},
		invalidator: &recordingInvalidator{},
	}
	catalog := repository.NewCatalogRepository(store, log)

	h.guard = reconcile.NewGuard(h.orders, h.subs, log)
	h.reconciler = reconcile.NewSubscriptionReconciler(h.subs, h.invalidator, p, log)
	h.orchestrator = reconcile.NewFulfillmentOrchestrator(store, h.orders, h.links, h.skips, catalog, h.guard, m, p, log)
	h.materializer = reconcile.NewOrderMaterializer(h.orders, catalog, h.guard, h.lookup, h.reconciler, h.orchestrator, m, p, log)
	h.notifier = reconcile.NewNotifier(m, p, log)
	return h
}

func TestFromCheckout_CreatesOrderOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	repotest.SeedAddressWithID(t, h.store, 42, 7, "1 Main St", "Springfield")

	in := reconcile.CheckoutCompletion{
		EventID:     "evt_1",
		SessionID:   "cs_123",
		AmountTotal: 2500,
		Currency:    "USD",
		Metadata:    map[string]string{"user_id": "7", "address_id": "42"},
	}

	res, err := h.materializer.FromCheckout(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)
	assert.NotZero(t, res.OrderID)

	in.EventID = "evt_2"
	res, err = h.materializer.FromCheckout(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyProcessed, res.Outcome)

	assert.Equal(t, 1, repotest.Count(t, h.store, "orders"))

	order, err := h.orders.GetBySessionID(ctx, "cs_123")
	require.NoError(t, err)
	assert.Equal(t, int64(7), order.UserID)
	assert.Equal(t, "25.00", order.TotalAmount.StringFixed(2))
	assert.Equal(t, "usd", order.Currency)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	require.NotNil(t, order.ShippingAddress)
	assert.Equal(t, "1 Main St", order.ShippingAddress.Line1)
	assert.Equal(t, "Springfield", order.ShippingAddress.City)
}

func TestFromCheckout_AddressSnapshotDoesNotFollowEdits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	repotest.SeedAddressWithID(t, h.store, 42, 7, "1 Main St", "Springfield")

	_, err := h.materializer.FromCheckout(ctx, reconcile.CheckoutCompletion{
		EventID:     "evt_1",
		SessionID:   "cs_snap",
		AmountTotal: 100,
		Metadata:    map[string]string{"user_id": "7", "address_id": "42"},
	})
	require.NoError(t, err)

	_, err = h.store.DB().Exec(h.store.DB().Rebind("UPDATE addresses SET line1 = ? WHERE id = ?"), "2 Elm St", 42)
	require.NoError(t, err)

	order, err := h.orders.GetBySessionID(ctx, "cs_snap")
	require.NoError(t, err)
	require.NotNil(t, order.ShippingAddress)
	assert.Equal(t, "1 Main St", order.ShippingAddress.Line1)
}

func TestFromCheckout_UnresolvableAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	repotest.SeedAddressWithID(t, h.store, 50, 8, "Other St", "Shelbyville")

	tests := []struct {
		name      string
		sessionID string
		addressID string
	}{
		{name: "missing address", sessionID: "cs_a", addressID: "999"},
		{name: "foreign address", sessionID: "cs_b", addressID: "50"},
		{name: "not a number", sessionID: "cs_c", addressID: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.materializer.FromCheckout(ctx, reconcile.CheckoutCompletion{
				SessionID:   tt.sessionID,
				AmountTotal: 1000,
				Metadata:    map[string]string{"user_id": "7", "address_id": tt.addressID},
			})
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeApplied, res.Outcome)

			order, err := h.orders.GetBySessionID(ctx, tt.sessionID)
			require.NoError(t, err)
			assert.Nil(t, order.ShippingAddress)
		})
	}
}

func TestFromCheckout_MissingUserMetadata(t *testing.T) {
	h := newHarness(t)

	for _, metadata := range []map[string]string{nil, {"user_id": ""}, {"user_id": "x"}, {"user_id": "0"}} {
		_, err := h.materializer.FromCheckout(context.Background(), reconcile.CheckoutCompletion{
			SessionID:   "cs_nouser",
			AmountTotal: 500,
			Metadata:    metadata,
		})
		require.ErrorIs(t, err, domain.ErrMissingRequiredMetadata)
		assert.True(t, domain.IsBusinessError(err))
	}
	assert.Equal(t, 0, repotest.Count(t, h.store, "orders"))
}

func TestFromInvoice_LookupFailureCreatesNothing(t *testing.T) {
	h := newHarness(t)
	h.lookup.err = domain.NewExternalServiceError("stripe", "timeout", "lookup timed out", 0, domain.ErrTimeoutExceeded)

	_, err := h.materializer.FromInvoice(context.Background(), reconcile.InvoicePayment{
		EventID:              "evt_inv",
		InvoiceID:            "in_1",
		StripeSubscriptionID: "sub_1",
		AmountPaid:           1999,
	})
	require.ErrorIs(t, err, domain.ErrSubscriptionMetadataUnresolvable)
	assert.ErrorIs(t, err, domain.ErrExternalServiceUnavailable)
	assert.ErrorIs(t, err, domain.ErrTimeoutExceeded)
	assert.Equal(t, 0, repotest.Count(t, h.store, "orders"))
}

func TestFromInvoice_PlainSubscriptionOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.lookup.snaps["sub_1"] = &domain.SubscriptionSnapshot{
		ID:       "sub_1",
		Status:   "active",
		Metadata: map[string]string{"user_id": "7"},
	}

	in := reconcile.InvoicePayment{EventID: "evt_a", InvoiceID: "in_1", StripeSubscriptionID: "sub_1", AmountPaid: 1999, Currency: "eur"}
	res, err := h.materializer.FromInvoice(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)

	res, err = h.materializer.FromInvoice(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyProcessed, res.Outcome)
	assert.Equal(t, 1, h.lookup.calls)

	order, err := h.orders.GetByInvoiceID(ctx, "in_1")
	require.NoError(t, err)
	assert.Equal(t, "19.99", order.TotalAmount.StringFixed(2))
	assert.Equal(t, "eur", order.Currency)
	assert.Equal(t, int64(7), order.UserID)
}

func TestFromInvoice_MissingUserInSnapshot(t *testing.T) {
	h := newHarness(t)
	h.lookup.snaps["sub_1"] = &domain.SubscriptionSnapshot{ID: "sub_1", Status: "active"}

	_, err := h.materializer.FromInvoice(context.Background(), reconcile.InvoicePayment{
		InvoiceID: "in_1", StripeSubscriptionID: "sub_1", AmountPaid: 100,
	})
	require.ErrorIs(t, err, domain.ErrSubscriptionMetadataUnresolvable)
	assert.Equal(t, 0, repotest.Count(t, h.store, "orders"))
}

func TestFromInvoice_FulfillsCycleFromCatalogPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	productID := repotest.SeedProduct(t, h.store, "Coffee beans", "12.50")
	repotest.SeedAddress(t, h.store, 7, "1 Main St", "Springfield", true)

	h.lookup.snaps["sub_9"] = &domain.SubscriptionSnapshot{
		ID:               "sub_9",
		CustomerID:       "cus_1",
		Status:           "active",
		CurrentPeriodEnd: 1735732800,
		Metadata: map[string]string{
			"user_id":    "7",
			"product_id": itoa(productID),
			"quantity":   "2",
		},
	}

	res, err := h.materializer.FromInvoice(ctx, reconcile.InvoicePayment{
		EventID:              "evt_f",
		InvoiceID:            "in_9",
		StripeSubscriptionID: "sub_9",
		AmountPaid:           9999,
		BillingDate:          time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)

	// подписка создана из снимка, счет пришел раньше события о создании
	sub, err := h.subs.GetByStripeID(ctx, "sub_9")
	require.NoError(t, err)
	assert.Equal(t, res.SubscriptionID, sub.ID)

	order, err := h.orders.GetByID(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "25.00", order.TotalAmount.StringFixed(2))
	require.NotNil(t, order.ShippingAddress)
	assert.Equal(t, "1 Main St", order.ShippingAddress.Line1)

	links, err := h.links.ListBySubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, order.ID, links[0].OrderID)
	assert.Equal(t, 2, links[0].Quantity)
	assert.Equal(t, "12.50", links[0].UnitPrice.StringFixed(2))
	assert.Equal(t, domain.ShipmentStatusPending, links[0].ShipmentStatus)
}

func TestFromInvoice_SkippedCycleCreatesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	productID := repotest.SeedProduct(t, h.store, "Tea", "8.00")

	snap := &domain.SubscriptionSnapshot{
		ID:       "sub_s",
		Status:   "active",
		Metadata: map[string]string{"user_id": "7", "product_id": itoa(productID)},
	}
	h.lookup.snaps["sub_s"] = snap

	sub, err := h.reconciler.Ensure(ctx, snap)
	require.NoError(t, err)

	billing := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	require.NoError(t, h.skips.Create(ctx, &domain.SubscriptionSkip{SubscriptionID: sub.ID, SkipDate: billing}))

	res, err := h.materializer.FromInvoice(ctx, reconcile.InvoicePayment{
		InvoiceID: "in_s", StripeSubscriptionID: "sub_s", AmountPaid: 800, BillingDate: billing,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	assert.Equal(t, 0, repotest.Count(t, h.store, "orders"))
	assert.Equal(t, 0, repotest.Count(t, h.store, "subscription_orders"))

	// пропуск относится только к своей дате
	res, err = h.materializer.FromInvoice(ctx, reconcile.InvoicePayment{
		InvoiceID: "in_t", StripeSubscriptionID: "sub_s", AmountPaid: 800, BillingDate: billing.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)
	assert.Equal(t, 1, repotest.Count(t, h.store, "subscription_orders"))
}

func TestFulfill_ProductNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.reconciler.Ensure(ctx, &domain.SubscriptionSnapshot{
		ID: "sub_p", Status: "active", Metadata: map[string]string{"user_id": "7"},
	})
	require.NoError(t, err)

	_, err = h.orchestrator.Fulfill(ctx, reconcile.FulfillmentRequest{
		InvoiceID: "in_p", UserID: 7, SubscriptionID: sub.ID, ProductID: 404, Quantity: 1,
	})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Equal(t, 0, repotest.Count(t, h.store, "orders"))
}

func TestFulfill_DuplicateInvoiceIsAbsorbed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	productID := repotest.SeedProduct(t, h.store, "Soap", "3.00")

	sub, err := h.reconciler.Ensure(ctx, &domain.SubscriptionSnapshot{
		ID: "sub_d", Status: "active", Metadata: map[string]string{"user_id": "7"},
	})
	require.NoError(t, err)

	req := reconcile.FulfillmentRequest{InvoiceID: "in_d", UserID: 7, SubscriptionID: sub.ID, ProductID: productID}

	res, err := h.orchestrator.Fulfill(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)

	// вторая доставка прошла проверку Seen и упирается в уникальный индекс
	res, err = h.orchestrator.Fulfill(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyProcessed, res.Outcome)

	assert.Equal(t, 1, repotest.Count(t, h.store, "orders"))
	assert.Equal(t, 1, repotest.Count(t, h.store, "subscription_orders"))
}

func TestGuard_Absorb(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.guard.Absorb(reconcile.OrderBySession, "cs_1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	outcome, err = h.guard.Absorb(reconcile.OrderBySession, "cs_1", repository.ErrDuplicate)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyProcessed, outcome)

	boom := errors.New("connection reset")
	_, err = h.guard.Absorb(reconcile.OrderBySession, "cs_1", boom)
	assert.ErrorIs(t, err, boom)

	seen, err := h.guard.Seen(context.Background(), reconcile.SubscriptionByID, "sub_none")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestReconcile_CreatesAndUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state := reconcile.SubscriptionState{
		EventID:              "evt_c",
		StripeSubscriptionID: "sub_9",
		CustomerID:           "cus_9",
		Status:               "trialing",
		CurrentPeriodStart:   1733054400,
		CurrentPeriodEnd:     1735732800,
		Metadata:             map[string]string{"user_id": "7"},
	}

	res, err := h.reconciler.Reconcile(ctx, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "created", res.Detail)

	sub, err := h.subs.GetByStripeID(ctx, "sub_9")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, int64(7), sub.UserID)
	require.NotNil(t, sub.NextBillingDate)
	assert.Equal(t, "2025-01-01", sub.NextBillingDate.UTC().Format(time.DateOnly))

	state.Status = "past_due"
	state.Metadata = map[string]string{"user_id": "99"}
	res, err = h.reconciler.Reconcile(ctx, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "updated", res.Detail)

	sub, err = h.subs.GetByStripeID(ctx, "sub_9")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)
	assert.Equal(t, int64(7), sub.UserID, "owner never changes")
	assert.Equal(t, []string{"sub_9", "sub_9"}, h.invalidator.ids)
}

func TestReconcile_DeletedIsCancelledRegardlessOfStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cancelled := domain.SubscriptionStatusCancelled

	state := reconcile.SubscriptionState{
		StripeSubscriptionID: "sub_x",
		Status:               "active",
		Metadata:             map[string]string{"user_id": "7"},
	}
	_, err := h.reconciler.Reconcile(ctx, state, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = h.reconciler.Reconcile(ctx, state, &cancelled)
		require.NoError(t, err)

		sub, err := h.subs.GetByStripeID(ctx, "sub_x")
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionStatusCancelled, sub.Status)
	}
	assert.Equal(t, 1, repotest.Count(t, h.store, "subscriptions"))
}

func TestReconcile_UnknownStatusKeepsCurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state := reconcile.SubscriptionState{
		StripeSubscriptionID: "sub_u",
		Status:               "past_due",
		Metadata:             map[string]string{"user_id": "7"},
	}
	_, err := h.reconciler.Reconcile(ctx, state, nil)
	require.NoError(t, err)

	state.Status = "something_new"
	_, err = h.reconciler.Reconcile(ctx, state, nil)
	require.NoError(t, err)

	sub, err := h.subs.GetByStripeID(ctx, "sub_u")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)
}

func TestReconcile_CreateRequiresUser(t *testing.T) {
	h := newHarness(t)

	_, err := h.reconciler.Reconcile(context.Background(), reconcile.SubscriptionState{
		StripeSubscriptionID: "sub_nouser",
		Status:               "active",
	}, nil)
	require.ErrorIs(t, err, domain.ErrMissingUserMetadata)
	assert.Equal(t, 0, repotest.Count(t, h.store, "subscriptions"))
}

func TestNotifier_DoesNotMutateState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.notifier.PaymentFailed(ctx, reconcile.InvoiceFailure{InvoiceID: "in_f", AmountDue: 500, Currency: "USD", AttemptCount: 2})
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)

	res = h.notifier.Refunded(ctx, reconcile.Refund{ChargeID: "ch_1", AmountRefunded: 1250, Currency: "usd"})
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)

	for _, table := range []string{"orders", "subscriptions", "subscription_orders"} {
		assert.Equal(t, 0, repotest.Count(t, h.store, table))
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestReconcile_LosingCreateRaceUpdatesWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.subs.Create(ctx, &domain.Subscription{
		UserID:               7,
		StripeSubscriptionID: "sub_r",
		Status:               domain.SubscriptionStatusIncomplete,
	}))

	subs := &hidingSubscriptions{SubscriptionRepository: h.subs}
	reconciler := reconcile.NewSubscriptionReconciler(subs, h.invalidator, producer.NopProducer{}, logger.NewNop())

	res, err := reconciler.Reconcile(ctx, reconcile.SubscriptionState{
		EventID:              "evt_r",
		StripeSubscriptionID: "sub_r",
		Status:               "active",
		CurrentPeriodEnd:     1735732800,
		Metadata:             map[string]string{"user_id": "7"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)
	assert.Equal(t, "updated", res.Detail)

	sub, err := h.subs.GetByStripeID(ctx, "sub_r")
	require.NoError(t, err)
	assert.Equal(t, res.SubscriptionID, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 1, repotest.Count(t, h.store, "subscriptions"))
}

func TestReconcile_ConcurrentDeliveriesConverge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	productID := repotest.SeedProduct(t, h.store, "Coffee beans", "12.50")

	h.lookup.snaps["sub_r"] = &domain.SubscriptionSnapshot{
		ID:               "sub_r",
		CustomerID:       "cus_r",
		Status:           "active",
		CurrentPeriodEnd: 1735732800,
		Metadata: map[string]string{
			"user_id":    "7",
			"product_id": itoa(productID),
			"quantity":   "2",
		},
	}
	state := reconcile.SubscriptionState{
		EventID:              "evt_sub",
		StripeSubscriptionID: "sub_r",
		CustomerID:           "cus_r",
		Status:               "active",
		CurrentPeriodEnd:     1735732800,
		Metadata:             map[string]string{"user_id": "7"},
	}
	invoice := reconcile.InvoicePayment{
		EventID:              "evt_inv",
		InvoiceID:            "in_1",
		StripeSubscriptionID: "sub_r",
		AmountPaid:           2500,
		BillingDate:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	const deliveries = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
		outcomes = map[domain.EventOutcome]int{}
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.reconciler.Reconcile(ctx, state, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
		}()
		go func() {
			defer wg.Done()
			res, err := h.materializer.FromInvoice(ctx, invoice)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[res.Outcome]++
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, outcomes[domain.OutcomeApplied])
	assert.Equal(t, deliveries-1, outcomes[domain.OutcomeAlreadyProcessed])

	assert.Equal(t, 1, repotest.Count(t, h.store, "subscriptions"))
	assert.Equal(t, 1, repotest.Count(t, h.store, "orders"))
	assert.Equal(t, 1, repotest.Count(t, h.store, "subscription_orders"))

	order, err := h.orders.GetByInvoiceID(ctx, "in_1")
	require.NoError(t, err)
	assert.Equal(t, "25.00", order.TotalAmount.StringFixed(2))
}
