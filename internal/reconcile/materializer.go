package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/kafka/producer"
	"github.com/Dhoini/payment-reconciler/internal/metrics"
	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/internal/stripe"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// OrderMaterializer превращает завершенную оплату или оплаченный счет в заказ
type OrderMaterializer struct {
	orders       repository.OrderRepository
	catalog      repository.CatalogRepository
	guard        *Guard
	lookup       stripe.SubscriptionLookup
	reconciler   *SubscriptionReconciler
	orchestrator *FulfillmentOrchestrator
	metrics      metrics.WebhookMetrics
	producer     producer.ReconcileProducer
	log          *logger.Logger
}

// NewOrderMaterializer создает материализатор заказов
func NewOrderMaterializer(
	orders repository.OrderRepository,
	catalog repository.CatalogRepository,
	guard *Guard,
	lookup stripe.SubscriptionLookup,
	reconciler *SubscriptionReconciler,
	orchestrator *FulfillmentOrchestrator,
	m metrics.WebhookMetrics,
	p producer.ReconcileProducer,
	log *logger.Logger,
) *OrderMaterializer {
	return &OrderMaterializer{
		orders:       orders,
		catalog:      catalog,
		guard:        guard,
		lookup:       lookup,
		reconciler:   reconciler,
		orchestrator: orchestrator,
		metrics:      m,
		producer:     p,
		log:          log,
	}
}

// FromCheckout создает оплаченный заказ по сессии. Без user_id заказ не создается
// (ErrMissingRequiredMetadata), событие при этом подтверждается.
func (m *OrderMaterializer) FromCheckout(ctx context.Context, in CheckoutCompletion) (Result, error) {
	if in.SessionID == "" {
		return Result{}, fmt.Errorf("%w: checkout session id is missing", domain.ErrInvalidPayload)
	}

	userID, ok := domain.MetadataID(in.Metadata, domain.MetadataUserID)
	if !ok {
		return Result{}, fmt.Errorf("%w: user_id in checkout session %s", domain.ErrMissingRequiredMetadata, in.SessionID)
	}

	seen, err := m.guard.Seen(ctx, OrderBySession, in.SessionID)
	if err != nil {
		return Result{}, err
	}
	if seen {
		m.log.Infow("Checkout session already materialized", "sessionID", in.SessionID, "eventID", in.EventID)
		return Result{Outcome: domain.OutcomeAlreadyProcessed, Detail: "order exists for session"}, nil
	}

	shipping, err := m.resolveAddress(ctx, userID, in.Metadata)
	if err != nil {
		return Result{}, err
	}

	sessionID := in.SessionID
	order := &domain.Order{
		UserID:          userID,
		TotalAmount:     domain.AmountFromMinorUnits(in.AmountTotal),
		Currency:        currencyOrDefault(strings.ToLower(in.Currency)),
		Status:          domain.OrderStatusPaid,
		StripeSessionID: &sessionID,
		ShippingAddress: shipping,
	}

	return m.insert(ctx, OrderBySession, in.SessionID, in.EventID, order)
}

// FromInvoice разрешает владельца через платежную систему. Если в метаданных
// подписки есть product_id, счет оплачивает цикл отгрузки и передается оркестратору.
func (m *OrderMaterializer) FromInvoice(ctx context.Context, in InvoicePayment) (Result, error) {
	if in.InvoiceID == "" {
		return Result{}, fmt.Errorf("%w: invoice id is missing", domain.ErrInvalidPayload)
	}
	if in.StripeSubscriptionID == "" {
		return Result{}, fmt.Errorf("%w: invoice %s has no subscription", domain.ErrSubscriptionMetadataUnresolvable, in.InvoiceID)
	}

	seen, err := m.guard.Seen(ctx, OrderByInvoice, in.InvoiceID)
	if err != nil {
		return Result{}, err
	}
	if seen {
		m.log.Infow("Invoice already materialized", "invoiceID", in.InvoiceID, "eventID", in.EventID)
		return Result{Outcome: domain.OutcomeAlreadyProcessed, Detail: "order exists for invoice"}, nil
	}

	snap, err := m.lookup.GetSubscription(ctx, in.StripeSubscriptionID)
	if err != nil {
		m.metrics.IncLookupFailure()
		return Result{}, fmt.Errorf("%w: subscription %s: %w", domain.ErrSubscriptionMetadataUnresolvable, in.StripeSubscriptionID, err)
	}

	userID, ok := domain.MetadataID(snap.Metadata, domain.MetadataUserID)
	if !ok {
		return Result{}, fmt.Errorf("%w: subscription %s has no user_id", domain.ErrSubscriptionMetadataUnresolvable, in.StripeSubscriptionID)
	}

	if productID, ok := domain.MetadataID(snap.Metadata, domain.MetadataProductID); ok {
		return m.fulfillCycle(ctx, in, snap, userID, productID)
	}

	shipping, err := m.resolveAddress(ctx, userID, snap.Metadata)
	if err != nil {
		return Result{}, err
	}

	invoiceID := in.InvoiceID
	order := &domain.Order{
		UserID:          userID,
		TotalAmount:     domain.AmountFromMinorUnits(in.AmountPaid),
		Currency:        currencyOrDefault(strings.ToLower(in.Currency)),
		Status:          domain.OrderStatusPaid,
		StripeInvoiceID: &invoiceID,
		ShippingAddress: shipping,
	}
	return m.insert(ctx, OrderByInvoice, in.InvoiceID, in.EventID, order)
}

func (m *OrderMaterializer) fulfillCycle(ctx context.Context, in InvoicePayment, snap *domain.SubscriptionSnapshot, userID, productID int64) (Result, error) {
	// счет может прийти раньше customer.subscription.created
	sub, err := m.reconciler.Ensure(ctx, snap)
	if err != nil {
		return Result{}, err
	}

	quantity := 1
	if q, ok := domain.MetadataID(snap.Metadata, domain.MetadataQuantity); ok {
		quantity = int(q)
	}

	req := FulfillmentRequest{
		EventID:        in.EventID,
		InvoiceID:      in.InvoiceID,
		UserID:         userID,
		SubscriptionID: sub.ID,
		ProductID:      productID,
		Quantity:       quantity,
	}

	skipped, err := m.orchestrator.IsShipmentSkipped(ctx, sub.ID, in.BillingDate)
	if err != nil {
		return Result{}, err
	}
	if skipped {
		return m.orchestrator.RecordSkipped(ctx, req, in.BillingDate), nil
	}
	return m.orchestrator.Fulfill(ctx, req)
}

func (m *OrderMaterializer) insert(ctx context.Context, category Category, externalID, eventID string, order *domain.Order) (Result, error) {
	outcome, err := m.guard.Absorb(category, externalID, m.orders.Create(ctx, order))
	if err != nil {
		return Result{}, err
	}
	if outcome == domain.OutcomeAlreadyProcessed {
		return Result{Outcome: outcome, Detail: "order created by concurrent delivery"}, nil
	}

	m.log.Infow("Order materialized",
		"orderID", order.ID,
		"userID", order.UserID,
		"total", order.TotalAmount.StringFixed(2),
		"category", category,
		"externalID", externalID,
		"withAddress", order.ShippingAddress != nil,
	)
	publish(ctx, m.producer, m.log, producer.TopicOrderMaterialized, externalID, eventID, order)

	return Result{Outcome: domain.OutcomeApplied, Detail: "order created", OrderID: order.ID}, nil
}

// resolveAddress снимает адрес из address_id. Неразрешимый адрес не ошибка:
// заказ создается без снимка.
func (m *OrderMaterializer) resolveAddress(ctx context.Context, userID int64, metadata map[string]string) (*domain.ShippingAddress, error) {
	addressID, ok := domain.MetadataID(metadata, domain.MetadataAddressID)
	if !ok {
		return nil, nil
	}

	address, err := m.catalog.AddressByID(ctx, addressID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			m.log.Warnw("Address not found, order created without shipping snapshot", "addressID", addressID, "userID", userID)
			return nil, nil
		}
		return nil, err
	}
	if address.UserID != userID {
		m.log.Warnw("Address belongs to another user, order created without shipping snapshot", "addressID", addressID, "userID", userID)
		return nil, nil
	}
	return address.Snapshot(), nil
}
