package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/kafka/producer"
	"github.com/Dhoini/payment-reconciler/internal/metrics"
	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/shopspring/decimal"
)

// FulfillmentOrchestrator создает заказ и связанный с ним цикл отгрузки подписки
type FulfillmentOrchestrator struct {
	store    *repository.Store
	orders   repository.OrderRepository
	links    repository.SubscriptionOrderRepository
	skips    repository.SkipRepository
	catalog  repository.CatalogRepository
	guard    *Guard
	metrics  metrics.WebhookMetrics
	producer producer.ReconcileProducer
	log      *logger.Logger
}

// NewFulfillmentOrchestrator создает оркестратор отгрузок
func NewFulfillmentOrchestrator(
	store *repository.Store,
	orders repository.OrderRepository,
	links repository.SubscriptionOrderRepository,
	skips repository.SkipRepository,
	catalog repository.CatalogRepository,
	guard *Guard,
	m metrics.WebhookMetrics,
	p producer.ReconcileProducer,
	log *logger.Logger,
) *FulfillmentOrchestrator {
	return &FulfillmentOrchestrator{
		store:    store,
		orders:   orders,
		links:    links,
		skips:    skips,
		catalog:  catalog,
		guard:    guard,
		metrics:  m,
		producer: p,
		log:      log,
	}
}

// IsShipmentSkipped сообщает, попросил ли клиент пропустить цикл на эту дату
func (o *FulfillmentOrchestrator) IsShipmentSkipped(ctx context.Context, subscriptionID int64, billingDate time.Time) (bool, error) {
	return o.skips.IsSkipped(ctx, subscriptionID, billingDate)
}

// RecordSkipped фиксирует намеренно пропущенный цикл: ничего не создается
func (o *FulfillmentOrchestrator) RecordSkipped(ctx context.Context, req FulfillmentRequest, billingDate time.Time) Result {
	date := domain.DateOf(billingDate).Format(time.DateOnly)

	o.log.Infow("Shipment skipped on customer request",
		"subscriptionID", req.SubscriptionID,
		"billingDate", date,
		"invoiceID", req.InvoiceID,
		"eventID", req.EventID,
	)
	o.metrics.IncFulfillmentSkipped()
	publish(ctx, o.producer, o.log, producer.TopicFulfillmentSkipped, req.InvoiceID, req.EventID, map[string]interface{}{
		"subscription_id": req.SubscriptionID,
		"invoice_id":      req.InvoiceID,
		"billing_date":    date,
	})

	return Result{Outcome: domain.OutcomeSkipped, Detail: "cycle " + date + " skipped", SubscriptionID: req.SubscriptionID}
}

// Fulfill фиксирует цену товара и адрес по умолчанию и вставляет Order и
// SubscriptionOrder в одной транзакции
func (o *FulfillmentOrchestrator) Fulfill(ctx context.Context, req FulfillmentRequest) (Result, error) {
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	product, err := o.catalog.ProductByID(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: product %d", domain.ErrProductNotFound, req.ProductID)
		}
		return Result{}, err
	}

	var shipping *domain.ShippingAddress
	address, err := o.catalog.DefaultAddress(ctx, req.UserID)
	switch {
	case err == nil:
		shipping = address.Snapshot()
	case errors.Is(err, repository.ErrNotFound):
		o.log.Warnw("User has no shipping address, order created without snapshot", "userID", req.UserID, "subscriptionID", req.SubscriptionID)
	default:
		return Result{}, err
	}

	order := &domain.Order{
		UserID:          req.UserID,
		TotalAmount:     product.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
		Currency:        currencyOrDefault(product.Currency),
		Status:          domain.OrderStatusPaid,
		ShippingAddress: shipping,
	}
	if req.InvoiceID != "" {
		order.StripeInvoiceID = &req.InvoiceID
	}
	link := &domain.SubscriptionOrder{
		SubscriptionID: req.SubscriptionID,
		ProductID:      product.ID,
		Quantity:       req.Quantity,
		UnitPrice:      product.Price,
		ShipmentStatus: domain.ShipmentStatusPending,
	}

	err = o.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := o.orders.Create(ctx, order); err != nil {
			return err
		}
		link.OrderID = order.ID
		return o.links.Create(ctx, link)
	})

	outcome, err := o.guard.Absorb(OrderByInvoice, req.InvoiceID, err)
	if err != nil {
		o.log.Errorw("Failed to create fulfillment", "error", err, "subscriptionID", req.SubscriptionID, "invoiceID", req.InvoiceID)
		return Result{}, err
	}
	if outcome == domain.OutcomeAlreadyProcessed {
		return Result{Outcome: outcome, Detail: "invoice already fulfilled", SubscriptionID: req.SubscriptionID}, nil
	}

	o.log.Infow("Fulfillment cycle created",
		"orderID", order.ID,
		"subscriptionOrderID", link.ID,
		"subscriptionID", req.SubscriptionID,
		"productID", product.ID,
		"quantity", req.Quantity,
		"total", order.TotalAmount.StringFixed(2),
	)
	publish(ctx, o.producer, o.log, producer.TopicFulfillmentCreated, req.InvoiceID, req.EventID, map[string]interface{}{
		"order":              order,
		"subscription_order": link,
	})

	return Result{Outcome: domain.OutcomeApplied, Detail: "fulfillment created", OrderID: order.ID, SubscriptionID: req.SubscriptionID}, nil
}
