// Package reconcile применяет события платежной системы к реляционным записям
// ровно один раз: заказы, жизненный цикл подписок, отгрузки по циклам.
package reconcile

import (
	"context"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/kafka/producer"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// Result итог применения одного события
type Result struct {
	Outcome        domain.EventOutcome
	Detail         string
	OrderID        int64
	SubscriptionID int64
}

// CheckoutCompletion завершенная сессия оплаты
type CheckoutCompletion struct {
	EventID     string
	SessionID   string
	AmountTotal int64
	Currency    string
	Metadata    map[string]string
}

// InvoicePayment успешно оплаченный счет подписки
type InvoicePayment struct {
	EventID              string
	InvoiceID            string
	StripeSubscriptionID string
	AmountPaid           int64
	Currency             string
	// BillingDate дата цикла, с которой сверяются пропуски
	BillingDate time.Time
}

// SubscriptionState состояние подписки, присланное платежной системой
type SubscriptionState struct {
	EventID              string
	StripeSubscriptionID string
	CustomerID           string
	Status               string
	CurrentPeriodStart   int64
	CurrentPeriodEnd     int64
	Metadata             map[string]string
}

// StateFromSnapshot строит состояние из ответа API
func StateFromSnapshot(snap *domain.SubscriptionSnapshot) SubscriptionState {
	return SubscriptionState{
		StripeSubscriptionID: snap.ID,
		CustomerID:           snap.CustomerID,
		Status:               snap.Status,
		CurrentPeriodStart:   snap.CurrentPeriodStart,
		CurrentPeriodEnd:     snap.CurrentPeriodEnd,
		Metadata:             snap.Metadata,
	}
}

// FulfillmentRequest один цикл отгрузки подписки
type FulfillmentRequest struct {
	EventID        string
	InvoiceID      string
	UserID         int64
	SubscriptionID int64
	ProductID      int64
	Quantity       int
}

// InvoiceFailure неуспешная попытка оплаты счета
type InvoiceFailure struct {
	EventID              string
	InvoiceID            string
	StripeSubscriptionID string
	CustomerID           string
	AmountDue            int64
	Currency             string
	AttemptCount         int64
}

// Refund возврат по платежу
type Refund struct {
	EventID         string
	ChargeID        string
	PaymentIntentID string
	AmountRefunded  int64
	Currency        string
}

// publish отправляет событие сверки; сбой Kafka не отменяет записанное в базе
func publish(ctx context.Context, p producer.ReconcileProducer, log *logger.Logger, topic, key, eventID string, data interface{}) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, topic, key, eventID, data); err != nil {
		log.Warnw("Failed to publish reconcile event", "error", err, "topic", topic, "key", key, "eventID", eventID)
	}
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return "usd"
	}
	return currency
}
