package reconcile

import (
	"context"
	"strings"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/kafka/producer"
	"github.com/Dhoini/payment-reconciler/internal/metrics"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// Notifier обрабатывает события без изменения состояния: неуспешная оплата и возврат.
// Запись возвратов в базе пока не ведется.
type Notifier struct {
	metrics  metrics.WebhookMetrics
	producer producer.ReconcileProducer
	log      *logger.Logger
}

// NewNotifier создает обработчик уведомлений
func NewNotifier(m metrics.WebhookMetrics, p producer.ReconcileProducer, log *logger.Logger) *Notifier {
	return &Notifier{metrics: m, producer: p, log: log}
}

// PaymentFailed логирует неуспешную оплату счета
func (n *Notifier) PaymentFailed(ctx context.Context, f InvoiceFailure) Result {
	currency := currencyOrDefault(strings.ToLower(f.Currency))

	n.log.Warnw("Invoice payment failed",
		"invoiceID", f.InvoiceID,
		"stripeSubscriptionID", f.StripeSubscriptionID,
		"customerID", f.CustomerID,
		"amountDue", domain.AmountFromMinorUnits(f.AmountDue).StringFixed(2),
		"currency", currency,
		"attempt", f.AttemptCount,
		"eventID", f.EventID,
	)
	n.metrics.IncPaymentFailed(currency)
	publish(ctx, n.producer, n.log, producer.TopicPaymentFailed, f.InvoiceID, f.EventID, f)

	return Result{Outcome: domain.OutcomeApplied, Detail: "payment failure logged"}
}

// Refunded логирует возврат по платежу
func (n *Notifier) Refunded(ctx context.Context, r Refund) Result {
	currency := currencyOrDefault(strings.ToLower(r.Currency))
	amount := domain.AmountFromMinorUnits(r.AmountRefunded)

	n.log.Infow("Charge refunded",
		"chargeID", r.ChargeID,
		"paymentIntentID", r.PaymentIntentID,
		"amount", amount.StringFixed(2),
		"currency", currency,
		"eventID", r.EventID,
	)
	n.metrics.IncPaymentRefunded(currency, amount.InexactFloat64())
	publish(ctx, n.producer, n.log, producer.TopicPaymentRefunded, r.ChargeID, r.EventID, r)

	return Result{Outcome: domain.OutcomeApplied, Detail: "refund logged"}
}
