package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/metrics"
	"github.com/Dhoini/payment-reconciler/internal/reconcile"
	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/stripe/stripe-go/v78"
)

// OrderMaterializer создает заказы по оплатам
type OrderMaterializer interface {
	FromCheckout(ctx context.Context, in reconcile.CheckoutCompletion) (reconcile.Result, error)
	FromInvoice(ctx context.Context, in reconcile.InvoicePayment) (reconcile.Result, error)
}

// SubscriptionReconciler зеркалирует состояние подписок
type SubscriptionReconciler interface {
	Reconcile(ctx context.Context, state reconcile.SubscriptionState, force *domain.SubscriptionStatus) (reconcile.Result, error)
}

// PaymentNotifier обрабатывает события, не меняющие состояние
type PaymentNotifier interface {
	PaymentFailed(ctx context.Context, f reconcile.InvoiceFailure) reconcile.Result
	Refunded(ctx context.Context, r reconcile.Refund) reconcile.Result
}

// EventLedger журнал обработанных событий
type EventLedger interface {
	Get(ctx context.Context, eventID string) (*domain.ProcessedEvent, error)
	Record(ctx context.Context, ev *domain.ProcessedEvent) error
}

// Ack ответ платежной системе
type Ack struct {
	Status  int
	Message string
}

// Dispatcher направляет событие нужному обработчику и решает, что ответить.
// 200 означает "не присылать повторно", 500 означает "повторить доставку".
type Dispatcher struct {
	orders        OrderMaterializer
	subscriptions SubscriptionReconciler
	notifier      PaymentNotifier
	ledger        EventLedger
	metrics       metrics.WebhookMetrics
	log           *logger.Logger
}

// NewDispatcher создает диспетчер событий. ledger может быть nil.
func NewDispatcher(
	orders OrderMaterializer,
	subscriptions SubscriptionReconciler,
	notifier PaymentNotifier,
	ledger EventLedger,
	m metrics.WebhookMetrics,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		orders:        orders,
		subscriptions: subscriptions,
		notifier:      notifier,
		ledger:        ledger,
		metrics:       m,
		log:           log,
	}
}

// Dispatch применяет событие и возвращает ответ
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) Ack {
	start := time.Now()
	log := d.log.With("eventID", ev.ID, "eventType", ev.RawType)

	if d.alreadyProcessed(ctx, ev, log) {
		d.metrics.ObserveEvent(ev.Type.String(), string(domain.OutcomeAlreadyProcessed), time.Since(start))
		return Ack{Status: http.StatusOK, Message: "event already processed"}
	}

	result, err := d.route(ctx, ev)
	switch {
	case err == nil:
		log.Infow("Event processed", "outcome", result.Outcome, "detail", result.Detail)
		d.record(ctx, ev, result.Outcome, result.Detail, log)
		d.metrics.ObserveEvent(ev.Type.String(), string(result.Outcome), time.Since(start))
		return Ack{Status: http.StatusOK, Message: ackMessage(result)}

	case domain.IsRejection(err):
		log.Warnw("Event payload rejected", "error", err)
		d.metrics.IncRejected("payload")
		return Ack{Status: http.StatusBadRequest, Message: err.Error()}

	case domain.IsBusinessError(err):
		log.Warnw("Event acknowledged without effect", "error", err)
		// неудачный запрос к платежной системе не фиксируется: повторная отправка
		// события из панели Stripe должна снова пройти обработку
		if !errors.Is(err, domain.ErrExternalServiceUnavailable) {
			d.record(ctx, ev, domain.OutcomeFailed, err.Error(), log)
		}
		d.metrics.ObserveEvent(ev.Type.String(), string(domain.OutcomeFailed), time.Since(start))
		return Ack{Status: http.StatusOK, Message: "event acknowledged: " + err.Error()}

	default:
		log.Errorw("Event processing failed, delivery will be retried", "error", err)
		d.metrics.ObserveEvent(ev.Type.String(), "error", time.Since(start))
		return Ack{Status: http.StatusInternalServerError, Message: "internal error, retry later"}
	}
}

func (d *Dispatcher) route(ctx context.Context, ev *Event) (reconcile.Result, error) {
	switch ev.Type {
	case EventCheckoutSessionCompleted:
		return d.checkoutCompleted(ctx, ev)

	case EventInvoicePaymentSucceeded:
		inv, err := ev.Invoice()
		if err != nil {
			return reconcile.Result{}, err
		}
		return d.orders.FromInvoice(ctx, reconcile.InvoicePayment{
			EventID:              ev.ID,
			InvoiceID:            inv.ID,
			StripeSubscriptionID: invoiceSubscriptionID(inv),
			AmountPaid:           inv.AmountPaid,
			Currency:             string(inv.Currency),
			BillingDate:          billingDate(inv, ev),
		})

	case EventInvoicePaymentFailed:
		inv, err := ev.Invoice()
		if err != nil {
			return reconcile.Result{}, err
		}
		f := reconcile.InvoiceFailure{
			EventID:              ev.ID,
			InvoiceID:            inv.ID,
			StripeSubscriptionID: invoiceSubscriptionID(inv),
			AmountDue:            inv.AmountDue,
			Currency:             string(inv.Currency),
			AttemptCount:         inv.AttemptCount,
		}
		if inv.Customer != nil {
			f.CustomerID = inv.Customer.ID
		}
		return d.notifier.PaymentFailed(ctx, f), nil

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return d.reconcileSubscription(ctx, ev, nil)

	case EventSubscriptionDeleted:
		status := domain.SubscriptionStatusCancelled
		return d.reconcileSubscription(ctx, ev, &status)

	case EventSubscriptionPaused:
		status := domain.SubscriptionStatusPaused
		return d.reconcileSubscription(ctx, ev, &status)

	case EventChargeRefunded:
		ch, err := ev.Charge()
		if err != nil {
			return reconcile.Result{}, err
		}
		r := reconcile.Refund{
			EventID:        ev.ID,
			ChargeID:       ch.ID,
			AmountRefunded: ch.AmountRefunded,
			Currency:       string(ch.Currency),
		}
		if ch.PaymentIntent != nil {
			r.PaymentIntentID = ch.PaymentIntent.ID
		}
		return d.notifier.Refunded(ctx, r), nil
	}

	return reconcile.Result{Outcome: domain.OutcomeIgnored, Detail: "unhandled event type " + ev.RawType}, nil
}

// checkoutCompleted создает заказ только для оплаченных (payment_status=paid)
// сессий в режиме payment. Сессии mode=subscription пропускаются: их заказ
// создается по invoice.payment_succeeded.
func (d *Dispatcher) checkoutCompleted(ctx context.Context, ev *Event) (reconcile.Result, error) {
	cs, err := ev.CheckoutSession()
	if err != nil {
		return reconcile.Result{}, err
	}

	// заказ по подписке создает invoice.payment_succeeded
	if cs.Mode == stripe.CheckoutSessionModeSubscription {
		return reconcile.Result{Outcome: domain.OutcomeIgnored, Detail: "subscription checkout is materialized from its invoice"}, nil
	}
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return reconcile.Result{Outcome: domain.OutcomeIgnored, Detail: "payment status " + string(cs.PaymentStatus)}, nil
	}

	return d.orders.FromCheckout(ctx, reconcile.CheckoutCompletion{
		EventID:     ev.ID,
		SessionID:   cs.ID,
		AmountTotal: cs.AmountTotal,
		Currency:    string(cs.Currency),
		Metadata:    cs.Metadata,
	})
}

func (d *Dispatcher) reconcileSubscription(ctx context.Context, ev *Event, force *domain.SubscriptionStatus) (reconcile.Result, error) {
	sub, err := ev.Subscription()
	if err != nil {
		return reconcile.Result{}, err
	}

	state := reconcile.SubscriptionState{
		EventID:              ev.ID,
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		Metadata:             sub.Metadata,
	}
	if sub.Customer != nil {
		state.CustomerID = sub.Customer.ID
	}
	return d.subscriptions.Reconcile(ctx, state, force)
}

// alreadyProcessed сверяется с журналом. Сбой чтения журнала не мешает обработке:
// повтор все равно остановят уникальные ограничения.
func (d *Dispatcher) alreadyProcessed(ctx context.Context, ev *Event, log *logger.Logger) bool {
	if d.ledger == nil || ev.ID == "" {
		return false
	}

	prev, err := d.ledger.Get(ctx, ev.ID)
	switch {
	case err == nil:
		log.Infow("Event already processed", "outcome", prev.Outcome, "processedAt", prev.ProcessedAt)
		return true
	case errors.Is(err, repository.ErrNotFound):
		return false
	default:
		log.Warnw("Failed to check event ledger", "error", err)
		return false
	}
}

func (d *Dispatcher) record(ctx context.Context, ev *Event, outcome domain.EventOutcome, detail string, log *logger.Logger) {
	if d.ledger == nil || ev.ID == "" {
		return
	}

	err := d.ledger.Record(ctx, &domain.ProcessedEvent{
		EventID:   ev.ID,
		EventType: ev.RawType,
		Outcome:   outcome,
		Detail:    detail,
	})
	if err != nil {
		log.Warnw("Failed to record processed event", "error", err, "outcome", outcome)
	}
}

func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Subscription == nil {
		return ""
	}
	return inv.Subscription.ID
}

// billingDate дата цикла: создание счета, иначе создание события
func billingDate(inv *stripe.Invoice, ev *Event) time.Time {
	if inv.Created > 0 {
		return domain.DateOf(time.Unix(inv.Created, 0))
	}
	return domain.DateOf(ev.Created)
}

func ackMessage(r reconcile.Result) string {
	if r.Detail == "" {
		return string(r.Outcome)
	}
	return string(r.Outcome) + ": " + r.Detail
}
