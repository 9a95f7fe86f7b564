package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/stripe/stripe-go/v78"
)

// EventType закрытое перечисление обрабатываемых типов событий
type EventType int

const (
	EventUnknown EventType = iota
	EventCheckoutSessionCompleted
	EventInvoicePaymentSucceeded
	EventInvoicePaymentFailed
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventSubscriptionPaused
	EventChargeRefunded
)

var eventTypeNames = map[EventType]string{
	EventCheckoutSessionCompleted: "checkout.session.completed",
	EventInvoicePaymentSucceeded:  "invoice.payment_succeeded",
	EventInvoicePaymentFailed:     "invoice.payment_failed",
	EventSubscriptionCreated:      "customer.subscription.created",
	EventSubscriptionUpdated:      "customer.subscription.updated",
	EventSubscriptionDeleted:      "customer.subscription.deleted",
	EventSubscriptionPaused:       "customer.subscription.paused",
	EventChargeRefunded:           "charge.refunded",
}

var eventTypesByName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventTypeNames))
	for t, name := range eventTypeNames {
		m[name] = t
	}
	return m
}()

// ParseEventType переводит строку Stripe в перечисление; незнакомое значение дает EventUnknown
func ParseEventType(s string) EventType {
	if t, ok := eventTypesByName[s]; ok {
		return t
	}
	return EventUnknown
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event проверенное событие Stripe
type Event struct {
	ID   string
	Type EventType
	// RawType исходная строка типа, в том числе для неизвестных событий
	RawType string
	Created time.Time
	object  json.RawMessage
}

// Parse разбирает конверт события. Незнакомый type ошибкой не является.
func Parse(raw []byte) (*Event, error) {
	var envelope stripe.Event
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	rawType := string(envelope.Type)
	if rawType == "" {
		return nil, fmt.Errorf("%w: type is missing", domain.ErrInvalidPayload)
	}
	if envelope.Data == nil || len(envelope.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: data.object is missing", domain.ErrInvalidPayload)
	}

	ev := &Event{
		ID:      envelope.ID,
		Type:    ParseEventType(rawType),
		RawType: rawType,
		object:  envelope.Data.Raw,
	}
	if envelope.Created > 0 {
		ev.Created = time.Unix(envelope.Created, 0).UTC()
	}
	return ev, nil
}

// CheckoutSession декодирует data.object как сессию оплаты
func (e *Event) CheckoutSession() (*stripe.CheckoutSession, error) {
	var cs stripe.CheckoutSession
	if err := e.decode(&cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// Invoice декодирует data.object как счет
func (e *Event) Invoice() (*stripe.Invoice, error) {
	var inv stripe.Invoice
	if err := e.decode(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Subscription декодирует data.object как подписку
func (e *Event) Subscription() (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := e.decode(&sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Charge декодирует data.object как платеж
func (e *Event) Charge() (*stripe.Charge, error) {
	var ch stripe.Charge
	if err := e.decode(&ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (e *Event) decode(dst interface{}) error {
	if err := json.Unmarshal(e.object, dst); err != nil {
		return fmt.Errorf("%w: %s object: %v", domain.ErrInvalidPayload, e.RawType, err)
	}
	return nil
}
