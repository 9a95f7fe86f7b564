package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/metrics"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// MaxPayloadBytes предел тела запроса вебхука
const MaxPayloadBytes = 65536

// Endpoint проверка подписи, разбор и диспетчеризация одной доставки
type Endpoint struct {
	verifier   *Verifier
	dispatcher *Dispatcher
	metrics    metrics.WebhookMetrics
	log        *logger.Logger
}

// NewEndpoint собирает обработку доставки
func NewEndpoint(verifier *Verifier, dispatcher *Dispatcher, m metrics.WebhookMetrics, log *logger.Logger) *Endpoint {
	return &Endpoint{verifier: verifier, dispatcher: dispatcher, metrics: m, log: log}
}

// Handle обрабатывает сырое тело и значение заголовка Stripe-Signature
func (e *Endpoint) Handle(ctx context.Context, payload []byte, signature string) Ack {
	if err := e.verifier.Verify(payload, signature); err != nil {
		reason := rejectionReason(err)
		e.log.Warnw("Webhook signature rejected", "error", err, "reason", reason)
		e.metrics.IncRejected(reason)
		return Ack{Status: http.StatusBadRequest, Message: "signature verification failed"}
	}

	ev, err := Parse(payload)
	if err != nil {
		e.log.Warnw("Webhook payload rejected", "error", err)
		e.metrics.IncRejected("payload")
		return Ack{Status: http.StatusBadRequest, Message: err.Error()}
	}

	return e.dispatcher.Dispatch(ctx, ev)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedSignatureHeader):
		return "malformed_header"
	case errors.Is(err, domain.ErrSignatureExpired):
		return "expired"
	case errors.Is(err, domain.ErrSignatureMismatch):
		return "signature_mismatch"
	}
	return "unknown"
}
