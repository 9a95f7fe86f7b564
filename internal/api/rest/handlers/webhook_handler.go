package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/payment-reconciler/internal/webhook"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/Dhoini/payment-reconciler/pkg/res"
	"github.com/gin-gonic/gin"
)

// DeliveryHandler обрабатывает одну доставку вебхука
type DeliveryHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) webhook.Ack
}

// WebhookHandler обработчик для вебхуков Stripe
type WebhookHandler struct {
	endpoint DeliveryHandler
	log      *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(endpoint DeliveryHandler, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{endpoint: endpoint, log: log}
}

// HandleStripeWebhook читает сырое тело (подпись проверяется по байтам) и передает его дальше
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, webhook.MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.Warnw("Webhook body too large", "limit", webhook.MaxPayloadBytes)
			res.JsonResponse(c.Writer, res.MessageResponse{Message: "payload too large"}, http.StatusRequestEntityTooLarge)
			return
		}
		h.log.Errorw("Failed to read webhook body", "error", err)
		res.JsonResponse(c.Writer, res.MessageResponse{Message: "failed to read body"}, http.StatusBadRequest)
		return
	}

	ack := h.endpoint.Handle(c.Request.Context(), body, c.GetHeader(webhook.SignatureHeader))
	res.JsonResponse(c.Writer, res.MessageResponse{Message: ack.Message}, ack.Status)
}
