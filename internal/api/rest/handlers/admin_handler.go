package handlers

import (
	"fmt"
	"net/http"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/gin-gonic/gin"
)

// AdminHandler явные операции изменения статусов и просмотр журнала событий
type AdminHandler struct {
	orders    repository.OrderRepository
	shipments repository.SubscriptionOrderRepository
	events    repository.EventRepository
	log       *logger.Logger
}

// NewAdminHandler создает обработчик административных маршрутов
func NewAdminHandler(
	orders repository.OrderRepository,
	shipments repository.SubscriptionOrderRepository,
	events repository.EventRepository,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{orders: orders, shipments: shipments, events: events, log: log}
}

// UpdateOrderStatus меняет статус заказа
func (h *AdminHandler) UpdateOrderStatus(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	var body domain.OrderStatusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, h.log, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	if err := h.orders.UpdateStatus(c.Request.Context(), id, body.Status); err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Infow("Order status updated by admin", "orderID", id, "status", body.Status)
	c.JSON(http.StatusOK, gin.H{"id": id, "status": body.Status})
}

// UpdateShipmentStatus меняет статус отгрузки цикла подписки
func (h *AdminHandler) UpdateShipmentStatus(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	var body domain.ShipmentStatusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, h.log, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	if err := h.shipments.UpdateShipmentStatus(c.Request.Context(), id, body.Status); err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Infow("Shipment status updated by admin", "subscriptionOrderID", id, "status", body.Status)
	c.JSON(http.StatusOK, gin.H{"id": id, "shipment_status": body.Status})
}

// GetEvent возвращает запись журнала обработанных событий
func (h *AdminHandler) GetEvent(c *gin.Context) {
	ev, err := h.events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}
