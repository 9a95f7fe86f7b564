package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/api/rest/middleware"
	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/Dhoini/payment-reconciler/pkg/req"
	"github.com/gin-gonic/gin"
)

// AccountHandler маршруты покупателя: заказы, подписки, пропуски отгрузок
type AccountHandler struct {
	orders        repository.OrderRepository
	subscriptions repository.SubscriptionRepository
	shipments     repository.SubscriptionOrderRepository
	skips         repository.SkipRepository
	now           func() time.Time
	log           *logger.Logger
}

// NewAccountHandler создает обработчик маршрутов покупателя
func NewAccountHandler(
	orders repository.OrderRepository,
	subscriptions repository.SubscriptionRepository,
	shipments repository.SubscriptionOrderRepository,
	skips repository.SkipRepository,
	log *logger.Logger,
) *AccountHandler {
	return &AccountHandler{
		orders:        orders,
		subscriptions: subscriptions,
		shipments:     shipments,
		skips:         skips,
		now:           time.Now,
		log:           log,
	}
}

// ListOrders возвращает заказы текущего пользователя
func (h *AccountHandler) ListOrders(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, domain.ErrUnauthenticated)
		return
	}

	orders, err := h.orders.ListByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// ListSubscriptions возвращает подписки текущего пользователя
func (h *AccountHandler) ListSubscriptions(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, domain.ErrUnauthenticated)
		return
	}

	subs, err := h.subscriptions.ListByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// ListShipments возвращает циклы отгрузки подписки
func (h *AccountHandler) ListShipments(c *gin.Context) {
	sub, ok := h.ownedSubscription(c)
	if !ok {
		return
	}

	shipments, err := h.shipments.ListBySubscription(c.Request.Context(), sub.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipments": shipments})
}

// CreateSkip просит не отгружать цикл на указанную дату. Отмены пропуска нет.
func (h *AccountHandler) CreateSkip(c *gin.Context) {
	sub, ok := h.ownedSubscription(c)
	if !ok {
		return
	}

	body, err := req.HandleBody[domain.SkipRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	date, err := time.Parse(time.DateOnly, body.SkipDate)
	if err != nil {
		respondError(c, h.log, fmt.Errorf("%w: skip_date", domain.ErrInvalidInput))
		return
	}
	if date.Before(domain.DateOf(h.now())) {
		respondError(c, h.log, fmt.Errorf("%w: skip_date is in the past", domain.ErrInvalidInput))
		return
	}

	skip := &domain.SubscriptionSkip{SubscriptionID: sub.ID, SkipDate: date}
	if err := h.skips.Create(c.Request.Context(), skip); err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Infow("Shipment skip recorded", "subscriptionID", sub.ID, "skipDate", body.SkipDate, "userID", sub.UserID)
	c.JSON(http.StatusCreated, skip)
}

// ListSkips возвращает пропуски подписки
func (h *AccountHandler) ListSkips(c *gin.Context) {
	sub, ok := h.ownedSubscription(c)
	if !ok {
		return
	}

	skips, err := h.skips.ListBySubscription(c.Request.Context(), sub.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skips": skips})
}

// ownedSubscription загружает подписку из пути; чужая подписка выглядит как отсутствующая
func (h *AccountHandler) ownedSubscription(c *gin.Context) (*domain.Subscription, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, h.log, domain.ErrUnauthenticated)
		return nil, false
	}

	id, err := pathID(c)
	if err != nil {
		respondError(c, h.log, err)
		return nil, false
	}

	sub, err := h.subscriptions.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return nil, false
	}
	if sub.UserID != userID {
		respondError(c, h.log, errors.Join(domain.ErrNotFound, fmt.Errorf("subscription %d is owned by another user", id)))
		return nil, false
	}
	return sub, true
}
