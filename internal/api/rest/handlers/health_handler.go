package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Pinger проверка доступности зависимости
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler обработчик проверки работоспособности сервиса
type HealthHandler struct {
	store Pinger
	log   *logger.Logger
}

// NewHealthHandler создает обработчик проверки работоспособности
func NewHealthHandler(store Pinger, log *logger.Logger) *HealthHandler {
	return &HealthHandler{store: store, log: log}
}

// HealthCheck отвечает 200, если хранилище доступно
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Errorw("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "UNAVAILABLE",
			"time":   time.Now().Format(time.RFC3339),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "OK",
		"time":   time.Now().Format(time.RFC3339),
	})
}
