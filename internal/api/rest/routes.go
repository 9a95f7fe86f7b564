package rest

import (
	"github.com/Dhoini/payment-reconciler/internal/api/rest/handlers"
	"github.com/Dhoini/payment-reconciler/internal/api/rest/middleware"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps зависимости маршрутизатора
type RouterDeps struct {
	Log      *logger.Logger
	Registry *prometheus.Registry
	Auth     *middleware.JWTMiddleware
	Health   *handlers.HealthHandler
	Webhook  *handlers.WebhookHandler
	Account  *handlers.AccountHandler
	Admin    *handlers.AdminHandler
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.LoggerMiddleware(deps.Log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", deps.Health.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	// Вебхуки на корневом уровне роутера, без JWT: подлинность проверяется подписью
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", deps.Webhook.HandleStripeWebhook)
	}

	v1 := r.Group("/api/v1")
	v1.Use(deps.Auth.RequireAuth())
	{
		v1.GET("/orders", deps.Account.ListOrders)

		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.GET("", deps.Account.ListSubscriptions)
			subscriptions.GET("/:id/shipments", deps.Account.ListShipments)
			subscriptions.GET("/:id/skips", deps.Account.ListSkips)
			subscriptions.POST("/:id/skips", deps.Account.CreateSkip)
		}
	}

	admin := r.Group("/api/v1/admin")
	admin.Use(deps.Auth.RequireAuth(middleware.RoleAdmin))
	{
		admin.PATCH("/orders/:id/status", deps.Admin.UpdateOrderStatus)
		admin.PATCH("/subscription-orders/:id/shipment-status", deps.Admin.UpdateShipmentStatus)
		admin.GET("/events/:id", deps.Admin.GetEvent)
	}

	return r
}
