package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// Category вид записи, уникальной по внешнему идентификатору
type Category string

const (
	OrderBySession   Category = "order_by_session"
	OrderByInvoice   Category = "order_by_invoice"
	SubscriptionByID Category = "subscription_by_id"
)

// Guard отвечает на вопрос "уже применено?".
// Seen лишь оптимизация: от гонки защищает уникальное ограничение в базе,
// а Absorb переводит его нарушение в OutcomeAlreadyProcessed.
type Guard struct {
	orders        repository.OrderRepository
	subscriptions repository.SubscriptionRepository
	log           *logger.Logger
}

// NewGuard создает защиту от повторного применения
func NewGuard(orders repository.OrderRepository, subscriptions repository.SubscriptionRepository, log *logger.Logger) *Guard {
	return &Guard{orders: orders, subscriptions: subscriptions, log: log}
}

// Seen проверяет наличие записи по внешнему идентификатору
func (g *Guard) Seen(ctx context.Context, category Category, externalID string) (bool, error) {
	switch category {
	case OrderBySession:
		return g.orders.ExistsBySessionID(ctx, externalID)
	case OrderByInvoice:
		return g.orders.ExistsByInvoiceID(ctx, externalID)
	case SubscriptionByID:
		_, err := g.subscriptions.GetByStripeID(ctx, externalID)
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
	return false, fmt.Errorf("guard: unknown category %q", category)
}

// Absorb классифицирует результат вставки. Только нарушение уникальности
// становится OutcomeAlreadyProcessed; прочие ошибки возвращаются как есть.
func (g *Guard) Absorb(category Category, externalID string, err error) (domain.EventOutcome, error) {
	switch {
	case err == nil:
		return domain.OutcomeApplied, nil
	case errors.Is(err, repository.ErrDuplicate):
		g.log.Infow("Concurrent duplicate absorbed by unique constraint", "category", category, "externalID", externalID)
		return domain.OutcomeAlreadyProcessed, nil
	default:
		return "", err
	}
}
