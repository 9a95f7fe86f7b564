package stripe

import (
	"context"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// SnapshotCache хранилище снимков подписок (Redis)
type SnapshotCache interface {
	CacheSubscriptionSnapshot(ctx context.Context, snap *domain.SubscriptionSnapshot) error
	GetCachedSubscriptionSnapshot(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionSnapshot, error)
	DeleteCachedSubscriptionSnapshot(ctx context.Context, stripeSubscriptionID string) error
}

// CachedLookup реализует SubscriptionLookup с кешированием
type CachedLookup struct {
	next  SubscriptionLookup
	cache SnapshotCache
	log   *logger.Logger
}

// NewCachedLookup создает поиск подписок с кешем перед Stripe
func NewCachedLookup(next SubscriptionLookup, cache SnapshotCache, log *logger.Logger) *CachedLookup {
	return &CachedLookup{next: next, cache: cache, log: log}
}

// GetSubscription сначала смотрит в кеш, потом идет в Stripe
func (c *CachedLookup) GetSubscription(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionSnapshot, error) {
	cached, err := c.cache.GetCachedSubscriptionSnapshot(ctx, stripeSubscriptionID)
	if err != nil {
		// кеш недоступен, продолжаем без него
		c.log.Warnw("Error getting subscription snapshot from cache", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
	}
	if cached != nil {
		c.log.Debugw("Subscription snapshot found in cache", "stripeSubscriptionID", stripeSubscriptionID)
		return cached, nil
	}

	snap, err := c.next.GetSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	if err := c.cache.CacheSubscriptionSnapshot(ctx, snap); err != nil {
		c.log.Warnw("Failed to cache subscription snapshot", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
	}
	return snap, nil
}

// Invalidate удаляет снимок; вызывается при событиях жизненного цикла подписки
func (c *CachedLookup) Invalidate(ctx context.Context, stripeSubscriptionID string) {
	if err := c.cache.DeleteCachedSubscriptionSnapshot(ctx, stripeSubscriptionID); err != nil {
		c.log.Warnw("Failed to invalidate subscription snapshot", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
	}
}
