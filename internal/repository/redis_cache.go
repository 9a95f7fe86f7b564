package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Префикс ключей снимков подписок платежной системы
	subscriptionSnapshotKeyPrefix = "stripe_subscription:"

	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository кеширует снимки подписок Stripe, чтобы повторная доставка
// инвойса не ходила в API платежной системы
type RedisCacheRepository struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, ttl time.Duration, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return NewRedisCacheFromClient(client, ttl, log), nil
}

// NewRedisCacheFromClient оборачивает готовый клиент
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCacheRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCacheRepository{client: client, ttl: ttl, log: log}
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// Ping проверяет соединение
func (r *RedisCacheRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// CacheSubscriptionSnapshot кеширует снимок подписки
func (r *RedisCacheRepository) CacheSubscriptionSnapshot(ctx context.Context, snap *domain.SubscriptionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription snapshot: %w", err)
	}

	if err := r.client.Set(ctx, subscriptionSnapshotKeyPrefix+snap.ID, data, r.ttl).Err(); err != nil {
		r.log.Errorw("Failed to cache subscription snapshot in Redis", "error", err, "stripeSubscriptionID", snap.ID)
		return fmt.Errorf("failed to cache subscription snapshot: %w", err)
	}

	r.log.Debugw("Subscription snapshot cached", "stripeSubscriptionID", snap.ID)
	return nil
}

// GetCachedSubscriptionSnapshot возвращает снимок из кеша; (nil, nil) при промахе
func (r *RedisCacheRepository) GetCachedSubscriptionSnapshot(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionSnapshot, error) {
	data, err := r.client.Get(ctx, subscriptionSnapshotKeyPrefix+stripeSubscriptionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.log.Debugw("Subscription snapshot not found in cache", "stripeSubscriptionID", stripeSubscriptionID)
			return nil, nil
		}
		r.log.Errorw("Error getting subscription snapshot from Redis", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
		return nil, fmt.Errorf("failed to get subscription snapshot from cache: %w", err)
	}

	var snap domain.SubscriptionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached subscription snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteCachedSubscriptionSnapshot удаляет снимок из кеша
func (r *RedisCacheRepository) DeleteCachedSubscriptionSnapshot(ctx context.Context, stripeSubscriptionID string) error {
	if err := r.client.Del(ctx, subscriptionSnapshotKeyPrefix+stripeSubscriptionID).Err(); err != nil {
		r.log.Errorw("Failed to delete subscription snapshot from cache", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
		return fmt.Errorf("failed to delete subscription snapshot from cache: %w", err)
	}

	r.log.Debugw("Subscription snapshot deleted from cache", "stripeSubscriptionID", stripeSubscriptionID)
	return nil
}
