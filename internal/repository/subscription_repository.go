package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// SubscriptionRepository хранилище локальных подписок
type SubscriptionRepository interface {
	// Create вставляет подписку. Повтор внешнего id дает ErrDuplicate.
	Create(ctx context.Context, sub *domain.Subscription) error

	// Update перезаписывает статус и платежный период по внешнему id
	Update(ctx context.Context, sub *domain.Subscription) error

	GetByID(ctx context.Context, id int64) (*domain.Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Subscription, error)
}

const subscriptionColumns = `id, user_id, stripe_subscription_id, stripe_customer_id, status,
	current_period_start, current_period_end, next_billing_date, created_at, updated_at`

type sqlSubscriptionRepo struct {
	store *Store
	log   *logger.Logger
}

// NewSubscriptionRepository создает репозиторий подписок
func NewSubscriptionRepository(store *Store, log *logger.Logger) SubscriptionRepository {
	return &sqlSubscriptionRepo{store: store, log: log}
}

func (r *sqlSubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	query := r.store.rebind(`
		INSERT INTO subscriptions (user_id, stripe_subscription_id, stripe_customer_id, status,
			current_period_start, current_period_end, next_billing_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := r.store.q(ctx).QueryRowxContext(ctx, query,
		sub.UserID, sub.StripeSubscriptionID, sub.StripeCustomerID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextBillingDate, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&sub.ID)
	if err != nil {
		if isUniqueViolation(err) {
			r.log.Debugw("Subscription already exists", "stripeSubscriptionID", sub.StripeSubscriptionID)
			return ErrDuplicate
		}
		r.log.Errorw("Failed to create subscription in DB", "error", err, "stripeSubscriptionID", sub.StripeSubscriptionID, "userID", sub.UserID)
		return fmt.Errorf("repository: failed to create subscription: %w", err)
	}

	r.log.Debugw("Successfully created subscription in DB", "subscriptionID", sub.ID, "stripeSubscriptionID", sub.StripeSubscriptionID)
	return nil
}

func (r *sqlSubscriptionRepo) Update(ctx context.Context, sub *domain.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()

	query := r.store.rebind(`
		UPDATE subscriptions
		SET stripe_customer_id = ?, status = ?, current_period_start = ?, current_period_end = ?,
			next_billing_date = ?, updated_at = ?
		WHERE stripe_subscription_id = ?`)

	res, err := r.store.q(ctx).ExecContext(ctx, query,
		sub.StripeCustomerID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.NextBillingDate, sub.UpdatedAt, sub.StripeSubscriptionID,
	)
	if err != nil {
		r.log.Errorw("Failed to update subscription in DB", "error", err, "stripeSubscriptionID", sub.StripeSubscriptionID)
		return fmt.Errorf("repository: failed to update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("subscription", sub.StripeSubscriptionID)
	}

	r.log.Debugw("Successfully updated subscription in DB", "stripeSubscriptionID", sub.StripeSubscriptionID, "status", sub.Status)
	return nil
}

func (r *sqlSubscriptionRepo) GetByID(ctx context.Context, id int64) (*domain.Subscription, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *sqlSubscriptionRepo) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	return r.getOne(ctx, "stripe_subscription_id = ?", stripeSubscriptionID)
}

func (r *sqlSubscriptionRepo) getOne(ctx context.Context, where string, arg interface{}) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := r.store.rebind("SELECT " + subscriptionColumns + " FROM subscriptions WHERE " + where)

	if err := r.store.q(ctx).GetContext(ctx, &sub, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("subscription", fmt.Sprint(arg))
		}
		r.log.Errorw("Failed to get subscription from DB", "error", err, "key", arg)
		return nil, fmt.Errorf("repository: failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *sqlSubscriptionRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := r.store.rebind("SELECT " + subscriptionColumns + " FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC, id DESC")

	if err := r.store.q(ctx).SelectContext(ctx, &subs, query, userID); err != nil {
		r.log.Errorw("Failed to get subscriptions by user ID from DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to get subscriptions by user ID: %w", err)
	}
	return subs, nil
}
