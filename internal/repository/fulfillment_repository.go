package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// SubscriptionOrderRepository хранилище циклов отгрузки подписки
type SubscriptionOrderRepository interface {
	Create(ctx context.Context, so *domain.SubscriptionOrder) error
	GetByID(ctx context.Context, id int64) (*domain.SubscriptionOrder, error)
	ListBySubscription(ctx context.Context, subscriptionID int64) ([]domain.SubscriptionOrder, error)
	UpdateShipmentStatus(ctx context.Context, id int64, status domain.ShipmentStatus) error
}

// SkipRepository хранилище пропусков. Только добавление.
type SkipRepository interface {
	// Create добавляет пропуск. Повтор даты дает ErrDuplicate.
	Create(ctx context.Context, skip *domain.SubscriptionSkip) error
	IsSkipped(ctx context.Context, subscriptionID int64, date time.Time) (bool, error)
	ListBySubscription(ctx context.Context, subscriptionID int64) ([]domain.SubscriptionSkip, error)
}

const subscriptionOrderColumns = `id, subscription_id, order_id, product_id, quantity, unit_price,
	shipment_status, created_at, updated_at`

type sqlSubscriptionOrderRepo struct {
	store *Store
	log   *logger.Logger
}

// NewSubscriptionOrderRepository создает репозиторий циклов отгрузки
func NewSubscriptionOrderRepository(store *Store, log *logger.Logger) SubscriptionOrderRepository {
	return &sqlSubscriptionOrderRepo{store: store, log: log}
}

func (r *sqlSubscriptionOrderRepo) Create(ctx context.Context, so *domain.SubscriptionOrder) error {
	now := time.Now().UTC()
	so.CreatedAt = now
	so.UpdatedAt = now
	if so.ShipmentStatus == "" {
		so.ShipmentStatus = domain.ShipmentStatusPending
	}

	query := r.store.rebind(`
		INSERT INTO subscription_orders (subscription_id, order_id, product_id, quantity, unit_price,
			shipment_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := r.store.q(ctx).QueryRowxContext(ctx, query,
		so.SubscriptionID, so.OrderID, so.ProductID, so.Quantity, so.UnitPrice,
		so.ShipmentStatus, so.CreatedAt, so.UpdatedAt,
	).Scan(&so.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.log.Errorw("Failed to create subscription order", "error", err, "subscriptionID", so.SubscriptionID, "orderID", so.OrderID)
		return fmt.Errorf("repository: failed to create subscription order: %w", err)
	}
	return nil
}

func (r *sqlSubscriptionOrderRepo) GetByID(ctx context.Context, id int64) (*domain.SubscriptionOrder, error) {
	var so domain.SubscriptionOrder
	query := r.store.rebind("SELECT " + subscriptionOrderColumns + " FROM subscription_orders WHERE id = ?")

	if err := r.store.q(ctx).GetContext(ctx, &so, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("subscription order", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("repository: failed to get subscription order: %w", err)
	}
	return &so, nil
}

func (r *sqlSubscriptionOrderRepo) ListBySubscription(ctx context.Context, subscriptionID int64) ([]domain.SubscriptionOrder, error) {
	items := []domain.SubscriptionOrder{}
	query := r.store.rebind("SELECT " + subscriptionOrderColumns + " FROM subscription_orders WHERE subscription_id = ? ORDER BY id DESC")

	if err := r.store.q(ctx).SelectContext(ctx, &items, query, subscriptionID); err != nil {
		return nil, fmt.Errorf("repository: failed to list subscription orders: %w", err)
	}
	return items, nil
}

func (r *sqlSubscriptionOrderRepo) UpdateShipmentStatus(ctx context.Context, id int64, status domain.ShipmentStatus) error {
	query := r.store.rebind("UPDATE subscription_orders SET shipment_status = ?, updated_at = ? WHERE id = ?")

	res, err := r.store.q(ctx).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		r.log.Errorw("Failed to update shipment status", "error", err, "subscriptionOrderID", id)
		return fmt.Errorf("repository: failed to update shipment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("subscription order", strconv.FormatInt(id, 10))
	}

	r.log.Infow("Shipment status updated", "subscriptionOrderID", id, "status", status)
	return nil
}

type sqlSkipRepo struct {
	store *Store
	log   *logger.Logger
}

// NewSkipRepository создает репозиторий пропусков
func NewSkipRepository(store *Store, log *logger.Logger) SkipRepository {
	return &sqlSkipRepo{store: store, log: log}
}

func (r *sqlSkipRepo) Create(ctx context.Context, skip *domain.SubscriptionSkip) error {
	skip.SkipDate = domain.DateOf(skip.SkipDate)
	skip.CreatedAt = time.Now().UTC()

	query := r.store.rebind(`
		INSERT INTO subscription_skips (subscription_id, skip_date, created_at)
		VALUES (?, ?, ?)
		RETURNING id`)

	err := r.store.q(ctx).QueryRowxContext(ctx, query, skip.SubscriptionID, skip.SkipDate, skip.CreatedAt).Scan(&skip.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.log.Errorw("Failed to create subscription skip", "error", err, "subscriptionID", skip.SubscriptionID)
		return fmt.Errorf("repository: failed to create skip: %w", err)
	}

	r.log.Infow("Subscription cycle skipped", "subscriptionID", skip.SubscriptionID, "skipDate", skip.SkipDate.Format(time.DateOnly))
	return nil
}

func (r *sqlSkipRepo) IsSkipped(ctx context.Context, subscriptionID int64, date time.Time) (bool, error) {
	var n int
	query := r.store.rebind("SELECT COUNT(*) FROM subscription_skips WHERE subscription_id = ? AND skip_date = ?")

	if err := r.store.q(ctx).GetContext(ctx, &n, query, subscriptionID, domain.DateOf(date)); err != nil {
		return false, fmt.Errorf("repository: failed to check skip: %w", err)
	}
	return n > 0, nil
}

func (r *sqlSkipRepo) ListBySubscription(ctx context.Context, subscriptionID int64) ([]domain.SubscriptionSkip, error) {
	skips := []domain.SubscriptionSkip{}
	query := r.store.rebind(`SELECT id, subscription_id, skip_date, created_at
		FROM subscription_skips WHERE subscription_id = ? ORDER BY skip_date`)

	if err := r.store.q(ctx).SelectContext(ctx, &skips, query, subscriptionID); err != nil {
		return nil, fmt.Errorf("repository: failed to list skips: %w", err)
	}
	return skips, nil
}
