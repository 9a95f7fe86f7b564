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

// OrderRepository хранилище заказов
type OrderRepository interface {
	// Create вставляет заказ. Повтор session/invoice id дает ErrDuplicate.
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.Order, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.Order, error)
	ExistsBySessionID(ctx context.Context, sessionID string) (bool, error)
	ExistsByInvoiceID(ctx context.Context, invoiceID string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error
}

const orderColumns = `id, user_id, total_amount, currency, status, stripe_session_id,
	stripe_invoice_id, shipping_address, created_at, updated_at`

type sqlOrderRepo struct {
	store *Store
	log   *logger.Logger
}

// NewOrderRepository создает репозиторий заказов
func NewOrderRepository(store *Store, log *logger.Logger) OrderRepository {
	return &sqlOrderRepo{store: store, log: log}
}

func (r *sqlOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.Currency == "" {
		order.Currency = "usd"
	}

	query := r.store.rebind(`
		INSERT INTO orders (user_id, total_amount, currency, status, stripe_session_id,
			stripe_invoice_id, shipping_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	var address interface{}
	if order.ShippingAddress != nil {
		address = *order.ShippingAddress
	}

	err := r.store.q(ctx).QueryRowxContext(ctx, query,
		order.UserID, order.TotalAmount, order.Currency, order.Status, order.StripeSessionID,
		order.StripeInvoiceID, address, order.CreatedAt, order.UpdatedAt,
	).Scan(&order.ID)
	if err != nil {
		if isUniqueViolation(err) {
			r.log.Debugw("Order already exists", "sessionID", order.StripeSessionID, "invoiceID", order.StripeInvoiceID)
			return ErrDuplicate
		}
		r.log.Errorw("Failed to create order", "error", err, "userID", order.UserID)
		return fmt.Errorf("repository: failed to create order: %w", err)
	}

	r.log.Debugw("Order created", "orderID", order.ID, "userID", order.UserID)
	return nil
}

func (r *sqlOrderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *sqlOrderRepo) GetBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	return r.getOne(ctx, "stripe_session_id = ?", sessionID)
}

func (r *sqlOrderRepo) GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.Order, error) {
	return r.getOne(ctx, "stripe_invoice_id = ?", invoiceID)
}

func (r *sqlOrderRepo) getOne(ctx context.Context, where string, arg interface{}) (*domain.Order, error) {
	var order domain.Order
	query := r.store.rebind("SELECT " + orderColumns + " FROM orders WHERE " + where)

	if err := r.store.q(ctx).GetContext(ctx, &order, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("order", fmt.Sprint(arg))
		}
		return nil, fmt.Errorf("repository: failed to get order: %w", err)
	}
	return &order, nil
}

func (r *sqlOrderRepo) ExistsBySessionID(ctx context.Context, sessionID string) (bool, error) {
	return r.exists(ctx, "stripe_session_id = ?", sessionID)
}

func (r *sqlOrderRepo) ExistsByInvoiceID(ctx context.Context, invoiceID string) (bool, error) {
	return r.exists(ctx, "stripe_invoice_id = ?", invoiceID)
}

func (r *sqlOrderRepo) exists(ctx context.Context, where string, arg interface{}) (bool, error) {
	var n int
	query := r.store.rebind("SELECT COUNT(*) FROM orders WHERE " + where)
	if err := r.store.q(ctx).GetContext(ctx, &n, query, arg); err != nil {
		return false, fmt.Errorf("repository: failed to check order: %w", err)
	}
	return n > 0, nil
}

func (r *sqlOrderRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	orders := []domain.Order{}
	query := r.store.rebind("SELECT " + orderColumns + " FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC")

	if err := r.store.q(ctx).SelectContext(ctx, &orders, query, userID); err != nil {
		r.log.Errorw("Failed to list orders", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to list orders: %w", err)
	}
	return orders, nil
}

func (r *sqlOrderRepo) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	query := r.store.rebind("UPDATE orders SET status = ?, updated_at = ? WHERE id = ?")

	res, err := r.store.q(ctx).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		r.log.Errorw("Failed to update order status", "error", err, "orderID", id)
		return fmt.Errorf("repository: failed to update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("order", strconv.FormatInt(id, 10))
	}

	r.log.Infow("Order status updated", "orderID", id, "status", status)
	return nil
}
