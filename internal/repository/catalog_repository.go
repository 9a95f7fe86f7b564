package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/Dhoini/payment-reconciler/internal/domain"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
)

// CatalogRepository доступ только на чтение к товарам и адресной книге магазина
type CatalogRepository interface {
	ProductByID(ctx context.Context, id int64) (*domain.Product, error)
	AddressByID(ctx context.Context, id int64) (*domain.Address, error)
	// DefaultAddress адрес по умолчанию, при его отсутствии последний добавленный
	DefaultAddress(ctx context.Context, userID int64) (*domain.Address, error)
}

const addressColumns = "id, user_id, line1, line2, city, state, postal_code, country, is_default"

type sqlCatalogRepo struct {
	store *Store
	log   *logger.Logger
}

// NewCatalogRepository создает репозиторий каталога
func NewCatalogRepository(store *Store, log *logger.Logger) CatalogRepository {
	return &sqlCatalogRepo{store: store, log: log}
}

func (r *sqlCatalogRepo) ProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	query := r.store.rebind("SELECT id, name, price, currency, active FROM products WHERE id = ?")

	if err := r.store.q(ctx).GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("product", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("repository: failed to get product: %w", err)
	}
	return &p, nil
}

func (r *sqlCatalogRepo) AddressByID(ctx context.Context, id int64) (*domain.Address, error) {
	return r.address(ctx, "SELECT "+addressColumns+" FROM addresses WHERE id = ?", id)
}

func (r *sqlCatalogRepo) DefaultAddress(ctx context.Context, userID int64) (*domain.Address, error) {
	return r.address(ctx, "SELECT "+addressColumns+" FROM addresses WHERE user_id = ? ORDER BY is_default DESC, id DESC LIMIT 1", userID)
}

func (r *sqlCatalogRepo) address(ctx context.Context, query string, arg int64) (*domain.Address, error) {
	var a domain.Address
	if err := r.store.q(ctx).GetContext(ctx, &a, r.store.rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("address", strconv.FormatInt(arg, 10))
		}
		r.log.Errorw("Failed to get address", "error", err, "key", arg)
		return nil, fmt.Errorf("repository: failed to get address: %w", err)
	}
	return &a, nil
}
