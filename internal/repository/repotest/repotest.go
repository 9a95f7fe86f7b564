// Package repotest поднимает изолированное SQLite хранилище для тестов.
package repotest

import (
	"context"
	"testing"

	"github.com/Dhoini/payment-reconciler/internal/repository"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// NewStore открывает in-memory базу со схемой и закрывает ее после теста
func NewStore(t testing.TB) *repository.Store {
	t.Helper()

	store, err := repository.OpenSQLite(context.Background(), ":memory:", logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// SeedProduct добавляет товар в каталог
func SeedProduct(t testing.TB, store *repository.Store, name string, price string) int64 {
	t.Helper()

	var id int64
	err := store.DB().QueryRowx(
		store.DB().Rebind("INSERT INTO products (name, price, currency, active) VALUES (?, ?, 'usd', 1) RETURNING id"),
		name, decimal.RequireFromString(price),
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// SeedAddress добавляет адрес пользователя
func SeedAddress(t testing.TB, store *repository.Store, userID int64, line1, city string, isDefault bool) int64 {
	t.Helper()

	var id int64
	err := store.DB().QueryRowx(
		store.DB().Rebind(`INSERT INTO addresses (user_id, line1, line2, city, state, postal_code, country, is_default)
			VALUES (?, ?, '', ?, 'IL', '62701', 'US', ?) RETURNING id`),
		userID, line1, city, isDefault,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// SeedAddressWithID добавляет адрес с заданным идентификатором
func SeedAddressWithID(t testing.TB, store *repository.Store, id, userID int64, line1, city string) {
	t.Helper()

	_, err := store.DB().Exec(
		store.DB().Rebind(`INSERT INTO addresses (id, user_id, line1, line2, city, state, postal_code, country, is_default)
			VALUES (?, ?, ?, '', ?, 'IL', '62701', 'US', 0)`),
		id, userID, line1, city,
	)
	require.NoError(t, err)
}

// Count возвращает число строк таблицы
func Count(t testing.TB, store *repository.Store, table string) int {
	t.Helper()

	var n int
	require.NoError(t, store.DB().Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}
