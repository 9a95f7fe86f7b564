package domain

import "github.com/shopspring/decimal"

// Product товар каталога; цена читается в момент формирования отгрузки
type Product struct {
	ID       int64           `db:"id"`
	Name     string          `db:"name"`
	Price    decimal.Decimal `db:"price"`
	Currency string          `db:"currency"`
	Active   bool            `db:"active"`
}
