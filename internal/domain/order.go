package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus статус заказа
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус входит в перечисление
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Order представляет заказ, созданный по событию платежной системы
type Order struct {
	ID              int64            `db:"id" json:"id"`
	UserID          int64            `db:"user_id" json:"user_id"`
	TotalAmount     decimal.Decimal  `db:"total_amount" json:"total_amount"`
	Currency        string           `db:"currency" json:"currency"`
	Status          OrderStatus      `db:"status" json:"status"`
	StripeSessionID *string          `db:"stripe_session_id" json:"stripe_session_id,omitempty"`
	StripeInvoiceID *string          `db:"stripe_invoice_id" json:"stripe_invoice_id,omitempty"`
	ShippingAddress *ShippingAddress `db:"shipping_address" json:"shipping_address,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// AmountFromMinorUnits переводит сумму в центах (как ее присылает Stripe) в десятичную
func AmountFromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// OrderStatusRequest запрос на явное изменение статуса заказа
type OrderStatusRequest struct {
	Status OrderStatus `json:"status" binding:"required,oneof=pending paid failed shipped delivered cancelled"`
}
