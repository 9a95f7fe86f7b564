package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus статус подписки, повторяет словарь платежной системы
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPaused     SubscriptionStatus = "paused"
	SubscriptionStatusCancelled  SubscriptionStatus = "cancelled"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// SubscriptionStatusFromProvider переводит статус Stripe в локальный.
// Второе значение false, если статус неизвестен.
func SubscriptionStatusFromProvider(status string) (SubscriptionStatus, bool) {
	switch status {
	case "active", "trialing":
		return SubscriptionStatusActive, true
	case "paused":
		return SubscriptionStatusPaused, true
	case "canceled", "cancelled", "incomplete_expired":
		return SubscriptionStatusCancelled, true
	case "past_due", "unpaid":
		return SubscriptionStatusPastDue, true
	case "incomplete":
		return SubscriptionStatusIncomplete, true
	}
	return "", false
}

// Subscription локальная запись подписки
type Subscription struct {
	ID                   int64              `db:"id" json:"id"`
	UserID               int64              `db:"user_id" json:"user_id"`
	StripeSubscriptionID string             `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	StripeCustomerID     string             `db:"stripe_customer_id" json:"stripe_customer_id"`
	Status               SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodStart   *time.Time         `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	NextBillingDate      *time.Time         `db:"next_billing_date" json:"next_billing_date,omitempty"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updated_at"`
}

// ShipmentStatus статус отгрузки одного цикла подписки
type ShipmentStatus string

const (
	ShipmentStatusPending    ShipmentStatus = "pending"
	ShipmentStatusProcessing ShipmentStatus = "processing"
	ShipmentStatusShipped    ShipmentStatus = "shipped"
	ShipmentStatusDelivered  ShipmentStatus = "delivered"
	ShipmentStatusFailed     ShipmentStatus = "failed"
)

// SubscriptionOrder связывает подписку с заказом одного платежного цикла
type SubscriptionOrder struct {
	ID             int64           `db:"id" json:"id"`
	SubscriptionID int64           `db:"subscription_id" json:"subscription_id"`
	OrderID        int64           `db:"order_id" json:"order_id"`
	ProductID      int64           `db:"product_id" json:"product_id"`
	Quantity       int             `db:"quantity" json:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	ShipmentStatus ShipmentStatus  `db:"shipment_status" json:"shipment_status"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// SubscriptionSkip решение клиента пропустить отгрузку одного цикла
type SubscriptionSkip struct {
	ID             int64     `db:"id" json:"id"`
	SubscriptionID int64     `db:"subscription_id" json:"subscription_id"`
	SkipDate       time.Time `db:"skip_date" json:"skip_date"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// SkipRequest запрос на пропуск цикла (формат даты 2006-01-02)
type SkipRequest struct {
	SkipDate string `json:"skip_date" binding:"required,datetime=2006-01-02"`
}

// ShipmentStatusRequest запрос на изменение статуса отгрузки
type ShipmentStatusRequest struct {
	Status ShipmentStatus `json:"status" binding:"required,oneof=pending processing shipped delivered failed"`
}

// DateOf обрезает время до календарной даты в UTC
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Ключи метаданных, которые витрина передает в Stripe
const (
	MetadataUserID    = "user_id"
	MetadataAddressID = "address_id"
	MetadataProductID = "product_id"
	MetadataQuantity  = "quantity"
)

// SubscriptionSnapshot состояние подписки на стороне платежной системы
type SubscriptionSnapshot struct {
	ID                 string            `json:"id"`
	CustomerID         string            `json:"customer_id"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// MetadataID читает положительный числовой идентификатор из метаданных
func MetadataID(metadata map[string]string, key string) (int64, bool) {
	raw, ok := metadata[key]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
