package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Address адрес пользователя из адресной книги магазина (только чтение)
type Address struct {
	ID         int64  `db:"id"`
	UserID     int64  `db:"user_id"`
	Line1      string `db:"line1"`
	Line2      string `db:"line2"`
	City       string `db:"city"`
	State      string `db:"state"`
	PostalCode string `db:"postal_code"`
	Country    string `db:"country"`
	IsDefault  bool   `db:"is_default"`
}

// ShippingAddress неизменяемый снимок адреса, сохраненный в заказе
type ShippingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Snapshot создает снимок адреса для заказа
func (a Address) Snapshot() *ShippingAddress {
	return &ShippingAddress{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// Value сериализует снимок в JSON для колонки shipping_address
func (s ShippingAddress) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal shipping address: %w", err)
	}
	return string(data), nil
}

// Scan читает снимок из JSON колонки
func (s *ShippingAddress) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("shipping address: unsupported column type %T", src)
	}
	return json.Unmarshal(data, s)
}
