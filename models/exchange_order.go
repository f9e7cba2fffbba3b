// Package models contains domain entities for the exchange brokerage
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/Exchange-Bridge/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExchangeOrderStatus represents where an order is in its off-platform settlement.
type ExchangeOrderStatus string

const (
	ExchangeOrderStatusPending   ExchangeOrderStatus = "pending"   // Waiting for the operator
	ExchangeOrderStatusSettled   ExchangeOrderStatus = "settled"   // Settled over WhatsApp
	ExchangeOrderStatusCancelled ExchangeOrderStatus = "cancelled" // Abandoned or refused
)

// Valid checks if the status is valid.
func (s ExchangeOrderStatus) Valid() bool {
	switch s {
	case ExchangeOrderStatusPending,
		ExchangeOrderStatusSettled,
		ExchangeOrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsFinal reports whether no further transition is allowed.
func (s ExchangeOrderStatus) IsFinal() bool {
	return s == ExchangeOrderStatusSettled || s == ExchangeOrderStatusCancelled
}

// Scan implements the sql.Scanner interface for ExchangeOrderStatus.
func (s *ExchangeOrderStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = ExchangeOrderStatus(v)
	case []byte:
		*s = ExchangeOrderStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ExchangeOrderStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ExchangeOrderStatus.
func (s ExchangeOrderStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ExchangeOrderStatus: %s", s)
	}
	return string(s), nil
}

// ExchangeOrder is a visitor's request to swap one currency for another.
// Settlement happens off-platform; the order only tracks the agreement.
type ExchangeOrder struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID        uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	ReferenceID string    `gorm:"type:varchar(11);uniqueIndex:uk_exchange_orders_reference_id;not null" json:"reference_id"`

	SendCurrency    string  `gorm:"type:varchar(10);not null;index:idx_exchange_orders_pair" json:"send_currency"`
	ReceiveCurrency string  `gorm:"type:varchar(10);not null;index:idx_exchange_orders_pair" json:"receive_currency"`
	SendAmount      float64 `gorm:"type:numeric(20,4);not null" json:"send_amount"`
	ReceiveAmount   float64 `gorm:"type:numeric(20,4);not null" json:"receive_amount"`
	Rate            float64 `gorm:"type:numeric(20,8);not null" json:"rate"`

	CustomerName    string  `gorm:"type:varchar(255);not null" json:"customer_name"`
	CustomerContact string  `gorm:"type:varchar(64);not null" json:"customer_contact"`
	Note            *string `gorm:"type:text" json:"note,omitempty"`

	Status              ExchangeOrderStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	IsFallbackReference bool                `gorm:"not null;default:false" json:"is_fallback_reference"`
	SettledBy           *uint               `gorm:"index" json:"settled_by,omitempty"`
	SettledAt           *time.Time          `json:"settled_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (ExchangeOrder) TableName() string { return "exchange_orders" }

// BeforeCreate ensures UUID and timestamps are set
func (o *ExchangeOrder) BeforeCreate(tx *gorm.DB) error {
	if o.UUID == uuid.Nil {
		o.UUID = uuid.New()
	}
	if o.Status == "" {
		o.Status = ExchangeOrderStatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = utils.UTCNow()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = utils.UTCNow()
	}
	return nil
}

// Pair returns the order's currency pair as SEND/RECEIVE.
func (o *ExchangeOrder) Pair() string {
	return o.SendCurrency + "/" + o.ReceiveCurrency
}

// ExchangeOrderFilter represents filter criteria for order queries
type ExchangeOrderFilter struct {
	ID                  *uint                `json:"id,omitempty"`
	UUID                *uuid.UUID           `json:"uuid,omitempty"`
	ReferenceID         *string              `json:"reference_id,omitempty"`
	ReferencePrefix     *string              `json:"reference_prefix,omitempty"` // e.g. "EB-250531"
	SendCurrency        *string              `json:"send_currency,omitempty"`
	ReceiveCurrency     *string              `json:"receive_currency,omitempty"`
	Status              *ExchangeOrderStatus `json:"status,omitempty"`
	IsFallbackReference *bool                `json:"is_fallback_reference,omitempty"`
	CreatedAfter        *time.Time           `json:"created_after,omitempty"`
	CreatedBefore       *time.Time           `json:"created_before,omitempty"`
}
