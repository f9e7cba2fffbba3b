package models

import (
	"time"
)

// ExchangeRate is the operator-published price of one currency pair.
// Rate is the amount of ReceiveCurrency paid per unit of SendCurrency.
type ExchangeRate struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SendCurrency    string    `gorm:"type:varchar(10);not null;uniqueIndex:uk_exchange_rates_pair" json:"send_currency"`
	ReceiveCurrency string    `gorm:"type:varchar(10);not null;uniqueIndex:uk_exchange_rates_pair" json:"receive_currency"`
	Rate            float64   `gorm:"type:numeric(20,8);not null" json:"rate"`
	MinAmount       float64   `gorm:"type:numeric(20,4);not null;default:0" json:"min_amount"`
	MaxAmount       float64   `gorm:"type:numeric(20,4);not null;default:0" json:"max_amount"` // 0 means unbounded
	IsActive        *bool     `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }

// Accepts reports whether amount lies within the rate's bounds.
func (r *ExchangeRate) Accepts(amount float64) bool {
	if amount <= 0 || amount < r.MinAmount {
		return false
	}
	return r.MaxAmount <= 0 || amount <= r.MaxAmount
}

// Convert returns the receive amount for a send amount.
func (r *ExchangeRate) Convert(amount float64) float64 {
	return amount * r.Rate
}

// ExchangeRateFilter represents filter criteria for rate queries
type ExchangeRateFilter struct {
	ID              *uint
	SendCurrency    *string
	ReceiveCurrency *string
	IsActive        *bool
}
