package dto

import "time"

// ExchangeActionRequest is the body of POST /api/v1/exchange/actions
type ExchangeActionRequest struct {
	Action string `json:"action" validate:"required,oneof=generate_id"`
}

// GenerateReferenceResponse is returned as-is (not wrapped in APIResponse) by the actions endpoint
type GenerateReferenceResponse struct {
	Success    bool   `json:"success"`
	ExchangeID string `json:"exchange_id"`
	Timestamp  int64  `json:"timestamp"`
	Date       string `json:"date"`
	Fallback   bool   `json:"-"`
}

// QuoteRequest asks for the receive amount of a pair
type QuoteRequest struct {
	SendCurrency    string  `json:"send_currency" validate:"required,alpha,min=2,max=10"`
	ReceiveCurrency string  `json:"receive_currency" validate:"required,alpha,min=2,max=10"`
	SendAmount      float64 `json:"send_amount" validate:"required,gt=0"`
}

// QuoteResponse is the priced answer to a QuoteRequest
type QuoteResponse struct {
	SendCurrency    string    `json:"send_currency"`
	ReceiveCurrency string    `json:"receive_currency"`
	SendAmount      float64   `json:"send_amount"`
	ReceiveAmount   float64   `json:"receive_amount"`
	Rate            float64   `json:"rate"`
	MinAmount       float64   `json:"min_amount"`
	MaxAmount       float64   `json:"max_amount,omitempty"`
	RateUpdatedAt   time.Time `json:"rate_updated_at"`
}

// SubmitExchangeRequest creates an exchange order.
// ReferenceID optionally carries an identifier pre-fetched through the actions endpoint.
type SubmitExchangeRequest struct {
	SendCurrency    string  `json:"send_currency" validate:"required,alpha,min=2,max=10"`
	ReceiveCurrency string  `json:"receive_currency" validate:"required,alpha,min=2,max=10"`
	SendAmount      float64 `json:"send_amount" validate:"required,gt=0"`
	CustomerName    string  `json:"customer_name" validate:"required,min=2,max=255"`
	CustomerContact string  `json:"customer_contact" validate:"required,min=5,max=64"`
	Note            *string `json:"note,omitempty" validate:"omitempty,max=1000"`
	ReferenceID     string  `json:"reference_id,omitempty" validate:"omitempty,len=11"`
}

// SubmitExchangeResponse carries the stored order and the settlement link
type SubmitExchangeResponse struct {
	Order       ExchangeOrderDTO `json:"order"`
	WhatsAppURL string           `json:"whatsapp_url,omitempty"`
}

// ExchangeOrderDTO is the public view of an order
type ExchangeOrderDTO struct {
	ReferenceID     string     `json:"reference_id"`
	UUID            string     `json:"uuid"`
	SendCurrency    string     `json:"send_currency"`
	ReceiveCurrency string     `json:"receive_currency"`
	SendAmount      float64    `json:"send_amount"`
	ReceiveAmount   float64    `json:"receive_amount"`
	Rate            float64    `json:"rate"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
}

// ExchangeRateDTO is a published rate
type ExchangeRateDTO struct {
	SendCurrency    string    `json:"send_currency"`
	ReceiveCurrency string    `json:"receive_currency"`
	Rate            float64   `json:"rate"`
	MinAmount       float64   `json:"min_amount"`
	MaxAmount       float64   `json:"max_amount,omitempty"`
	IsActive        bool      `json:"is_active"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ListRatesResponse lists active rates
type ListRatesResponse struct {
	Rates []ExchangeRateDTO `json:"rates"`
}
