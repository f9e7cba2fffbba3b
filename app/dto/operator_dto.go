package dto

import "time"

// OperatorLoginRequest represents operator credentials
type OperatorLoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// OperatorDTO is the operator profile returned after login
type OperatorDTO struct {
	UUID        string     `json:"uuid"`
	Username    string     `json:"username"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// OperatorLoginResponse carries the access token
type OperatorLoginResponse struct {
	Operator    OperatorDTO `json:"operator"`
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// OperatorListOrdersRequest filters the operator order list.
// Day is YYYY-MM-DD in the brokerage timezone; empty means today.
type OperatorListOrdersRequest struct {
	Day      string `query:"day" validate:"omitempty,datetime=2006-01-02"`
	Status   string `query:"status" validate:"omitempty,oneof=pending settled cancelled"`
	Page     int    `query:"page" validate:"omitempty,gte=1"`
	PageSize int    `query:"page_size" validate:"omitempty,gte=1,lte=200"`
}

// OperatorOrderDTO is the operator view of an order, including contact details
type OperatorOrderDTO struct {
	ExchangeOrderDTO
	CustomerName        string  `json:"customer_name"`
	CustomerContact     string  `json:"customer_contact"`
	Note                *string `json:"note,omitempty"`
	IsFallbackReference bool    `json:"is_fallback_reference"`
	SettledBy           *uint   `json:"settled_by,omitempty"`
}

// OperatorListOrdersResponse is one page of orders for a day
type OperatorListOrdersResponse struct {
	Day      string             `json:"day"`
	Orders   []OperatorOrderDTO `json:"orders"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

// UpdateOrderStatusRequest settles or cancels a pending order
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=settled cancelled"`
}

// SetRateRequest publishes or replaces the rate of a pair
type SetRateRequest struct {
	SendCurrency    string  `json:"send_currency" validate:"required,alpha,min=2,max=10"`
	ReceiveCurrency string  `json:"receive_currency" validate:"required,alpha,min=2,max=10"`
	Rate            float64 `json:"rate" validate:"required,gt=0"`
	MinAmount       float64 `json:"min_amount" validate:"gte=0"`
	MaxAmount       float64 `json:"max_amount" validate:"gte=0"`
	IsActive        *bool   `json:"is_active,omitempty"`
}
