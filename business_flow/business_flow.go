// Package businessflow contains the business logic for the application.
package businessflow

import (
	"strings"

	"github.com/amirphl/Exchange-Bridge/app/dto"
	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/utils"
)

// ClientMetadata holds client information attached to submitted orders for audit logging
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Additional: make(map[string]string),
	}
}

// AddAdditional adds additional custom information to the metadata
func (cm *ClientMetadata) AddAdditional(key, value string) {
	if cm.Additional == nil {
		cm.Additional = make(map[string]string)
	}
	cm.Additional[key] = value
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ToExchangeOrderDTO converts an order to its public view
func ToExchangeOrderDTO(order models.ExchangeOrder) dto.ExchangeOrderDTO {
	return dto.ExchangeOrderDTO{
		ReferenceID:     order.ReferenceID,
		UUID:            order.UUID.String(),
		SendCurrency:    order.SendCurrency,
		ReceiveCurrency: order.ReceiveCurrency,
		SendAmount:      order.SendAmount,
		ReceiveAmount:   order.ReceiveAmount,
		Rate:            order.Rate,
		Status:          string(order.Status),
		CreatedAt:       order.CreatedAt,
		SettledAt:       order.SettledAt,
	}
}

// ToOperatorOrderDTO converts an order to the operator view
func ToOperatorOrderDTO(order models.ExchangeOrder) dto.OperatorOrderDTO {
	return dto.OperatorOrderDTO{
		ExchangeOrderDTO:    ToExchangeOrderDTO(order),
		CustomerName:        order.CustomerName,
		CustomerContact:     order.CustomerContact,
		Note:                order.Note,
		IsFallbackReference: order.IsFallbackReference,
		SettledBy:           order.SettledBy,
	}
}

// ToExchangeRateDTO converts a rate model to its DTO
func ToExchangeRateDTO(rate models.ExchangeRate) dto.ExchangeRateDTO {
	return dto.ExchangeRateDTO{
		SendCurrency:    rate.SendCurrency,
		ReceiveCurrency: rate.ReceiveCurrency,
		Rate:            rate.Rate,
		MinAmount:       rate.MinAmount,
		MaxAmount:       rate.MaxAmount,
		IsActive:        utils.IsTrue(rate.IsActive),
		UpdatedAt:       rate.UpdatedAt,
	}
}

// ToOperatorDTO converts an operator model to its DTO
func ToOperatorDTO(operator models.Operator) dto.OperatorDTO {
	return dto.OperatorDTO{
		UUID:        operator.UUID.String(),
		Username:    operator.Username,
		LastLoginAt: operator.LastLoginAt,
	}
}
