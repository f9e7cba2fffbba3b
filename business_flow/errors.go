// Package businessflow contains the core business logic and use cases of the exchange brokerage
package businessflow

import (
	"errors"
	"fmt"

	"github.com/amirphl/Exchange-Bridge/sequence"
)

// Business flow error constants
var (
	// Reference allocation errors
	ErrDailyLimitReached    = errors.New("daily reference limit reached")
	ErrReferenceUnavailable = errors.New("reference allocation unavailable")
	ErrInvalidReference     = errors.New("invalid reference identifier")

	// Rate and quote errors
	ErrRateNotFound      = errors.New("exchange rate not found")
	ErrRateInactive      = errors.New("exchange rate is inactive")
	ErrAmountOutOfRange  = errors.New("amount is out of the allowed range")
	ErrSameCurrencyPair  = errors.New("send and receive currencies must differ")
	ErrInvalidRate       = errors.New("rate must be positive")
	ErrInvalidRateBounds = errors.New("max amount must not be lower than min amount")

	// Order errors
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is no longer pending")
	ErrInvalidStatus   = errors.New("invalid order status")
	ErrInvalidDay      = errors.New("invalid day, expected YYYY-MM-DD")

	// Operator errors
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrOperatorInactive   = errors.New("operator is inactive")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// ErrorCode returns the business code carried by err, or "" if none.
func ErrorCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func IsDailyLimitReached(err error) bool {
	return errors.Is(err, ErrDailyLimitReached) || sequence.IsDailyLimitReached(err)
}

func IsReferenceUnavailable(err error) bool {
	return errors.Is(err, ErrReferenceUnavailable) || sequence.IsExhausted(err)
}

func IsInvalidReference(err error) bool {
	return errors.Is(err, ErrInvalidReference)
}

func IsRateNotFound(err error) bool {
	return errors.Is(err, ErrRateNotFound)
}

func IsRateInactive(err error) bool {
	return errors.Is(err, ErrRateInactive)
}

func IsAmountOutOfRange(err error) bool {
	return errors.Is(err, ErrAmountOutOfRange)
}

func IsSameCurrencyPair(err error) bool {
	return errors.Is(err, ErrSameCurrencyPair)
}

func IsInvalidRate(err error) bool {
	return errors.Is(err, ErrInvalidRate)
}

func IsInvalidRateBounds(err error) bool {
	return errors.Is(err, ErrInvalidRateBounds)
}

func IsOrderNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

func IsOrderNotPending(err error) bool {
	return errors.Is(err, ErrOrderNotPending)
}

func IsInvalidStatus(err error) bool {
	return errors.Is(err, ErrInvalidStatus)
}

func IsInvalidDay(err error) bool {
	return errors.Is(err, ErrInvalidDay)
}

func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

func IsOperatorInactive(err error) bool {
	return errors.Is(err, ErrOperatorInactive)
}
