package handlers

import (
	"errors"
	"log"
	"strings"

	"github.com/amirphl/Exchange-Bridge/app/dto"
	businessflow "github.com/amirphl/Exchange-Bridge/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// ExchangeHandlerInterface defines the visitor-facing exchange endpoints
type ExchangeHandlerInterface interface {
	Actions(c fiber.Ctx) error
	Quote(c fiber.Ctx) error
	SubmitOrder(c fiber.Ctx) error
	GetOrder(c fiber.Ctx) error
	ListRates(c fiber.Ctx) error
}

// ExchangeHandler implements ExchangeHandlerInterface
type ExchangeHandler struct {
	flow      businessflow.ExchangeFlow
	validator *validator.Validate
}

func NewExchangeHandler(flow businessflow.ExchangeFlow) ExchangeHandlerInterface {
	return &ExchangeHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

// ErrorResponse standard JSON error
func (h *ExchangeHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

// SuccessResponse standard JSON success
func (h *ExchangeHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Actions dispatches JSON actions. The only action is generate_id, which
// replies with {"success":true,"exchange_id":...,"timestamp":...,"date":...}.
// @Summary Exchange actions
// @Tags Exchange
// @Accept json
// @Produce json
// @Param request body dto.ExchangeActionRequest true "Action"
// @Success 200 {object} dto.GenerateReferenceResponse
// @Failure 400 {object} dto.APIResponse
// @Failure 429 {object} dto.APIResponse "Daily limit reached"
// @Router /api/v1/exchange/actions [post]
func (h *ExchangeHandler) Actions(c fiber.Ctx) error {
	var req dto.ExchangeActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Unknown action", "UNKNOWN_ACTION", validationMessages(err))
	}

	ctx, cancel := newRequestContext(c, "/api/v1/exchange/actions", defaultRequestTimeout)
	defer cancel()

	resp, err := h.flow.GenerateReferenceID(ctx)
	if err != nil {
		return h.flowError(c, err, "Failed to generate exchange id")
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// Quote prices an amount for a currency pair
// @Summary Quote exchange
// @Tags Exchange
// @Accept json
// @Produce json
// @Param request body dto.QuoteRequest true "Quote"
// @Success 200 {object} dto.APIResponse{data=dto.QuoteResponse}
// @Failure 400 {object} dto.APIResponse
// @Router /api/v1/exchange/quote [post]
func (h *ExchangeHandler) Quote(c fiber.Ctx) error {
	var req dto.QuoteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := newRequestContext(c, "/api/v1/exchange/quote", defaultRequestTimeout)
	defer cancel()

	resp, err := h.flow.QuoteExchange(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to quote exchange")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Quote calculated", resp)
}

// SubmitOrder stores a pending exchange order and returns the WhatsApp settlement link
// @Summary Submit exchange order
// @Tags Exchange
// @Accept json
// @Produce json
// @Param request body dto.SubmitExchangeRequest true "Order"
// @Success 201 {object} dto.APIResponse{data=dto.SubmitExchangeResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 429 {object} dto.APIResponse "Daily limit reached"
// @Router /api/v1/exchange/orders [post]
func (h *ExchangeHandler) SubmitOrder(c fiber.Ctx) error {
	var req dto.SubmitExchangeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := newRequestContext(c, "/api/v1/exchange/orders", defaultRequestTimeout)
	defer cancel()

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))

	resp, err := h.flow.SubmitExchange(ctx, &req, metadata)
	if err != nil {
		return h.flowError(c, err, "Failed to submit exchange order")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Exchange order submitted", resp)
}

// GetOrder returns the public status of an order
// @Summary Get exchange order
// @Tags Exchange
// @Produce json
// @Param reference path string true "Reference ID, e.g. EB-25053101"
// @Success 200 {object} dto.APIResponse{data=dto.ExchangeOrderDTO}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/exchange/orders/{reference} [get]
func (h *ExchangeHandler) GetOrder(c fiber.Ctx) error {
	reference := strings.ToUpper(strings.TrimSpace(c.Params("reference")))

	ctx, cancel := newRequestContext(c, "/api/v1/exchange/orders/:reference", defaultRequestTimeout)
	defer cancel()

	resp, err := h.flow.GetOrder(ctx, reference)
	if err != nil {
		return h.flowError(c, err, "Failed to get exchange order")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Exchange order retrieved", resp)
}

// ListRates returns the active exchange rates
// @Summary List exchange rates
// @Tags Exchange
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ListRatesResponse}
// @Router /api/v1/exchange/rates [get]
func (h *ExchangeHandler) ListRates(c fiber.Ctx) error {
	ctx, cancel := newRequestContext(c, "/api/v1/exchange/rates", defaultRequestTimeout)
	defer cancel()

	resp, err := h.flow.ListRates(ctx)
	if err != nil {
		return h.flowError(c, err, "Failed to list exchange rates")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Exchange rates retrieved", resp)
}

func (h *ExchangeHandler) flowError(c fiber.Ctx, err error, fallback string) error {
	code := businessflow.ErrorCode(err)
	switch {
	case businessflow.IsDailyLimitReached(err):
		return h.ErrorResponse(c, fiber.StatusTooManyRequests, "Daily order limit reached, please try again tomorrow", "DAILY_LIMIT_REACHED", nil)
	case businessflow.IsReferenceUnavailable(err):
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "No exchange id available right now, please retry shortly", "REFERENCE_UNAVAILABLE", nil)
	case businessflow.IsSameCurrencyPair(err),
		businessflow.IsRateNotFound(err),
		businessflow.IsRateInactive(err),
		businessflow.IsAmountOutOfRange(err),
		businessflow.IsInvalidReference(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, businessMessage(err), code, nil)
	case businessflow.IsOrderNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Exchange order not found", "ORDER_NOT_FOUND", nil)
	}

	log.Printf(`{"level":"error","event":"exchange_request_failed","path":"%s","request_id":"%s","error":%q}`, c.Path(), c.Get("X-Request-ID"), err.Error())
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallback, code, nil)
}

// businessMessage returns the user-facing message of a business error
func businessMessage(err error) string {
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
