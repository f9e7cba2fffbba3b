package handlers

import (
	"context"
	"log"
	"strings"

	"github.com/amirphl/Exchange-Bridge/app/dto"
	"github.com/amirphl/Exchange-Bridge/app/middleware"
	businessflow "github.com/amirphl/Exchange-Bridge/business_flow"
	"github.com/amirphl/Exchange-Bridge/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// OperatorHandlerInterface defines the settlement desk endpoints
type OperatorHandlerInterface interface {
	Login(c fiber.Ctx) error
	ListOrders(c fiber.Ctx) error
	UpdateOrderStatus(c fiber.Ctx) error
	SetRate(c fiber.Ctx) error
	ExportDay(c fiber.Ctx) error
}

// OperatorHandler implements OperatorHandlerInterface
type OperatorHandler struct {
	flow      businessflow.OperatorFlow
	validator *validator.Validate
}

func NewOperatorHandler(flow businessflow.OperatorFlow) OperatorHandlerInterface {
	return &OperatorHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

// ErrorResponse standard JSON error
func (h *OperatorHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
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
func (h *OperatorHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Login authenticates an operator with username and password
// @Summary Operator login
// @Tags Operator
// @Accept json
// @Produce json
// @Param request body dto.OperatorLoginRequest true "Credentials"
// @Success 200 {object} dto.APIResponse{data=dto.OperatorLoginResponse}
// @Failure 401 {object} dto.APIResponse
// @Failure 403 {object} dto.APIResponse "Operator inactive"
// @Router /api/v1/operator/auth/login [post]
func (h *OperatorHandler) Login(c fiber.Ctx) error {
	var req dto.OperatorLoginRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := newRequestContext(c, "/api/v1/operator/auth/login", defaultRequestTimeout)
	defer cancel()

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	resp, err := h.flow.Login(ctx, &req, metadata)
	if err != nil {
		switch {
		case businessflow.IsOperatorInactive(err):
			return h.ErrorResponse(c, fiber.StatusForbidden, "Operator inactive", "OPERATOR_INACTIVE", nil)
		case businessflow.IsInvalidCredentials(err):
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid username or password", "INVALID_CREDENTIALS", nil)
		}
		log.Println("Operator login failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Login failed", "LOGIN_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Login successful", resp)
}

// ListOrders lists the orders of a day
// @Summary Operator list orders
// @Tags Operator
// @Produce json
// @Security BearerAuth
// @Param day query string false "Day as YYYY-MM-DD, defaults to today"
// @Param status query string false "pending, settled or cancelled"
// @Param page query int false "Page, starting at 1"
// @Param page_size query int false "Page size, at most 200"
// @Success 200 {object} dto.APIResponse{data=dto.OperatorListOrdersResponse}
// @Router /api/v1/operator/orders [get]
func (h *OperatorHandler) ListOrders(c fiber.Ctx) error {
	var req dto.OperatorListOrdersRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := h.operatorContext(c, "/api/v1/operator/orders")
	defer cancel()

	resp, err := h.flow.ListOrders(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to list orders")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Orders retrieved", resp)
}

// UpdateOrderStatus settles or cancels a pending order
// @Summary Operator update order status
// @Tags Operator
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param reference path string true "Reference ID"
// @Param request body dto.UpdateOrderStatusRequest true "New status"
// @Success 200 {object} dto.APIResponse{data=dto.OperatorOrderDTO}
// @Failure 404 {object} dto.APIResponse
// @Failure 409 {object} dto.APIResponse "Order is not pending"
// @Router /api/v1/operator/orders/{reference}/status [put]
func (h *OperatorHandler) UpdateOrderStatus(c fiber.Ctx) error {
	operatorID, ok := middleware.OperatorID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Operator not authenticated", "UNAUTHORIZED", nil)
	}

	var req dto.UpdateOrderStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	reference := strings.ToUpper(strings.TrimSpace(c.Params("reference")))

	ctx, cancel := h.operatorContext(c, "/api/v1/operator/orders/:reference/status")
	defer cancel()

	resp, err := h.flow.UpdateOrderStatus(ctx, operatorID, reference, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to update order status")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Order status updated", resp)
}

// SetRate publishes the rate of a currency pair
// @Summary Operator set rate
// @Tags Operator
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.SetRateRequest true "Rate"
// @Success 200 {object} dto.APIResponse{data=dto.ExchangeRateDTO}
// @Router /api/v1/operator/rates [put]
func (h *OperatorHandler) SetRate(c fiber.Ctx) error {
	var req dto.SetRateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := h.operatorContext(c, "/api/v1/operator/rates")
	defer cancel()

	resp, err := h.flow.SetRate(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to set rate")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Rate published", resp)
}

// ExportDay downloads the orders of a day as an Excel workbook
// @Summary Operator export day
// @Tags Operator
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param day query string false "Day as YYYY-MM-DD, defaults to today"
// @Success 200 {file} file "Excel file"
// @Router /api/v1/operator/orders/export [get]
func (h *OperatorHandler) ExportDay(c fiber.Ctx) error {
	ctx, cancel := h.operatorContext(c, "/api/v1/operator/orders/export")
	defer cancel()

	filename, data, err := h.flow.ExportDay(ctx, c.Query("day"))
	if err != nil {
		return h.flowError(c, err, "Failed to export orders")
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

func (h *OperatorHandler) operatorContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	ctx, cancel := newRequestContext(c, endpoint, defaultRequestTimeout)
	if operatorID, ok := middleware.OperatorID(c); ok {
		ctx = context.WithValue(ctx, utils.OperatorIDKey, operatorID)
	}
	return ctx, cancel
}

func (h *OperatorHandler) flowError(c fiber.Ctx, err error, fallback string) error {
	code := businessflow.ErrorCode(err)
	switch {
	case businessflow.IsInvalidDay(err),
		businessflow.IsInvalidStatus(err),
		businessflow.IsInvalidReference(err),
		businessflow.IsInvalidRate(err),
		businessflow.IsInvalidRateBounds(err),
		businessflow.IsSameCurrencyPair(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, businessMessage(err), code, nil)
	case businessflow.IsOrderNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Order not found", "ORDER_NOT_FOUND", nil)
	case businessflow.IsOrderNotPending(err):
		return h.ErrorResponse(c, fiber.StatusConflict, businessMessage(err), "ORDER_NOT_PENDING", nil)
	}

	log.Printf(`{"level":"error","event":"operator_request_failed","path":"%s","request_id":"%s","error":%q}`, c.Path(), c.Get("X-Request-ID"), err.Error())
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallback, code, nil)
}
