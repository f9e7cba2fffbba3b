package businessflow

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/Exchange-Bridge/app/dto"
	"github.com/amirphl/Exchange-Bridge/app/services"
	"github.com/amirphl/Exchange-Bridge/config"
	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/repository"
	"github.com/amirphl/Exchange-Bridge/sequence"
	"github.com/amirphl/Exchange-Bridge/utils"
	"github.com/redis/go-redis/v9"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultOrdersPageSize = 50
	maxOrdersPageSize     = 200
)

// OperatorFlow handles the settlement desk: login, order status and rates
type OperatorFlow interface {
	Login(ctx context.Context, req *dto.OperatorLoginRequest, metadata *ClientMetadata) (*dto.OperatorLoginResponse, error)
	ListOrders(ctx context.Context, req *dto.OperatorListOrdersRequest) (*dto.OperatorListOrdersResponse, error)
	UpdateOrderStatus(ctx context.Context, operatorID uint, referenceID string, req *dto.UpdateOrderStatusRequest) (*dto.OperatorOrderDTO, error)
	SetRate(ctx context.Context, req *dto.SetRateRequest) (*dto.ExchangeRateDTO, error)
	ExportDay(ctx context.Context, day string) (string, []byte, error)
}

// OperatorFlowImpl implements OperatorFlow
type OperatorFlowImpl struct {
	operatorRepo   repository.OperatorRepository
	orderRepo      repository.ExchangeOrderRepository
	rateRepo       repository.ExchangeRateRepository
	tokenService   services.TokenService
	rc             *redis.Client
	cacheConfig    *config.CacheConfig
	exchangeConfig *config.ExchangeConfig
	clock          sequence.Clock
}

func NewOperatorFlow(
	operatorRepo repository.OperatorRepository,
	orderRepo repository.ExchangeOrderRepository,
	rateRepo repository.ExchangeRateRepository,
	tokenService services.TokenService,
	rc *redis.Client,
	cacheConfig *config.CacheConfig,
	exchangeConfig *config.ExchangeConfig,
	clock sequence.Clock,
) OperatorFlow {
	return &OperatorFlowImpl{
		operatorRepo:   operatorRepo,
		orderRepo:      orderRepo,
		rateRepo:       rateRepo,
		tokenService:   tokenService,
		rc:             rc,
		cacheConfig:    cacheConfig,
		exchangeConfig: exchangeConfig,
		clock:          clock,
	}
}

var (
	placeholderHashOnce sync.Once
	placeholderHash     []byte
)

func placeholderPasswordHash() []byte {
	placeholderHashOnce.Do(func() {
		placeholderHash, _ = bcrypt.GenerateFromPassword([]byte("exchange-bridge-placeholder"), bcrypt.DefaultCost)
	})
	return placeholderHash
}

func (f *OperatorFlowImpl) Login(ctx context.Context, req *dto.OperatorLoginRequest, metadata *ClientMetadata) (*dto.OperatorLoginResponse, error) {
	if req == nil || len(req.Username) == 0 || len(req.Password) == 0 {
		return nil, NewBusinessError("OPERATOR_LOGIN_VALIDATION_FAILED", "Operator login validation failed", ErrInvalidCredentials)
	}

	operator, err := f.operatorRepo.ByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		return nil, NewBusinessError("OPERATOR_LOOKUP_FAILED", "Failed to lookup operator", err)
	}

	// Unknown usernames are compared against a placeholder hash as well
	hash := placeholderPasswordHash()
	if operator != nil {
		hash = []byte(operator.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); err != nil || operator == nil {
		return nil, NewBusinessError("INVALID_CREDENTIALS", "Invalid username or password", ErrInvalidCredentials)
	}
	if !utils.IsTrue(operator.IsActive) {
		return nil, NewBusinessError("OPERATOR_INACTIVE", "Operator account is inactive", ErrOperatorInactive)
	}

	accessToken, expiresAt, err := f.tokenService.GenerateOperatorToken(operator.ID)
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to generate token", err)
	}

	now := utils.UTCNow()
	if err := f.operatorRepo.UpdateLastLogin(ctx, operator.ID, now); err != nil {
		// login still succeeds; the timestamp is informational
		log.Printf(`{"level":"warn","event":"operator_last_login_failed","operator_id":%d,"error":%q}`, operator.ID, err.Error())
	} else {
		operator.LastLoginAt = &now
	}

	ip := ""
	if metadata != nil {
		ip = metadata.IPAddress
	}
	log.Printf(`{"level":"info","event":"operator_login","operator_id":%d,"ip":"%s"}`, operator.ID, ip)

	return &dto.OperatorLoginResponse{
		Operator:    ToOperatorDTO(*operator),
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	}, nil
}

func (f *OperatorFlowImpl) ListOrders(ctx context.Context, req *dto.OperatorListOrdersRequest) (*dto.OperatorListOrdersResponse, error) {
	if req == nil {
		req = &dto.OperatorListOrdersRequest{}
	}
	day, refPrefix, err := f.resolveDay(req.Day)
	if err != nil {
		return nil, err
	}

	filter := models.ExchangeOrderFilter{ReferencePrefix: &refPrefix}
	if req.Status != "" {
		status := models.ExchangeOrderStatus(req.Status)
		if !status.Valid() {
			return nil, NewBusinessErrorf("INVALID_STATUS", "Unknown status %q", ErrInvalidStatus, req.Status)
		}
		filter.Status = &status
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = defaultOrdersPageSize
	}
	if pageSize > maxOrdersPageSize {
		pageSize = maxOrdersPageSize
	}

	total, err := f.orderRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_ORDERS_FAILED", "Failed to count orders", err)
	}
	orders, err := f.orderRepo.ByFilter(ctx, filter, "reference_id ASC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LIST_ORDERS_FAILED", "Failed to list orders", err)
	}

	out := &dto.OperatorListOrdersResponse{
		Day:      day,
		Orders:   make([]dto.OperatorOrderDTO, 0, len(orders)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for _, o := range orders {
		out.Orders = append(out.Orders, ToOperatorOrderDTO(*o))
	}
	return out, nil
}

func (f *OperatorFlowImpl) UpdateOrderStatus(ctx context.Context, operatorID uint, referenceID string, req *dto.UpdateOrderStatusRequest) (*dto.OperatorOrderDTO, error) {
	if req == nil {
		return nil, NewBusinessError("INVALID_STATUS", "Status is required", ErrInvalidStatus)
	}
	status := models.ExchangeOrderStatus(req.Status)
	if !status.IsFinal() {
		return nil, NewBusinessErrorf("INVALID_STATUS", "Status must be settled or cancelled, got %q", ErrInvalidStatus, req.Status)
	}
	if !sequence.IsValidIdentifier(referenceID) {
		return nil, NewBusinessError("INVALID_REFERENCE", "Reference identifier is malformed", ErrInvalidReference)
	}

	order, err := f.orderRepo.ByReferenceID(ctx, referenceID)
	if err != nil {
		return nil, NewBusinessError("ORDER_LOOKUP_FAILED", "Failed to lookup order", err)
	}
	if order == nil {
		return nil, NewBusinessError("ORDER_NOT_FOUND", "Order not found", ErrOrderNotFound)
	}
	if order.Status != models.ExchangeOrderStatusPending {
		return nil, NewBusinessErrorf("ORDER_NOT_PENDING", "Order is already %s", ErrOrderNotPending, order.Status)
	}

	now := utils.UTCNow()
	updated, err := f.orderRepo.UpdateStatus(ctx, referenceID, status, &operatorID, now)
	if err != nil {
		return nil, NewBusinessError("ORDER_UPDATE_FAILED", "Failed to update order status", err)
	}
	if !updated {
		// lost a race with another operator
		return nil, NewBusinessError("ORDER_NOT_PENDING", "Order is no longer pending", ErrOrderNotPending)
	}

	log.Printf(`{"level":"info","event":"order_status_changed","reference_id":"%s","status":"%s","operator_id":%d}`, referenceID, status, operatorID)

	order.Status = status
	order.UpdatedAt = now
	if status == models.ExchangeOrderStatusSettled {
		order.SettledBy = &operatorID
		order.SettledAt = &now
	}
	out := ToOperatorOrderDTO(*order)
	return &out, nil
}

func (f *OperatorFlowImpl) SetRate(ctx context.Context, req *dto.SetRateRequest) (*dto.ExchangeRateDTO, error) {
	if req == nil {
		return nil, NewBusinessError("INVALID_RATE", "Rate is required", ErrInvalidRate)
	}
	send, receive := normalizeCurrency(req.SendCurrency), normalizeCurrency(req.ReceiveCurrency)
	if send == receive {
		return nil, NewBusinessError("SAME_CURRENCY_PAIR", "Send and receive currencies must differ", ErrSameCurrencyPair)
	}
	if req.Rate <= 0 {
		return nil, NewBusinessError("INVALID_RATE", "Rate must be positive", ErrInvalidRate)
	}
	if req.MinAmount < 0 || req.MaxAmount < 0 || (req.MaxAmount > 0 && req.MaxAmount < req.MinAmount) {
		return nil, NewBusinessError("INVALID_RATE_BOUNDS", "Max amount must not be lower than min amount", ErrInvalidRateBounds)
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	now := utils.UTCNow()
	rate := &models.ExchangeRate{
		SendCurrency:    send,
		ReceiveCurrency: receive,
		Rate:            req.Rate,
		MinAmount:       req.MinAmount,
		MaxAmount:       req.MaxAmount,
		IsActive:        &isActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := f.rateRepo.Upsert(ctx, rate); err != nil {
		return nil, NewBusinessError("SET_RATE_FAILED", "Failed to store exchange rate", err)
	}

	if f.rc != nil {
		cacheKey := rateCacheKey(f.cacheConfig, send, receive)
		if err := f.rc.Del(ctx, cacheKey).Err(); err != nil {
			log.Printf(`{"level":"warn","event":"rate_cache_invalidate_failed","key":"%s","error":%q}`, cacheKey, err.Error())
		}
	}

	log.Printf(`{"level":"info","event":"rate_published","pair":"%s/%s","rate":%s,"active":%t}`, send, receive, formatAmount(req.Rate), isActive)

	out := ToExchangeRateDTO(*rate)
	return &out, nil
}

// ExportDay renders every order of a day into a single-sheet workbook
func (f *OperatorFlowImpl) ExportDay(ctx context.Context, day string) (string, []byte, error) {
	isoDay, refPrefix, err := f.resolveDay(day)
	if err != nil {
		return "", nil, err
	}

	orders, err := f.orderRepo.ByFilter(ctx, models.ExchangeOrderFilter{ReferencePrefix: &refPrefix}, "reference_id ASC", 0, 0)
	if err != nil {
		return "", nil, NewBusinessError("FETCH_ORDERS_FAILED", "Failed to fetch orders for export", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := utils.ExportSheetName
	xl.SetSheetName(xl.GetSheetName(0), sheet)

	header := []string{"reference_id", "status", "send_currency", "send_amount", "receive_currency", "receive_amount", "rate", "customer_name", "customer_contact", "note", "fallback_reference", "settled_by", "settled_at", "created_at"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	for ri, o := range orders {
		note := ""
		if o.Note != nil {
			note = *o.Note
		}
		settledBy := ""
		if o.SettledBy != nil {
			settledBy = strconv.FormatUint(uint64(*o.SettledBy), 10)
		}
		settledAt := ""
		if o.SettledAt != nil {
			settledAt = o.SettledAt.UTC().Format(time.RFC3339)
		}
		record := []any{
			o.ReferenceID,
			string(o.Status),
			o.SendCurrency,
			o.SendAmount,
			o.ReceiveCurrency,
			o.ReceiveAmount,
			o.Rate,
			o.CustomerName,
			o.CustomerContact,
			note,
			o.IsFallbackReference,
			settledBy,
			settledAt,
			o.CreatedAt.UTC().Format(time.RFC3339),
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, ri+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("exchange_orders_%s.xlsx", isoDay)
	return filename, buf.Bytes(), nil
}

// resolveDay parses YYYY-MM-DD (today when empty) and returns it together
// with the reference prefix shared by that day's identifiers.
func (f *OperatorFlowImpl) resolveDay(day string) (string, string, error) {
	now := f.clock.Now()
	t := now
	if day = strings.TrimSpace(day); day != "" {
		parsed, err := time.ParseInLocation(utils.ISODateLayout, day, now.Location())
		if err != nil {
			return "", "", NewBusinessErrorf("INVALID_DAY", "Invalid day %q, expected YYYY-MM-DD", ErrInvalidDay, day)
		}
		t = parsed
	}
	refPrefix := f.exchangeConfig.ReferencePrefix + "-" + sequence.DayKey(t)
	return t.Format(utils.ISODateLayout), refPrefix, nil
}
