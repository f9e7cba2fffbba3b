package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/Exchange-Bridge/app/dto"
	"github.com/amirphl/Exchange-Bridge/config"
	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/repository"
	"github.com/amirphl/Exchange-Bridge/sequence"
	"github.com/amirphl/Exchange-Bridge/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ReferenceAllocator issues daily reference identifiers
type ReferenceAllocator interface {
	Allocate(ctx context.Context, prefix string) (*sequence.Identifier, error)
	Committed(ctx context.Context, id *sequence.Identifier) (bool, error)
}

const defaultFallbackMarkTTL = 48 * time.Hour

// ExchangeFlow handles the visitor-facing exchange use cases
type ExchangeFlow interface {
	GenerateReferenceID(ctx context.Context) (*dto.GenerateReferenceResponse, error)
	QuoteExchange(ctx context.Context, req *dto.QuoteRequest) (*dto.QuoteResponse, error)
	SubmitExchange(ctx context.Context, req *dto.SubmitExchangeRequest, metadata *ClientMetadata) (*dto.SubmitExchangeResponse, error)
	GetOrder(ctx context.Context, referenceID string) (*dto.ExchangeOrderDTO, error)
	ListRates(ctx context.Context) (*dto.ListRatesResponse, error)
}

// ExchangeFlowImpl implements ExchangeFlow
type ExchangeFlowImpl struct {
	allocator      ReferenceAllocator
	orderRepo      repository.ExchangeOrderRepository
	rateRepo       repository.ExchangeRateRepository
	rc             *redis.Client
	cacheConfig    *config.CacheConfig
	exchangeConfig *config.ExchangeConfig
	clock          sequence.Clock
}

// NewExchangeFlow creates the exchange flow. rc may be nil, in which case quotes are not cached.
func NewExchangeFlow(
	allocator ReferenceAllocator,
	orderRepo repository.ExchangeOrderRepository,
	rateRepo repository.ExchangeRateRepository,
	rc *redis.Client,
	cacheConfig *config.CacheConfig,
	exchangeConfig *config.ExchangeConfig,
	clock sequence.Clock,
) ExchangeFlow {
	return &ExchangeFlowImpl{
		allocator:      allocator,
		orderRepo:      orderRepo,
		rateRepo:       rateRepo,
		rc:             rc,
		cacheConfig:    cacheConfig,
		exchangeConfig: exchangeConfig,
		clock:          clock,
	}
}

// GenerateReferenceID allocates an identifier for a client to hold before submitting
func (f *ExchangeFlowImpl) GenerateReferenceID(ctx context.Context) (*dto.GenerateReferenceResponse, error) {
	id, err := f.allocate(ctx)
	if err != nil {
		return nil, err
	}
	if id.Fallback {
		f.markFallback(ctx, id.ID)
	}

	return &dto.GenerateReferenceResponse{
		Success:    true,
		ExchangeID: id.ID,
		Timestamp:  id.IssuedAt.Unix(),
		Date:       id.IssuedAt.Format(utils.ISODateLayout),
		Fallback:   id.Fallback,
	}, nil
}

// QuoteExchange prices an amount against the published rate of a pair
func (f *ExchangeFlowImpl) QuoteExchange(ctx context.Context, req *dto.QuoteRequest) (*dto.QuoteResponse, error) {
	if req == nil {
		return nil, NewBusinessError("QUOTE_VALIDATION_FAILED", "Quote request is required", ErrRateNotFound)
	}
	send, receive := normalizeCurrency(req.SendCurrency), normalizeCurrency(req.ReceiveCurrency)
	if send == receive {
		return nil, NewBusinessError("SAME_CURRENCY_PAIR", "Send and receive currencies must differ", ErrSameCurrencyPair)
	}

	rate, err := f.cachedRate(ctx, send, receive)
	if err != nil {
		return nil, err
	}
	if !rate.Accepts(req.SendAmount) {
		return nil, amountOutOfRange(rate)
	}

	return &dto.QuoteResponse{
		SendCurrency:    send,
		ReceiveCurrency: receive,
		SendAmount:      req.SendAmount,
		ReceiveAmount:   rate.Convert(req.SendAmount),
		Rate:            rate.Rate,
		MinAmount:       rate.MinAmount,
		MaxAmount:       rate.MaxAmount,
		RateUpdatedAt:   rate.UpdatedAt,
	}, nil
}

// SubmitExchange validates and stores a pending order and returns the WhatsApp settlement link
func (f *ExchangeFlowImpl) SubmitExchange(ctx context.Context, req *dto.SubmitExchangeRequest, metadata *ClientMetadata) (*dto.SubmitExchangeResponse, error) {
	if req == nil {
		return nil, NewBusinessError("EXCHANGE_VALIDATION_FAILED", "Exchange request is required", ErrRateNotFound)
	}
	send, receive := normalizeCurrency(req.SendCurrency), normalizeCurrency(req.ReceiveCurrency)
	if send == receive {
		return nil, NewBusinessError("SAME_CURRENCY_PAIR", "Send and receive currencies must differ", ErrSameCurrencyPair)
	}

	// Orders price against the stored row, never the quote cache
	rate, err := f.loadRate(ctx, send, receive)
	if err != nil {
		return nil, err
	}
	if !rate.Accepts(req.SendAmount) {
		return nil, amountOutOfRange(rate)
	}

	ref, err := f.resolveReference(ctx, req.ReferenceID)
	if err != nil {
		return nil, err
	}

	order := &models.ExchangeOrder{
		ReferenceID:         ref.ID,
		SendCurrency:        send,
		ReceiveCurrency:     receive,
		SendAmount:          req.SendAmount,
		ReceiveAmount:       rate.Convert(req.SendAmount),
		Rate:                rate.Rate,
		CustomerName:        strings.TrimSpace(req.CustomerName),
		CustomerContact:     strings.TrimSpace(req.CustomerContact),
		Note:                req.Note,
		Status:              models.ExchangeOrderStatusPending,
		IsFallbackReference: ref.Fallback,
	}

	err = f.orderRepo.Save(ctx, order)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Another request stored this reference first; take a fresh one once
		log.Printf(`{"level":"warn","event":"order_reference_conflict","reference_id":"%s","fallback":%t}`, ref.ID, ref.Fallback)
		ref, err = f.allocate(ctx)
		if err != nil {
			return nil, err
		}
		order.ID = 0
		order.ReferenceID = ref.ID
		order.IsFallbackReference = ref.Fallback
		err = f.orderRepo.Save(ctx, order)
	}
	if err != nil {
		return nil, NewBusinessError("ORDER_CREATION_FAILED", "Failed to store exchange order", err)
	}

	requestID, ip := "", ""
	if metadata != nil {
		requestID, ip = metadata.RequestID, metadata.IPAddress
	}
	log.Printf(`{"level":"info","event":"order_submitted","reference_id":"%s","pair":"%s","fallback":%t,"request_id":"%s","ip":"%s"}`,
		order.ReferenceID, order.Pair(), order.IsFallbackReference, requestID, ip)

	return &dto.SubmitExchangeResponse{
		Order:       ToExchangeOrderDTO(*order),
		WhatsAppURL: f.whatsAppURL(order),
	}, nil
}

// GetOrder returns the public status of an order
func (f *ExchangeFlowImpl) GetOrder(ctx context.Context, referenceID string) (*dto.ExchangeOrderDTO, error) {
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

	out := ToExchangeOrderDTO(*order)
	return &out, nil
}

// ListRates returns every active rate
func (f *ExchangeFlowImpl) ListRates(ctx context.Context) (*dto.ListRatesResponse, error) {
	rates, err := f.rateRepo.ListActive(ctx)
	if err != nil {
		return nil, NewBusinessError("LIST_RATES_FAILED", "Failed to list exchange rates", err)
	}

	out := &dto.ListRatesResponse{Rates: make([]dto.ExchangeRateDTO, 0, len(rates))}
	for _, r := range rates {
		out.Rates = append(out.Rates, ToExchangeRateDTO(*r))
	}
	return out, nil
}

func (f *ExchangeFlowImpl) allocate(ctx context.Context) (*sequence.Identifier, error) {
	id, err := f.allocator.Allocate(ctx, f.exchangeConfig.ReferencePrefix)
	if err == nil {
		return id, nil
	}

	switch {
	case sequence.IsDailyLimitReached(err):
		return nil, NewBusinessError("DAILY_LIMIT_REACHED", "Daily order limit reached, please try again tomorrow", ErrDailyLimitReached)
	case sequence.IsExhausted(err):
		return nil, NewBusinessError("REFERENCE_UNAVAILABLE", "No reference identifier available, please retry shortly", ErrReferenceUnavailable)
	default:
		return nil, NewBusinessError("REFERENCE_ALLOCATION_FAILED", "Failed to allocate reference identifier", err)
	}
}

// resolveReference reuses a pre-fetched identifier only when this service
// handed it out today and it is not stored yet: either the committed counter
// covers it, or it is a fallback recorded by GenerateReferenceID. Anything
// else gets a freshly allocated identifier.
func (f *ExchangeFlowImpl) resolveReference(ctx context.Context, prefetched string) (*sequence.Identifier, error) {
	prefetched = strings.TrimSpace(prefetched)
	if prefetched == "" {
		return f.allocate(ctx)
	}

	now := f.clock.Now()
	parsed, err := sequence.ParseIdentifier(prefetched)
	if err != nil || parsed.Prefix != f.exchangeConfig.ReferencePrefix || parsed.Day != sequence.DayKey(now) {
		log.Printf(`{"level":"info","event":"prefetched_reference_rejected","reference_id":%q,"reason":"stale_or_malformed"}`, prefetched)
		return f.allocate(ctx)
	}

	used, err := f.orderRepo.ReferenceExists(ctx, prefetched)
	if err != nil {
		return nil, NewBusinessError("ORDER_LOOKUP_FAILED", "Failed to check reference identifier", err)
	}
	if used {
		log.Printf(`{"level":"info","event":"prefetched_reference_rejected","reference_id":"%s","reason":"already_used"}`, prefetched)
		return f.allocate(ctx)
	}

	parsed.IssuedAt = now
	if f.isMarkedFallback(ctx, parsed.ID) {
		parsed.Fallback = true
		return parsed, nil
	}

	committed, err := f.allocator.Committed(ctx, parsed)
	if err != nil {
		log.Printf(`{"level":"warn","event":"prefetched_reference_unverified","reference_id":"%s","error":%q}`, prefetched, err.Error())
		return f.allocate(ctx)
	}
	if !committed {
		log.Printf(`{"level":"warn","event":"prefetched_reference_rejected","reference_id":"%s","reason":"not_issued"}`, prefetched)
		return f.allocate(ctx)
	}
	return parsed, nil
}

// markFallback remembers a fallback identifier handed to a client so that
// the order submitted with it keeps its fallback flag.
func (f *ExchangeFlowImpl) markFallback(ctx context.Context, identifier string) {
	if f.rc == nil {
		return
	}
	ttl := f.exchangeConfig.CounterTTL
	if ttl <= 0 {
		ttl = defaultFallbackMarkTTL
	}
	key := fallbackMarkKey(f.cacheConfig, identifier)
	if err := f.rc.Set(ctx, key, 1, ttl).Err(); err != nil {
		log.Printf(`{"level":"warn","event":"fallback_mark_failed","key":"%s","error":%q}`, key, err.Error())
	}
}

func (f *ExchangeFlowImpl) isMarkedFallback(ctx context.Context, identifier string) bool {
	if f.rc == nil {
		return false
	}
	n, err := f.rc.Exists(ctx, fallbackMarkKey(f.cacheConfig, identifier)).Result()
	if err != nil {
		log.Printf(`{"level":"warn","event":"fallback_mark_read_failed","reference_id":"%s","error":%q}`, identifier, err.Error())
		return false
	}
	return n > 0
}

func (f *ExchangeFlowImpl) loadRate(ctx context.Context, send, receive string) (*models.ExchangeRate, error) {
	rate, err := f.rateRepo.ByPair(ctx, send, receive)
	if err != nil {
		return nil, NewBusinessError("RATE_LOOKUP_FAILED", "Failed to lookup exchange rate", err)
	}
	if rate == nil {
		return nil, NewBusinessErrorf("RATE_NOT_FOUND", "No rate published for %s/%s", ErrRateNotFound, send, receive)
	}
	if !utils.IsTrue(rate.IsActive) {
		return nil, NewBusinessErrorf("RATE_INACTIVE", "Exchange of %s/%s is currently disabled", ErrRateInactive, send, receive)
	}
	return rate, nil
}

// cachedRate serves the rate row from redis when possible and fills the cache on a miss
func (f *ExchangeFlowImpl) cachedRate(ctx context.Context, send, receive string) (*models.ExchangeRate, error) {
	if f.rc == nil {
		return f.loadRate(ctx, send, receive)
	}

	cacheKey := rateCacheKey(f.cacheConfig, send, receive)
	if bs, err := f.rc.Get(ctx, cacheKey).Bytes(); err == nil && len(bs) > 0 {
		var cached models.ExchangeRate
		if err := json.Unmarshal(bs, &cached); err == nil {
			return &cached, nil
		}
	} else if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf(`{"level":"warn","event":"rate_cache_read_failed","key":"%s","error":%q}`, cacheKey, err.Error())
	}

	rate, err := f.loadRate(ctx, send, receive)
	if err != nil {
		return nil, err
	}

	if bs, err := json.Marshal(rate); err == nil {
		if err := f.rc.Set(ctx, cacheKey, bs, f.exchangeConfig.QuoteCacheTTL).Err(); err != nil {
			log.Printf(`{"level":"warn","event":"rate_cache_write_failed","key":"%s","error":%q}`, cacheKey, err.Error())
		}
	}
	return rate, nil
}

func (f *ExchangeFlowImpl) whatsAppURL(order *models.ExchangeOrder) string {
	number := strings.TrimPrefix(strings.TrimSpace(f.exchangeConfig.WhatsAppNumber), "+")
	if number == "" {
		return ""
	}
	text := fmt.Sprintf("Hello, I would like to settle exchange %s: %s %s for %s %s",
		order.ReferenceID,
		formatAmount(order.SendAmount), order.SendCurrency,
		formatAmount(order.ReceiveAmount), order.ReceiveCurrency,
	)
	return "https://wa.me/" + number + "?text=" + url.QueryEscape(text)
}

func amountOutOfRange(rate *models.ExchangeRate) error {
	if rate.MaxAmount > 0 {
		return NewBusinessErrorf("AMOUNT_OUT_OF_RANGE", "Amount must be between %s and %s", ErrAmountOutOfRange,
			formatAmount(rate.MinAmount), formatAmount(rate.MaxAmount))
	}
	return NewBusinessErrorf("AMOUNT_OUT_OF_RANGE", "Amount must be at least %s", ErrAmountOutOfRange, formatAmount(rate.MinAmount))
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fallbackMarkKey(cfg *config.CacheConfig, identifier string) string {
	prefix := ""
	if cfg != nil {
		prefix = cfg.RedisPrefix
	}
	return fmt.Sprintf("%sref:fallback:%s", prefix, identifier)
}

func rateCacheKey(cfg *config.CacheConfig, send, receive string) string {
	prefix := ""
	if cfg != nil {
		prefix = cfg.RedisPrefix
	}
	return fmt.Sprintf("%srate:%s:%s", prefix, send, receive)
}
