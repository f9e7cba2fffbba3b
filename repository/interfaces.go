// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/sequence"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// SequenceCounterRepository is the durable counter store behind reference allocation
type SequenceCounterRepository interface {
	sequence.CounterStore
	sequence.CounterReader
	ByPrefixAndDay(ctx context.Context, prefix, day string) (*models.SequenceCounter, error)
	PruneBefore(ctx context.Context, day string) (int64, error)
}

// ExchangeOrderRepository defines operations for exchange orders
type ExchangeOrderRepository interface {
	Repository[models.ExchangeOrder, models.ExchangeOrderFilter]
	sequence.IssuedChecker
	ByReferenceID(ctx context.Context, referenceID string) (*models.ExchangeOrder, error)
	ByUUID(ctx context.Context, uuid string) (*models.ExchangeOrder, error)
	UpdateStatus(ctx context.Context, referenceID string, status models.ExchangeOrderStatus, operatorID *uint, at time.Time) (bool, error)
}

// ExchangeRateRepository defines operations for published rates
type ExchangeRateRepository interface {
	Repository[models.ExchangeRate, models.ExchangeRateFilter]
	ByPair(ctx context.Context, sendCurrency, receiveCurrency string) (*models.ExchangeRate, error)
	ListActive(ctx context.Context) ([]*models.ExchangeRate, error)
	Upsert(ctx context.Context, rate *models.ExchangeRate) error
}

// OperatorRepository defines operations for operator accounts
type OperatorRepository interface {
	Repository[models.Operator, models.OperatorFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Operator, error)
	ByUsername(ctx context.Context, username string) (*models.Operator, error)
	UpdateLastLogin(ctx context.Context, operatorID uint, at time.Time) error
}
