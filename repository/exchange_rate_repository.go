package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/Exchange-Bridge/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExchangeRateRepositoryImpl implements ExchangeRateRepository interface
type ExchangeRateRepositoryImpl struct {
	*BaseRepository[models.ExchangeRate, models.ExchangeRateFilter]
}

// NewExchangeRateRepository creates a new exchange rate repository
func NewExchangeRateRepository(db *gorm.DB) ExchangeRateRepository {
	return &ExchangeRateRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ExchangeRate, models.ExchangeRateFilter](db),
	}
}

// ByPair reads the single rate row of a currency pair
func (r *ExchangeRateRepositoryImpl) ByPair(ctx context.Context, sendCurrency, receiveCurrency string) (*models.ExchangeRate, error) {
	db := r.getDB(ctx)

	var rate models.ExchangeRate
	err := db.Where("send_currency = ? AND receive_currency = ?", sendCurrency, receiveCurrency).First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}

// ListActive returns all active rates ordered by pair
func (r *ExchangeRateRepositoryImpl) ListActive(ctx context.Context) ([]*models.ExchangeRate, error) {
	active := true
	return r.ByFilter(ctx, models.ExchangeRateFilter{IsActive: &active}, "send_currency ASC, receive_currency ASC", 0, 0)
}

// Upsert creates or replaces the rate of a pair
func (r *ExchangeRateRepositoryImpl) Upsert(ctx context.Context, rate *models.ExchangeRate) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "send_currency"}, {Name: "receive_currency"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate", "min_amount", "max_amount", "is_active", "updated_at"}),
	}).Create(rate).Error
	if err != nil {
		return finish(db, shouldCommit, fmt.Errorf("failed to upsert rate: %w", err))
	}

	return finish(db, shouldCommit, nil)
}

func (r *ExchangeRateRepositoryImpl) applyFilter(query *gorm.DB, filter models.ExchangeRateFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.SendCurrency != nil {
		query = query.Where("send_currency = ?", *filter.SendCurrency)
	}
	if filter.ReceiveCurrency != nil {
		query = query.Where("receive_currency = ?", *filter.ReceiveCurrency)
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	return query
}

// ByFilter retrieves rates based on filter criteria
func (r *ExchangeRateRepositoryImpl) ByFilter(ctx context.Context, filter models.ExchangeRateFilter, orderBy string, limit, offset int) ([]*models.ExchangeRate, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ExchangeRate{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rates []*models.ExchangeRate
	if err := query.Find(&rates).Error; err != nil {
		return nil, err
	}
	return rates, nil
}

// Count returns the number of rates matching the filter
func (r *ExchangeRateRepositoryImpl) Count(ctx context.Context, filter models.ExchangeRateFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	if err := r.applyFilter(db.Model(&models.ExchangeRate{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any rate matching the filter exists
func (r *ExchangeRateRepositoryImpl) Exists(ctx context.Context, filter models.ExchangeRateFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
