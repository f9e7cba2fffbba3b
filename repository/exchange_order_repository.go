package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/utils"
	"gorm.io/gorm"
)

// ExchangeOrderRepositoryImpl implements ExchangeOrderRepository interface
type ExchangeOrderRepositoryImpl struct {
	*BaseRepository[models.ExchangeOrder, models.ExchangeOrderFilter]
}

// NewExchangeOrderRepository creates a new exchange order repository
func NewExchangeOrderRepository(db *gorm.DB) ExchangeOrderRepository {
	return &ExchangeOrderRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ExchangeOrder, models.ExchangeOrderFilter](db),
	}
}

// ByReferenceID retrieves an order by its reference identifier
func (r *ExchangeOrderRepositoryImpl) ByReferenceID(ctx context.Context, referenceID string) (*models.ExchangeOrder, error) {
	db := r.getDB(ctx)

	var order models.ExchangeOrder
	err := db.Where("reference_id = ?", referenceID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &order, nil
}

// ByUUID retrieves an order by UUID
func (r *ExchangeOrderRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.ExchangeOrder, error) {
	parsedUUID, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}

	orders, err := r.ByFilter(ctx, models.ExchangeOrderFilter{UUID: &parsedUUID}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	return orders[0], nil
}

// ReferenceExists implements sequence.IssuedChecker
func (r *ExchangeOrderRepositoryImpl) ReferenceExists(ctx context.Context, referenceID string) (bool, error) {
	return r.Exists(ctx, models.ExchangeOrderFilter{ReferenceID: &referenceID})
}

// UpdateStatus moves a pending order to status. It reports false when the
// order does not exist or has already left pending.
func (r *ExchangeOrderRepositoryImpl) UpdateStatus(ctx context.Context, referenceID string, status models.ExchangeOrderStatus, operatorID *uint, at time.Time) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}

	updates := map[string]any{
		"status":     status,
		"updated_at": at,
	}
	if status == models.ExchangeOrderStatusSettled {
		updates["settled_by"] = operatorID
		updates["settled_at"] = at
	}

	result := db.Model(&models.ExchangeOrder{}).
		Where("reference_id = ? AND status = ?", referenceID, models.ExchangeOrderStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, finish(db, shouldCommit, fmt.Errorf("failed to update order status: %w", result.Error))
	}

	return result.RowsAffected > 0, finish(db, shouldCommit, nil)
}

// applyFilter applies filter criteria to a GORM query
func (r *ExchangeOrderRepositoryImpl) applyFilter(query *gorm.DB, filter models.ExchangeOrderFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.ReferenceID != nil {
		query = query.Where("reference_id = ?", *filter.ReferenceID)
	}
	if filter.ReferencePrefix != nil {
		query = query.Where("reference_id LIKE ?", *filter.ReferencePrefix+"%")
	}
	if filter.SendCurrency != nil {
		query = query.Where("send_currency = ?", *filter.SendCurrency)
	}
	if filter.ReceiveCurrency != nil {
		query = query.Where("receive_currency = ?", *filter.ReceiveCurrency)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.IsFallbackReference != nil {
		query = query.Where("is_fallback_reference = ?", *filter.IsFallbackReference)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves orders based on filter criteria
func (r *ExchangeOrderRepositoryImpl) ByFilter(ctx context.Context, filter models.ExchangeOrderFilter, orderBy string, limit, offset int) ([]*models.ExchangeOrder, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ExchangeOrder{}), filter)

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

	var orders []*models.ExchangeOrder
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}

	return orders, nil
}

// Count returns the number of orders matching the filter
func (r *ExchangeOrderRepositoryImpl) Count(ctx context.Context, filter models.ExchangeOrderFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ExchangeOrder{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any order matching the filter exists
func (r *ExchangeOrderRepositoryImpl) Exists(ctx context.Context, filter models.ExchangeOrderFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
