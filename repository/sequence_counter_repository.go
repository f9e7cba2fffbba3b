package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/sequence"
	"gorm.io/gorm"
)

const incrementCounterSQL = `
INSERT INTO sequence_counters (prefix, day, last_value, created_at, updated_at)
VALUES (?, ?, 1, NOW(), NOW())
ON CONFLICT (prefix, day)
DO UPDATE SET last_value = sequence_counters.last_value + 1, updated_at = NOW()
RETURNING last_value`

// SequenceCounterRepositoryImpl keeps one row per (prefix, day). The upsert
// takes the row lock, so concurrent allocations queue behind each other until
// commit, bounded by lock_timeout derived from the context deadline.
type SequenceCounterRepositoryImpl struct {
	*BaseRepository[models.SequenceCounter, struct{}]
}

// NewSequenceCounterRepository creates a new sequence counter repository
func NewSequenceCounterRepository(db *gorm.DB) SequenceCounterRepository {
	return &SequenceCounterRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SequenceCounter, struct{}](db),
	}
}

// InTx implements sequence.CounterStore
func (r *SequenceCounterRepositoryImpl) InTx(ctx context.Context, fn func(ctx context.Context, tx sequence.CounterTx) error) error {
	return WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		if deadline, ok := ctx.Deadline(); ok {
			ms := time.Until(deadline).Milliseconds()
			if ms < 1 {
				return context.DeadlineExceeded
			}
			// SET does not take bind parameters; ms is an integer we computed
			if err := db.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)).Error; err != nil {
				return fmt.Errorf("failed to set lock timeout: %w", err)
			}
		}

		return fn(txCtx, &counterTx{db: db})
	})
}

// ByPrefixAndDay returns the counter row, or nil when nothing was issued that day
func (r *SequenceCounterRepositoryImpl) ByPrefixAndDay(ctx context.Context, prefix, day string) (*models.SequenceCounter, error) {
	db := r.getDB(ctx)

	var counter models.SequenceCounter
	err := db.Where("prefix = ? AND day = ?", prefix, day).First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &counter, nil
}

// LastValue implements sequence.CounterReader
func (r *SequenceCounterRepositoryImpl) LastValue(ctx context.Context, prefix, day string) (int, error) {
	counter, err := r.ByPrefixAndDay(ctx, prefix, day)
	if err != nil {
		return 0, err
	}
	if counter == nil {
		return 0, nil
	}
	return counter.LastValue, nil
}

// PruneBefore deletes counter rows of days strictly before day (YYMMDD)
func (r *SequenceCounterRepositoryImpl) PruneBefore(ctx context.Context, day string) (int64, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Where("day < ?", day).Delete(&models.SequenceCounter{})
	if result.Error != nil {
		return 0, finish(db, shouldCommit, fmt.Errorf("failed to prune counters: %w", result.Error))
	}

	return result.RowsAffected, finish(db, shouldCommit, nil)
}

type counterTx struct {
	db *gorm.DB
}

func (t *counterTx) Increment(ctx context.Context, prefix, day string) (int, error) {
	var value int
	if err := t.db.WithContext(ctx).Raw(incrementCounterSQL, prefix, day).Row().Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

func (t *counterTx) Exists(ctx context.Context, identifier string) (bool, error) {
	var count int64
	err := t.db.WithContext(ctx).
		Model(&models.ExchangeOrder{}).
		Where("reference_id = ?", identifier).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
