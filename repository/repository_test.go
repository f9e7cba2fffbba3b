package repository_test

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/repository"
	"github.com/amirphl/Exchange-Bridge/sequence"
	testingutil "github.com/amirphl/Exchange-Bridge/testing"
	"github.com/amirphl/Exchange-Bridge/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func fixedClock(t time.Time) sequence.Clock {
	return sequence.ClockFunc(func() time.Time { return t })
}

func TestSequenceCounterRepository(t *testing.T) {
	testDB := testingutil.RequireTestDB(t)
	ctx := testingutil.CreateTestContext()
	repo := repository.NewSequenceCounterRepository(testDB.DB)

	t.Run("IncrementIsSequentialPerPrefixAndDay", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		var values []int
		for range 3 {
			err := repo.InTx(ctx, func(ctx context.Context, tx sequence.CounterTx) error {
				v, err := tx.Increment(ctx, "EB", "250531")
				values = append(values, v)
				return err
			})
			require.NoError(t, err)
		}
		assert.Equal(t, []int{1, 2, 3}, values)

		// a different day starts over
		err := repo.InTx(ctx, func(ctx context.Context, tx sequence.CounterTx) error {
			v, err := tx.Increment(ctx, "EB", "250601")
			assert.Equal(t, 1, v)
			return err
		})
		require.NoError(t, err)

		counter, err := repo.ByPrefixAndDay(ctx, "EB", "250531")
		require.NoError(t, err)
		require.NotNil(t, counter)
		assert.Equal(t, 3, counter.LastValue)

		missing, err := repo.ByPrefixAndDay(ctx, "ZZ", "250531")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("RollbackKeepsCounter", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		err := repo.InTx(ctx, func(ctx context.Context, tx sequence.CounterTx) error {
			if _, err := tx.Increment(ctx, "EB", "250531"); err != nil {
				return err
			}
			return sequence.ErrDailyLimitReached
		})
		require.ErrorIs(t, err, sequence.ErrDailyLimitReached)

		counter, err := repo.ByPrefixAndDay(ctx, "EB", "250531")
		require.NoError(t, err)
		assert.Nil(t, counter)
	})

	t.Run("ExistsSeesIssuedOrders", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())
		fixtures := testingutil.NewTestFixtures(testDB)
		_, err := fixtures.CreateTestOrder("EB-25053101")
		require.NoError(t, err)

		err = repo.InTx(ctx, func(ctx context.Context, tx sequence.CounterTx) error {
			found, err := tx.Exists(ctx, "EB-25053101")
			require.NoError(t, err)
			assert.True(t, found)

			found, err = tx.Exists(ctx, "EB-25053102")
			require.NoError(t, err)
			assert.False(t, found)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("ConcurrentAllocationsAreUnique", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		const workers = 20
		day := time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC)
		allocator := sequence.NewAllocator(repo, fixedClock(day), sequence.WithLockTimeout(10*time.Second))

		ids := make([]*sequence.Identifier, workers)
		var g errgroup.Group
		for i := range workers {
			g.Go(func() error {
				id, err := allocator.Allocate(ctx, "EB")
				ids[i] = id
				return err
			})
		}
		require.NoError(t, g.Wait())

		seen := make(map[string]bool, workers)
		for _, id := range ids {
			require.NotNil(t, id)
			assert.False(t, id.Fallback, "unexpected fallback %s", id.ID)
			assert.False(t, seen[id.ID], "duplicate %s", id.ID)
			seen[id.ID] = true
		}
		assert.True(t, seen["EB-25053101"])
		assert.True(t, seen["EB-25053120"])

		counter, err := repo.ByPrefixAndDay(ctx, "EB", "250531")
		require.NoError(t, err)
		require.NotNil(t, counter)
		assert.Equal(t, workers, counter.LastValue)
	})

	t.Run("LockTimeoutFallsBack", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		// hold the (EB, 250531) row lock in another transaction
		blocker := testDB.DB.Begin()
		require.NoError(t, blocker.Error)
		defer blocker.Rollback()
		err := blocker.Exec(`INSERT INTO sequence_counters (prefix, day, last_value, created_at, updated_at)
			VALUES ('EB', '250531', 5, NOW(), NOW())
			ON CONFLICT (prefix, day) DO UPDATE SET last_value = sequence_counters.last_value + 1`).Error
		require.NoError(t, err)

		var logs bytes.Buffer
		day := time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC)
		allocator := sequence.NewAllocator(repo, fixedClock(day),
			sequence.WithLockTimeout(300*time.Millisecond),
			sequence.WithLogger(log.New(&logs, "", 0)),
		)

		id, err := allocator.Allocate(ctx, "EB")
		require.NoError(t, err)
		require.NotNil(t, id)
		assert.True(t, id.Fallback)
		assert.Equal(t, "250531", id.Day)
		assert.Contains(t, logs.String(), `"level":"warn"`)
		assert.Contains(t, logs.String(), `"event":"sequence_fallback"`)

		require.NoError(t, blocker.Rollback().Error)
		last, err := repo.LastValue(ctx, "EB", "250531")
		require.NoError(t, err)
		assert.Equal(t, 0, last)
	})

	t.Run("DailyLimitLeavesCounterAt99", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		err := testDB.DB.Exec(`INSERT INTO sequence_counters (prefix, day, last_value, created_at, updated_at)
			VALUES ('EB', '250531', 99, NOW(), NOW())`).Error
		require.NoError(t, err)

		day := time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC)
		allocator := sequence.NewAllocator(repo, fixedClock(day), sequence.WithLockTimeout(5*time.Second))

		id, err := allocator.Allocate(ctx, "EB")
		assert.Nil(t, id)
		require.Error(t, err)
		assert.True(t, sequence.IsDailyLimitReached(err))

		counter, err := repo.ByPrefixAndDay(ctx, "EB", "250531")
		require.NoError(t, err)
		require.NotNil(t, counter)
		assert.Equal(t, 99, counter.LastValue)

		committed, err := allocator.Committed(ctx, &sequence.Identifier{ID: "EB-25053199", Prefix: "EB", Day: "250531", Sequence: 99})
		require.NoError(t, err)
		assert.True(t, committed)
	})

	t.Run("PruneBefore", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		for _, day := range []string{"250529", "250530", "250531"} {
			err := repo.InTx(ctx, func(ctx context.Context, tx sequence.CounterTx) error {
				_, err := tx.Increment(ctx, "EB", day)
				return err
			})
			require.NoError(t, err)
		}

		removed, err := repo.PruneBefore(ctx, "250531")
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		counter, err := repo.ByPrefixAndDay(ctx, "EB", "250531")
		require.NoError(t, err)
		assert.NotNil(t, counter)
	})
}

func TestExchangeOrderRepository(t *testing.T) {
	testDB := testingutil.RequireTestDB(t)
	ctx := testingutil.CreateTestContext()
	repo := repository.NewExchangeOrderRepository(testDB.DB)
	fixtures := testingutil.NewTestFixtures(testDB)

	t.Run("ReferenceLookup", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())
		created, err := fixtures.CreateTestOrder("EB-25053101")
		require.NoError(t, err)

		exists, err := repo.ReferenceExists(ctx, "EB-25053101")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.ReferenceExists(ctx, "EB-25053199")
		require.NoError(t, err)
		assert.False(t, exists)

		order, err := repo.ByReferenceID(ctx, "EB-25053101")
		require.NoError(t, err)
		require.NotNil(t, order)
		assert.Equal(t, created.ID, order.ID)

		byUUID, err := repo.ByUUID(ctx, order.UUID.String())
		require.NoError(t, err)
		require.NotNil(t, byUUID)
		assert.Equal(t, "EB-25053101", byUUID.ReferenceID)

		missing, err := repo.ByReferenceID(ctx, "EB-25053199")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("DuplicateReferenceRejected", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())
		_, err := fixtures.CreateTestOrder("EB-25053101")
		require.NoError(t, err)

		_, err = fixtures.CreateTestOrder("EB-25053101")
		assert.Error(t, err)
	})

	t.Run("UpdateStatusOnlyFromPending", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())
		operator, err := fixtures.CreateTestOperator()
		require.NoError(t, err)
		_, err = fixtures.CreateTestOrder("EB-25053101")
		require.NoError(t, err)

		at := utils.UTCNow()
		updated, err := repo.UpdateStatus(ctx, "EB-25053101", models.ExchangeOrderStatusSettled, &operator.ID, at)
		require.NoError(t, err)
		assert.True(t, updated)

		order, err := repo.ByReferenceID(ctx, "EB-25053101")
		require.NoError(t, err)
		require.NotNil(t, order)
		assert.Equal(t, models.ExchangeOrderStatusSettled, order.Status)
		require.NotNil(t, order.SettledBy)
		assert.Equal(t, operator.ID, *order.SettledBy)
		assert.NotNil(t, order.SettledAt)

		updated, err = repo.UpdateStatus(ctx, "EB-25053101", models.ExchangeOrderStatusCancelled, nil, at)
		require.NoError(t, err)
		assert.False(t, updated)

		updated, err = repo.UpdateStatus(ctx, "EB-25053199", models.ExchangeOrderStatusCancelled, nil, at)
		require.NoError(t, err)
		assert.False(t, updated)
	})

	t.Run("FilterByReferencePrefix", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())
		for _, ref := range []string{"EB-25053101", "EB-25053102", "EB-25060101", "FX-25053101"} {
			_, err := fixtures.CreateTestOrder(ref)
			require.NoError(t, err)
		}

		prefix := "EB-250531"
		orders, err := repo.ByFilter(ctx, models.ExchangeOrderFilter{ReferencePrefix: &prefix}, "reference_id ASC", 0, 0)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, "EB-25053101", orders[0].ReferenceID)
		assert.Equal(t, "EB-25053102", orders[1].ReferenceID)

		count, err := repo.Count(ctx, models.ExchangeOrderFilter{ReferencePrefix: &prefix})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})
}

func TestExchangeRateRepository(t *testing.T) {
	testDB := testingutil.RequireTestDB(t)
	ctx := testingutil.CreateTestContext()
	repo := repository.NewExchangeRateRepository(testDB.DB)

	require.NoError(t, testDB.ClearAllTables())

	err := repo.Upsert(ctx, &models.ExchangeRate{
		SendCurrency:    "USD",
		ReceiveCurrency: "AED",
		Rate:            3.67,
		MinAmount:       10,
		MaxAmount:       5000,
		IsActive:        utils.ToPtr(true),
	})
	require.NoError(t, err)

	// same pair replaces the previous rate
	err = repo.Upsert(ctx, &models.ExchangeRate{
		SendCurrency:    "USD",
		ReceiveCurrency: "AED",
		Rate:            3.6725,
		MinAmount:       20,
		MaxAmount:       10000,
		IsActive:        utils.ToPtr(true),
	})
	require.NoError(t, err)

	err = repo.Upsert(ctx, &models.ExchangeRate{
		SendCurrency:    "EUR",
		ReceiveCurrency: "AED",
		Rate:            4.01,
		IsActive:        utils.ToPtr(false),
	})
	require.NoError(t, err)

	rate, err := repo.ByPair(ctx, "USD", "AED")
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.InDelta(t, 3.6725, rate.Rate, 1e-9)
	assert.InDelta(t, 20, rate.MinAmount, 1e-9)
	assert.InDelta(t, 10000, rate.MaxAmount, 1e-9)

	missing, err := repo.ByPair(ctx, "GBP", "AED")
	require.NoError(t, err)
	assert.Nil(t, missing)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "USD", active[0].SendCurrency)
}

func TestOperatorRepository(t *testing.T) {
	testDB := testingutil.RequireTestDB(t)
	ctx := testingutil.CreateTestContext()
	repo := repository.NewOperatorRepository(testDB.DB)
	fixtures := testingutil.NewTestFixtures(testDB)

	require.NoError(t, testDB.ClearAllTables())
	created, err := fixtures.CreateTestOperator()
	require.NoError(t, err)

	operator, err := repo.ByUsername(ctx, created.Username)
	require.NoError(t, err)
	require.NotNil(t, operator)
	assert.Equal(t, created.ID, operator.ID)
	assert.Nil(t, operator.LastLoginAt)

	at := time.Date(2025, 5, 31, 9, 30, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLastLogin(ctx, operator.ID, at))

	operator, err = repo.ByUUID(ctx, created.UUID.String())
	require.NoError(t, err)
	require.NotNil(t, operator)
	require.NotNil(t, operator.LastLoginAt)
	assert.True(t, at.Equal(operator.LastLoginAt.UTC()))

	missing, err := repo.ByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
