package testing

import (
	"fmt"
	"math/rand/v2"

	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/utils"
	"golang.org/x/crypto/bcrypt"
)

// TestOperatorPassword is the plain password of every fixture operator
const TestOperatorPassword = "TestPass123!"

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestOperator creates an active operator with TestOperatorPassword
func (tf *TestFixtures) CreateTestOperator() (*models.Operator, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(TestOperatorPassword), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	operator := &models.Operator{
		Username:     fmt.Sprintf("operator_%06d", rand.IntN(1000000)),
		PasswordHash: string(hashedPassword),
		IsActive:     utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(operator).Error; err != nil {
		return nil, fmt.Errorf("failed to create test operator: %w", err)
	}

	return operator, nil
}

// CreateTestRate publishes an active rate for a pair
func (tf *TestFixtures) CreateTestRate(send, receive string, rate, minAmount, maxAmount float64) (*models.ExchangeRate, error) {
	r := &models.ExchangeRate{
		SendCurrency:    send,
		ReceiveCurrency: receive,
		Rate:            rate,
		MinAmount:       minAmount,
		MaxAmount:       maxAmount,
		IsActive:        utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(r).Error; err != nil {
		return nil, fmt.Errorf("failed to create test rate: %w", err)
	}
	return r, nil
}

// CreateTestOrder stores a pending order under referenceID
func (tf *TestFixtures) CreateTestOrder(referenceID string) (*models.ExchangeOrder, error) {
	order := &models.ExchangeOrder{
		ReferenceID:     referenceID,
		SendCurrency:    "USD",
		ReceiveCurrency: "AED",
		SendAmount:      100,
		ReceiveAmount:   367.25,
		Rate:            3.6725,
		CustomerName:    "Test Customer",
		CustomerContact: "+971500000000",
		Status:          models.ExchangeOrderStatusPending,
	}
	if err := tf.DB.DB.Create(order).Error; err != nil {
		return nil, fmt.Errorf("failed to create test order: %w", err)
	}
	return order, nil
}
