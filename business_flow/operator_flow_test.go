package businessflow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/amirphl/Exchange-Bridge/app/dto"
	"github.com/amirphl/Exchange-Bridge/app/services"
	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"
)

const operatorPassword = "CorrectHorse9"

type operatorFixture struct {
	*exchangeFixture
	operators *fakeOperatorRepo
	tokens    services.TokenService
	flow      OperatorFlow
}

func newOperatorFixture(t *testing.T) *operatorFixture {
	t.Helper()
	fx := newExchangeFixture(t)

	hash, err := bcrypt.GenerateFromPassword([]byte(operatorPassword), bcrypt.MinCost)
	require.NoError(t, err)

	ops := newFakeOperatorRepo(
		&models.Operator{ID: 7, UUID: uuid.New(), Username: "desk", PasswordHash: string(hash), IsActive: utils.ToPtr(true)},
		&models.Operator{ID: 8, UUID: uuid.New(), Username: "retired", PasswordHash: string(hash), IsActive: utils.ToPtr(false)},
	)

	tokens, err := services.NewTokenService(time.Hour, "exchange-bridge", "operators", "test-secret")
	require.NoError(t, err)

	return &operatorFixture{
		exchangeFixture: fx,
		operators:       ops,
		tokens:          tokens,
		flow:            NewOperatorFlow(ops, fx.orders, fx.rates, tokens, fx.rc, fx.cacheConfig, fx.exchangeConfig, fx.clock),
	}
}

func TestOperatorLogin(t *testing.T) {
	fx := newOperatorFixture(t)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		resp, err := fx.flow.Login(ctx, &dto.OperatorLoginRequest{Username: "desk", Password: operatorPassword}, NewClientMetadata("127.0.0.1", "test"))
		require.NoError(t, err)
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.Equal(t, "desk", resp.Operator.Username)
		assert.NotNil(t, resp.Operator.LastLoginAt)

		claims, err := fx.tokens.ValidateOperatorToken(resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, uint(7), claims.OperatorID)
	})

	t.Run("Failures", func(t *testing.T) {
		cases := []struct {
			name     string
			username string
			password string
			check    func(error) bool
			code     string
		}{
			{"WrongPassword", "desk", "WrongHorse9", IsInvalidCredentials, "INVALID_CREDENTIALS"},
			{"UnknownOperator", "ghost", operatorPassword, IsInvalidCredentials, "INVALID_CREDENTIALS"},
			{"InactiveOperator", "retired", operatorPassword, IsOperatorInactive, "OPERATOR_INACTIVE"},
			{"InactiveOperatorWrongPassword", "retired", "WrongHorse9", IsInvalidCredentials, "INVALID_CREDENTIALS"},
			{"EmptyPassword", "desk", "", IsInvalidCredentials, "OPERATOR_LOGIN_VALIDATION_FAILED"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := fx.flow.Login(ctx, &dto.OperatorLoginRequest{Username: tc.username, Password: tc.password}, nil)
				require.Error(t, err)
				assert.True(t, tc.check(err), "unexpected error: %v", err)
				assert.Equal(t, tc.code, ErrorCode(err))
			})
		}
	})

	t.Run("UnknownAndWrongPasswordAreIndistinguishable", func(t *testing.T) {
		_, unknown := fx.flow.Login(ctx, &dto.OperatorLoginRequest{Username: "ghost", Password: "WrongHorse9"}, nil)
		_, wrong := fx.flow.Login(ctx, &dto.OperatorLoginRequest{Username: "desk", Password: "WrongHorse9"}, nil)
		require.Error(t, unknown)
		require.Error(t, wrong)
		assert.Equal(t, wrong.Error(), unknown.Error())
		assert.Equal(t, ErrorCode(wrong), ErrorCode(unknown))
	})
}

func TestOperatorUpdateOrderStatus(t *testing.T) {
	fx := newOperatorFixture(t)
	ctx := context.Background()

	submitted, err := fx.exchangeFixture.flow.SubmitExchange(ctx, submitRequest(100), nil)
	require.NoError(t, err)
	ref := submitted.Order.ReferenceID

	_, err = fx.flow.UpdateOrderStatus(ctx, 7, ref, &dto.UpdateOrderStatusRequest{Status: "pending"})
	assert.True(t, IsInvalidStatus(err))

	_, err = fx.flow.UpdateOrderStatus(ctx, 7, "EB-25053199", &dto.UpdateOrderStatusRequest{Status: "settled"})
	assert.True(t, IsOrderNotFound(err))

	_, err = fx.flow.UpdateOrderStatus(ctx, 7, "bogus", &dto.UpdateOrderStatusRequest{Status: "settled"})
	assert.True(t, IsInvalidReference(err))

	settled, err := fx.flow.UpdateOrderStatus(ctx, 7, ref, &dto.UpdateOrderStatusRequest{Status: "settled"})
	require.NoError(t, err)
	assert.Equal(t, "settled", settled.Status)
	require.NotNil(t, settled.SettledBy)
	assert.Equal(t, uint(7), *settled.SettledBy)
	assert.NotNil(t, settled.SettledAt)

	stored, err := fx.orders.ByReferenceID(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.ExchangeOrderStatusSettled, stored.Status)

	_, err = fx.flow.UpdateOrderStatus(ctx, 7, ref, &dto.UpdateOrderStatusRequest{Status: "cancelled"})
	assert.True(t, IsOrderNotPending(err))
}

func TestOperatorListOrders(t *testing.T) {
	fx := newOperatorFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := fx.exchangeFixture.flow.SubmitExchange(ctx, submitRequest(100), nil)
		require.NoError(t, err)
	}
	require.NoError(t, fx.orders.Save(ctx, &models.ExchangeOrder{
		ReferenceID:     "EB-25053001",
		SendCurrency:    "USD",
		ReceiveCurrency: "IRR",
		SendAmount:      10,
		ReceiveAmount:   6000000,
		Rate:            600000,
		CustomerName:    "Yesterday",
		CustomerContact: "+989000000000",
	}))
	_, err := fx.flow.UpdateOrderStatus(ctx, 7, "EB-25053102", &dto.UpdateOrderStatusRequest{Status: "settled"})
	require.NoError(t, err)

	today, err := fx.flow.ListOrders(ctx, &dto.OperatorListOrdersRequest{})
	require.NoError(t, err)
	assert.Equal(t, "2025-05-31", today.Day)
	assert.Equal(t, int64(3), today.Total)
	require.Len(t, today.Orders, 3)
	assert.Equal(t, "EB-25053101", today.Orders[0].ReferenceID)
	assert.Equal(t, "+989121112233", today.Orders[0].CustomerContact)

	yesterday, err := fx.flow.ListOrders(ctx, &dto.OperatorListOrdersRequest{Day: "2025-05-30"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), yesterday.Total)

	settled, err := fx.flow.ListOrders(ctx, &dto.OperatorListOrdersRequest{Day: "2025-05-31", Status: "settled"})
	require.NoError(t, err)
	require.Len(t, settled.Orders, 1)
	assert.Equal(t, "EB-25053102", settled.Orders[0].ReferenceID)

	paged, err := fx.flow.ListOrders(ctx, &dto.OperatorListOrdersRequest{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), paged.Total)
	require.Len(t, paged.Orders, 1)
	assert.Equal(t, "EB-25053103", paged.Orders[0].ReferenceID)

	_, err = fx.flow.ListOrders(ctx, &dto.OperatorListOrdersRequest{Day: "31/05/2025"})
	assert.True(t, IsInvalidDay(err))

	_, err = fx.flow.ListOrders(ctx, &dto.OperatorListOrdersRequest{Status: "archived"})
	assert.True(t, IsInvalidStatus(err))
}

func TestOperatorSetRate(t *testing.T) {
	fx := newOperatorFixture(t)
	ctx := context.Background()

	_, err := fx.exchangeFixture.flow.QuoteExchange(ctx, &dto.QuoteRequest{SendCurrency: "USD", ReceiveCurrency: "IRR", SendAmount: 10})
	require.NoError(t, err)
	require.True(t, fx.mr.Exists("eb:rate:USD:IRR"))

	rate, err := fx.flow.SetRate(ctx, &dto.SetRateRequest{SendCurrency: "usd", ReceiveCurrency: "irr", Rate: 610000, MinAmount: 10, MaxAmount: 5000})
	require.NoError(t, err)
	assert.Equal(t, "USD", rate.SendCurrency)
	assert.True(t, rate.IsActive)
	assert.False(t, fx.mr.Exists("eb:rate:USD:IRR"))

	quote, err := fx.exchangeFixture.flow.QuoteExchange(ctx, &dto.QuoteRequest{SendCurrency: "USD", ReceiveCurrency: "IRR", SendAmount: 10})
	require.NoError(t, err)
	assert.Equal(t, float64(610000), quote.Rate)

	_, err = fx.flow.SetRate(ctx, &dto.SetRateRequest{SendCurrency: "USD", ReceiveCurrency: "IRR", Rate: 1, MinAmount: 100, MaxAmount: 10})
	assert.True(t, IsInvalidRateBounds(err))

	_, err = fx.flow.SetRate(ctx, &dto.SetRateRequest{SendCurrency: "USD", ReceiveCurrency: "USD", Rate: 1})
	assert.True(t, IsSameCurrencyPair(err))

	_, err = fx.flow.SetRate(ctx, &dto.SetRateRequest{SendCurrency: "USD", ReceiveCurrency: "IRR", Rate: 0})
	assert.True(t, IsInvalidRate(err))

	disabled, err := fx.flow.SetRate(ctx, &dto.SetRateRequest{SendCurrency: "USD", ReceiveCurrency: "IRR", Rate: 610000, IsActive: utils.ToPtr(false)})
	require.NoError(t, err)
	assert.False(t, disabled.IsActive)

	_, err = fx.exchangeFixture.flow.QuoteExchange(ctx, &dto.QuoteRequest{SendCurrency: "USD", ReceiveCurrency: "IRR", SendAmount: 10})
	assert.True(t, IsRateInactive(err))
}

func TestOperatorExportDay(t *testing.T) {
	fx := newOperatorFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := fx.exchangeFixture.flow.SubmitExchange(ctx, submitRequest(100), nil)
		require.NoError(t, err)
	}
	_, err := fx.flow.UpdateOrderStatus(ctx, 7, "EB-25053101", &dto.UpdateOrderStatusRequest{Status: "settled"})
	require.NoError(t, err)

	filename, data, err := fx.flow.ExportDay(ctx, "2025-05-31")
	require.NoError(t, err)
	assert.Equal(t, "exchange_orders_2025-05-31.xlsx", filename)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	rows, err := xl.GetRows(utils.ExportSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "reference_id", rows[0][0])
	assert.Equal(t, "EB-25053101", rows[1][0])
	assert.Equal(t, "settled", rows[1][1])
	assert.Equal(t, "7", rows[1][11])
	assert.Equal(t, "EB-25053102", rows[2][0])
	assert.Equal(t, "pending", rows[2][1])

	_, _, err = fx.flow.ExportDay(ctx, "yesterday")
	assert.True(t, IsInvalidDay(err))
}
