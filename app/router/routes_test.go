package router

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/Exchange-Bridge/app/middleware"
	"github.com/amirphl/Exchange-Bridge/app/services"
	"github.com/amirphl/Exchange-Bridge/config"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type okHandler struct{}

func (okHandler) ok(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }

type stubExchangeHandler struct{ okHandler }

func (h stubExchangeHandler) Actions(c fiber.Ctx) error     { return h.ok(c) }
func (h stubExchangeHandler) Quote(c fiber.Ctx) error       { return h.ok(c) }
func (h stubExchangeHandler) SubmitOrder(c fiber.Ctx) error { return h.ok(c) }
func (h stubExchangeHandler) GetOrder(c fiber.Ctx) error    { return h.ok(c) }
func (h stubExchangeHandler) ListRates(c fiber.Ctx) error   { return h.ok(c) }

type stubOperatorHandler struct{ okHandler }

func (h stubOperatorHandler) Login(c fiber.Ctx) error             { return h.ok(c) }
func (h stubOperatorHandler) ListOrders(c fiber.Ctx) error        { return h.ok(c) }
func (h stubOperatorHandler) UpdateOrderStatus(c fiber.Ctx) error { return h.ok(c) }
func (h stubOperatorHandler) SetRate(c fiber.Ctx) error           { return h.ok(c) }
func (h stubOperatorHandler) ExportDay(c fiber.Ctx) error         { return h.ok(c) }

type fixedLicense bool

func (l fixedLicense) IsValid() bool { return bool(l) }

func testConfig() *config.ProductionConfig {
	return &config.ProductionConfig{
		Server: config.ServerConfig{
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   5 * time.Second,
			IdleTimeout:    5 * time.Second,
			ProxyHeader:    "X-Real-IP",
			TrustedProxies: []string{"10.0.0.1"},
		},
		Security: config.SecurityConfig{
			AllowedOrigins:  []string{"https://exchange-bridge.test"},
			ActionRateLimit: 2,
			GlobalRateLimit: 100,
			RateLimitWindow: time.Minute,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestRouter(t *testing.T, license middleware.LicenseChecker) *fiber.App {
	t.Helper()
	tokens, err := services.NewTokenService(time.Hour, "exchange-bridge", "exchange-bridge-operator", strings.Repeat("r", 32))
	require.NoError(t, err)

	r := NewFiberRouter(testConfig(), stubExchangeHandler{}, stubOperatorHandler{}, middleware.NewAuthMiddleware(tokens), license)
	r.SetupRoutes()
	return r.GetApp()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRoutesHealthAndNotFound(t *testing.T) {
	app := newTestRouter(t, nil)

	status, body := get(t, app, "/api/v1/health")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"status":"ok"`)

	status, body = get(t, app, "/api/v1/nowhere")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Contains(t, body, `"NOT_FOUND"`)

	status, _ = get(t, app, "/api/v1/exchange/rates")
	assert.Equal(t, fiber.StatusOK, status)
}

func TestRoutesMetricsEndpoint(t *testing.T) {
	app := newTestRouter(t, nil)

	get(t, app, "/api/v1/exchange/rates")
	status, body := get(t, app, "/metrics")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "http_requests_total")
}

func TestRoutesLicenseGate(t *testing.T) {
	app := newTestRouter(t, fixedLicense(false))

	status, body := get(t, app, "/api/v1/health")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"licensed":false`)

	status, body = get(t, app, "/api/v1/exchange/rates")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Contains(t, body, "LICENSE_INVALID")
}

func TestRoutesOperatorRequiresToken(t *testing.T) {
	app := newTestRouter(t, fixedLicense(true))

	status, _ := get(t, app, "/api/v1/operator/orders")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/operator/auth/login", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRoutesActionRateLimit(t *testing.T) {
	app := newTestRouter(t, nil)

	post := func() int {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/exchange/actions", nil))
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, post())
	assert.Equal(t, fiber.StatusOK, post())
	assert.Equal(t, fiber.StatusTooManyRequests, post())
}

func TestRoutesIgnoreProxyHeaderFromUntrustedPeer(t *testing.T) {
	app := newTestRouter(t, nil)

	post := func(clientIP string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/exchange/actions", nil)
		req.Header.Set("X-Real-IP", clientIP)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	// rotating the header must not buy a fresh rate limit bucket
	assert.Equal(t, fiber.StatusOK, post("203.0.113.1"))
	assert.Equal(t, fiber.StatusOK, post("203.0.113.2"))
	assert.Equal(t, fiber.StatusTooManyRequests, post("203.0.113.3"))
}
