// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/amirphl/Exchange-Bridge/app/dto"
	"github.com/amirphl/Exchange-Bridge/app/handlers"
	"github.com/amirphl/Exchange-Bridge/app/middleware"
	"github.com/amirphl/Exchange-Bridge/config"
	"github.com/amirphl/Exchange-Bridge/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthPath = "/api/v1/health"

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app             *fiber.App
	config          *config.ProductionConfig
	exchangeHandler handlers.ExchangeHandlerInterface
	operatorHandler handlers.OperatorHandlerInterface
	authMiddleware  *middleware.AuthMiddleware
	license         middleware.LicenseChecker
}

// NewFiberRouter creates a new Fiber router. A nil license checker leaves the
// API ungated.
func NewFiberRouter(
	cfg *config.ProductionConfig,
	exchangeHandler handlers.ExchangeHandlerInterface,
	operatorHandler handlers.OperatorHandlerInterface,
	authMiddleware *middleware.AuthMiddleware,
	license middleware.LicenseChecker,
) Router {
	bodyLimit := cfg.Server.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 1 * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		AppName:      "Exchange Bridge API",
		ServerHeader: "Exchange-Bridge",
		ErrorHandler: errorHandler,
		BodyLimit:    bodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		// the proxy header only counts when the peer is a configured proxy
		ProxyHeader: cfg.Server.ProxyHeader,
		TrustProxy:  true,
		TrustProxyConfig: fiber.TrustProxyConfig{
			Proxies: cfg.Server.TrustedProxies,
		},
	})

	return &FiberRouter{
		app:             app,
		config:          cfg,
		exchangeHandler: exchangeHandler,
		operatorHandler: operatorHandler,
		authMiddleware:  authMiddleware,
		license:         license,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	r.setupMiddleware()

	if r.config.Metrics.Enabled {
		path := r.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.app.Get(path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")

	// Health stays reachable while the license gate is closed
	api.Get("/health", r.healthCheck)

	api.Use(middleware.RequireLicense(r.license))
	api.Use(r.rateLimiter(r.config.Security.GlobalRateLimit, func(c fiber.Ctx) bool {
		return c.Path() == healthPath
	}))

	// Visitor endpoints
	exchange := api.Group("/exchange")
	actionLimit := r.rateLimiter(r.config.Security.ActionRateLimit, nil)
	exchange.Post("/actions", actionLimit, r.exchangeHandler.Actions)
	exchange.Post("/quote", r.exchangeHandler.Quote)
	exchange.Post("/orders", actionLimit, r.exchangeHandler.SubmitOrder)
	exchange.Get("/orders/:reference", r.exchangeHandler.GetOrder)
	exchange.Get("/rates", r.exchangeHandler.ListRates)

	// Operator endpoints
	operator := api.Group("/operator")
	operator.Post("/auth/login", r.rateLimiter(20, nil), r.operatorHandler.Login)

	auth := r.authMiddleware.OperatorAuthenticate()
	operator.Get("/orders/export", auth, r.operatorHandler.ExportDay)
	operator.Get("/orders", auth, r.operatorHandler.ListOrders)
	operator.Put("/orders/:reference/status", auth, r.operatorHandler.UpdateOrderStatus)
	operator.Put("/rates", auth, r.operatorHandler.SetRate)

	r.app.Use(r.notFoundHandler)

	log.Println("Routes configured successfully")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: generateRequestID,
	}))

	sec := r.config.Security
	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             orDefault(sec.XFrameOptions, "DENY"),
		HSTSMaxAge:                sec.HSTSMaxAge,
		ContentSecurityPolicy:     orDefault(sec.CSPPolicy, "default-src 'self'; frame-ancestors 'none';"),
		ReferrerPolicy:            orDefault(sec.ReferrerPolicy, "strict-origin-when-cross-origin"),
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "cross-origin",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	maxAge := sec.CORSMaxAge
	if maxAge <= 0 {
		maxAge = utils.CORSMaxAge
	}
	r.app.Use(cors.New(cors.Config{
		AllowOrigins:     sec.AllowedOrigins,
		AllowMethods:     sec.AllowedMethods,
		AllowHeaders:     sec.AllowedHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: sec.AllowCredentials,
		MaxAge:           maxAge,
	}))

	if r.config.Server.EnableCompression {
		r.app.Use(compress.New(compress.Config{
			Level: compress.LevelBestSpeed,
		}))
	}

	if r.config.Logging.EnableAccessLog {
		r.app.Use(logger.New(logger.Config{
			Format:     `{"time":"${time}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","user_agent":"${ua}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
			TimeFormat: time.RFC3339,
			TimeZone:   "UTC",
			Next: func(c fiber.Ctx) bool {
				return c.Path() == healthPath
			},
		}))
	}

	r.app.Use(middleware.Metrics())

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			log.Printf(`{"time":"%s","level":"error","request_id":"%s","event":"panic","error":"%v","path":"%s","method":"%s","ip":"%s"}`,
				utils.UTCNow().Format(time.RFC3339),
				c.Locals("requestid"),
				e,
				c.Path(),
				c.Method(),
				c.IP(),
			)
		},
	}))
}

// rateLimiter limits requests per client IP within the configured window
func (r *FiberRouter) rateLimiter(limit int, next func(c fiber.Ctx) bool) fiber.Handler {
	if limit <= 0 {
		limit = 60
	}
	window := r.config.Security.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: next,
	})
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	log.Printf("Starting server on %s", address)
	return r.app.Listen(address)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// Health check endpoint
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	data := fiber.Map{
		"status":    "ok",
		"timestamp": utils.UTCNow().Unix(),
		"version":   orDefault(r.config.Deployment.Version, "dev"),
		"service":   "exchange-bridge-api",
	}
	if r.license != nil {
		data["licensed"] = r.license.IsValid()
	}
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data:    data,
	})
}

// Not found handler
func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": c.Locals("requestid"),
			},
		},
	})
}

// Global error handler
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	log.Printf("Error %d: %v", code, err)

	message := "An internal server error occurred"
	errorCode := "INTERNAL_ERROR"
	if code < fiber.StatusInternalServerError {
		// client errors raised by fiber itself, e.g. 405 or 413
		message = err.Error()
		errorCode = "REQUEST_ERROR"
	}

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: errorCode,
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": c.Locals("requestid"),
			},
		},
	})
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
