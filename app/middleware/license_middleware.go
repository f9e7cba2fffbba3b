package middleware

import (
	"github.com/amirphl/Exchange-Bridge/app/dto"
	"github.com/gofiber/fiber/v3"
)

// LicenseChecker reports whether the installation is currently licensed
type LicenseChecker interface {
	IsValid() bool
}

// RequireLicense rejects every request with 503 while the license is invalid.
// A nil checker disables the gate.
func RequireLicense(checker LicenseChecker) fiber.Handler {
	return func(c fiber.Ctx) error {
		if checker == nil || checker.IsValid() {
			return c.Next()
		}
		licenseBlocked.Inc()
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.APIResponse{
			Success: false,
			Message: "Service is not licensed",
			Error:   dto.ErrorDetail{Code: "LICENSE_INVALID"},
		})
	}
}
