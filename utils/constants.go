package utils

import (
	"time"
)

// Token constants
const (
	// OperatorTokenTTL is the default time-to-live for operator access tokens (12 hours)
	OperatorTokenTTL = 12 * time.Hour
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Exchange constants
const (
	// DefaultReferencePrefix is used when no prefix is configured
	DefaultReferencePrefix = "EB"

	// DefaultTimezone decides which calendar day a reference belongs to
	DefaultTimezone = "Asia/Tehran"

	// ISODateLayout is the human-readable day returned next to a reference
	ISODateLayout = "2006-01-02"

	// ExportSheetName is the worksheet name of the daily order export
	ExportSheetName = "Orders"
)
