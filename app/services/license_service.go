package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LicenseSignatureHeader carries the hex HMAC-SHA256 of the request body
const LicenseSignatureHeader = "X-License-Signature"

// License status sources
const (
	LicenseSourceServer = "server"
	LicenseSourceGrace  = "grace"
	LicenseSourceNone   = "none"
)

var (
	ErrLicenseServerUnreachable = errors.New("license server unreachable")
	ErrLicenseSignatureInvalid  = errors.New("license response signature invalid")
)

// LicenseStatus is the outcome of the latest license check
type LicenseStatus struct {
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expires_at"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"` // last time the server confirmed it
	Source    string    `json:"source"`
}

// LicenseOptions configures the license guard
type LicenseOptions struct {
	ServerURL     string
	LicenseKey    string
	Secret        string
	Domain        string
	InstanceID    string
	CheckInterval time.Duration
	GracePeriod   time.Duration
	Timeout       time.Duration
}

// LicenseService phones home to confirm the installation is licensed
type LicenseService interface {
	Check(ctx context.Context) (*LicenseStatus, error)
	CheckIfDue(ctx context.Context, now time.Time) (*LicenseStatus, error)
	Run(ctx context.Context)
	Status() LicenseStatus
	IsValid() bool
	LastChecked() time.Time
}

type licenseRequest struct {
	LicenseKey string `json:"license_key"`
	Domain     string `json:"domain"`
	InstanceID string `json:"instance_id"`
	Timestamp  int64  `json:"timestamp"`
	Nonce      string `json:"nonce"`
}

type licenseResponse struct {
	Valid     bool   `json:"valid"`
	ExpiresAt int64  `json:"expires_at"`
	Message   string `json:"message"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// LicenseServiceImpl implements LicenseService. The time of the last
// attempt is state of the instance, so two guards never share a timer.
type LicenseServiceImpl struct {
	opts       LicenseOptions
	httpClient *http.Client
	cache      *LicenseCache
	now        func() time.Time

	mu          sync.RWMutex
	lastChecked time.Time
	status      LicenseStatus
}

// NewLicenseService creates the guard. An empty instance id is derived
// from the domain so restarts keep the same identity.
func NewLicenseService(opts LicenseOptions, cache *LicenseCache) *LicenseServiceImpl {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 24 * time.Hour
	}
	if opts.InstanceID == "" {
		opts.InstanceID = DeriveInstanceID(opts.Domain)
	}
	opts.ServerURL = strings.TrimRight(opts.ServerURL, "/")

	return &LicenseServiceImpl{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		cache:      cache,
		now:        time.Now,
		status:     LicenseStatus{Source: LicenseSourceNone, Message: "license not checked yet"},
	}
}

// DeriveInstanceID returns a stable name-based UUID for a domain
func DeriveInstanceID(domain string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(strings.ToLower(domain))).String()
}

// Check contacts the license server. When the server cannot be reached a
// previously confirmed license stays valid for the grace period; the
// returned error still reports the failed contact.
func (s *LicenseServiceImpl) Check(ctx context.Context) (*LicenseStatus, error) {
	now := s.now()

	status, err := s.callServer(ctx, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChecked = now

	if err == nil {
		s.status = *status
		if s.cache != nil {
			if cerr := s.cache.Save(status); cerr != nil {
				log.Printf(`{"level":"warn","event":"license_cache_write_failed","error":%q}`, cerr.Error())
			}
		}
		result := s.status
		return &result, nil
	}

	if errors.Is(err, ErrLicenseSignatureInvalid) {
		s.status = LicenseStatus{Valid: false, Message: "license response could not be verified", CheckedAt: now, Source: LicenseSourceServer}
		result := s.status
		return &result, err
	}

	s.status = s.graceStatus(now)
	log.Printf(`{"level":"warn","event":"license_server_unreachable","grace":%t,"error":%q}`, s.status.Valid, err.Error())
	result := s.status
	return &result, err
}

// CheckIfDue runs Check only when the check interval has elapsed since the
// last attempt; otherwise it returns the current status.
func (s *LicenseServiceImpl) CheckIfDue(ctx context.Context, now time.Time) (*LicenseStatus, error) {
	s.mu.RLock()
	last := s.lastChecked
	current := s.status
	s.mu.RUnlock()

	if !last.IsZero() && now.Sub(last) < s.opts.CheckInterval {
		return &current, nil
	}
	return s.Check(ctx)
}

// Run re-checks the license until ctx is cancelled
func (s *LicenseServiceImpl) Run(ctx context.Context) {
	tick := s.opts.CheckInterval / 4
	if tick < time.Minute {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := s.CheckIfDue(ctx, s.now())
			if err == nil && !status.Valid {
				log.Printf(`{"level":"error","event":"license_invalid","message":%q}`, status.Message)
			}
		}
	}
}

// Status returns a copy of the current status
func (s *LicenseServiceImpl) Status() LicenseStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsValid reports whether requests may be served
func (s *LicenseServiceImpl) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.status.Valid {
		return false
	}
	return s.status.ExpiresAt.IsZero() || s.now().Before(s.status.ExpiresAt)
}

// LastChecked returns the time of the last attempt, zero before the first
func (s *LicenseServiceImpl) LastChecked() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastChecked
}

// graceStatus must be called with mu held
func (s *LicenseServiceImpl) graceStatus(now time.Time) LicenseStatus {
	confirmed := s.status
	if confirmed.Source != LicenseSourceServer && s.cache != nil {
		if cached, err := s.cache.Load(); err == nil {
			confirmed = *cached
		} else if !errors.Is(err, ErrLicenseCacheMissing) {
			log.Printf(`{"level":"warn","event":"license_cache_read_failed","error":%q}`, err.Error())
		}
	}

	withinGrace := confirmed.Valid &&
		!confirmed.CheckedAt.IsZero() &&
		now.Sub(confirmed.CheckedAt) <= s.opts.GracePeriod &&
		(confirmed.ExpiresAt.IsZero() || now.Before(confirmed.ExpiresAt))
	if !withinGrace {
		return LicenseStatus{Valid: false, Message: "license server unreachable and no license within grace period", CheckedAt: confirmed.CheckedAt, Source: LicenseSourceNone}
	}

	return LicenseStatus{
		Valid:     true,
		ExpiresAt: confirmed.ExpiresAt,
		Message:   "license server unreachable; using cached license",
		CheckedAt: confirmed.CheckedAt,
		Source:    LicenseSourceGrace,
	}
}

func (s *LicenseServiceImpl) callServer(ctx context.Context, now time.Time) (*LicenseStatus, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	body, err := json.Marshal(licenseRequest{
		LicenseKey: s.opts.LicenseKey,
		Domain:     s.opts.Domain,
		InstanceID: s.opts.InstanceID,
		Timestamp:  now.Unix(),
		Nonce:      hex.EncodeToString(nonce),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.ServerURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLicenseServerUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(LicenseSignatureHeader, SignLicensePayload(body, s.opts.Secret))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLicenseServerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrLicenseServerUnreachable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLicenseServerUnreachable, err)
	}
	var out licenseResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrLicenseSignatureInvalid, err)
	}
	if out.Nonce != hex.EncodeToString(nonce) {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrLicenseSignatureInvalid)
	}
	if !hmac.Equal([]byte(out.Signature), []byte(SignLicenseResponse(out.Valid, out.ExpiresAt, out.Message, out.Nonce, s.opts.Secret))) {
		return nil, ErrLicenseSignatureInvalid
	}

	status := &LicenseStatus{
		Valid:     out.Valid,
		Message:   out.Message,
		CheckedAt: now,
		Source:    LicenseSourceServer,
	}
	if out.ExpiresAt > 0 {
		status.ExpiresAt = time.Unix(out.ExpiresAt, 0).UTC()
		if !now.Before(status.ExpiresAt) {
			status.Valid = false
		}
	}
	return status, nil
}

// SignLicensePayload returns the hex HMAC-SHA256 of a request body
func SignLicensePayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignLicenseResponse returns the signature a license server puts on its answer
func SignLicenseResponse(valid bool, expiresAt int64, message, nonce, secret string) string {
	canonical := strings.Join([]string{
		strconv.FormatBool(valid),
		strconv.FormatInt(expiresAt, 10),
		message,
		nonce,
	}, "|")
	return SignLicensePayload([]byte(canonical), secret)
}
