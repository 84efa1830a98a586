package services

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/veritashealth/invitegate/pkg/crypto"
)

const (
	defaultOTPDigits = 6
	defaultOTPExpiry = 10 * time.Minute
)

// OTPVerdict is the outcome of checking a candidate code against a stored challenge.
type OTPVerdict int

const (
	OTPValid OTPVerdict = iota
	OTPMismatch
	OTPExpired
)

// OTPOption customises OTPService behaviour.
type OTPOption func(*OTPService)

// WithOTPExpiry overrides the challenge validity window.
func WithOTPExpiry(d time.Duration) OTPOption {
	return func(s *OTPService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithOTPDigits adjusts the code length.
func WithOTPDigits(n int) OTPOption {
	return func(s *OTPService) {
		if n > 0 {
			s.digits = n
		}
	}
}

// WithOTPClock injects a custom time source primarily for testing.
func WithOTPClock(clock func() time.Time) OTPOption {
	return func(s *OTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// OTPService issues and checks numeric one-time codes used to prove possession
// of a phone number during invite activation.
type OTPService struct {
	digits int
	expiry time.Duration
	now    func() time.Time
}

// NewOTPService constructs an OTPService.
func NewOTPService(opts ...OTPOption) *OTPService {
	service := &OTPService{
		digits: defaultOTPDigits,
		expiry: defaultOTPExpiry,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// Issue generates a fresh code and its expiry deadline.
func (s *OTPService) Issue() (string, time.Time, error) {
	code, err := crypto.GenerateNumericCode(s.digits)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("otp service: generate code: %w", err)
	}
	return code, s.now().Add(s.expiry), nil
}

// Expiry reports the configured challenge validity window.
func (s *OTPService) Expiry() time.Duration {
	return s.expiry
}

// Verify checks a candidate code against the stored challenge. Expiry is a
// strict wall-clock comparison and takes precedence over a matching code.
func (s *OTPService) Verify(storedCode string, storedExpiry time.Time, candidate string, now time.Time) OTPVerdict {
	if now.After(storedExpiry) {
		return OTPExpired
	}
	if len(storedCode) == 0 || len(storedCode) != len(candidate) {
		return OTPMismatch
	}
	if subtle.ConstantTimeCompare([]byte(storedCode), []byte(candidate)) != 1 {
		return OTPMismatch
	}
	return OTPValid
}
