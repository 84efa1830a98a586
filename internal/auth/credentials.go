package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCredentialTTL defines the fallback validity period for one-time login tokens.
const DefaultCredentialTTL = 15 * time.Minute

// CredentialConfig bundles the configuration required to build a CredentialService.
type CredentialConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Clock  func() time.Time
}

// LoginClaims represents the custom claims embedded in one-time login tokens.
type LoginClaims struct {
	IdentityID string `json:"idn"`
	PatientID  string `json:"pid"`
	jwt.RegisteredClaims
}

// CredentialService issues and validates the short-lived login tokens handed to
// patients after a successful invite redemption.
type CredentialService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewCredentialService constructs a CredentialService from the provided configuration.
func NewCredentialService(cfg CredentialConfig) (*CredentialService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("credentials: secret must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &CredentialService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// IssueLoginToken signs a short-lived JWT identifying the patient's auth identity.
func (s *CredentialService) IssueLoginToken(identityID, patientID string) (string, time.Time, error) {
	if identityID == "" {
		return "", time.Time{}, errors.New("credentials: identity id is required")
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := &LoginClaims{
		IdentityID: identityID,
		PatientID:  patientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("credentials: sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// LoginWindow returns the expiry deadline a credential issued now would carry.
func (s *CredentialService) LoginWindow() time.Time {
	return s.now().Add(s.ttl)
}

// ValidateLoginToken parses and validates a signed login token.
func (s *CredentialService) ValidateLoginToken(tokenString string) (*LoginClaims, error) {
	if tokenString == "" {
		return nil, errors.New("credentials: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims LoginClaims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("credentials: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("credentials: invalid issuer")
	}

	if claims.IdentityID == "" {
		return nil, errors.New("credentials: missing identity claim")
	}

	return &claims, nil
}
