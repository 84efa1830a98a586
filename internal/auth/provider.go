package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/veritashealth/invitegate/internal/models"
	"github.com/veritashealth/invitegate/pkg/crypto"
)

const (
	defaultEmailDomain    = "patients.invitegate.local"
	defaultTempPasswordLn = 16
)

// ErrIdentityNotFound indicates the identity provider knows no such identity.
var ErrIdentityNotFound = errors.New("identity provider: not found")

// CredentialKind selects the one-time credential shape minted for a login.
type CredentialKind string

const (
	// KindMagicLink produces a URL embedding a signed login token.
	KindMagicLink CredentialKind = "magic_link"
	// KindTempPassword produces a pseudo-email plus a freshly rotated password.
	// Only the legacy direct-redeem flow uses it.
	KindTempPassword CredentialKind = "temporary_password"
)

// Identity is the provider's view of a credential subject.
type Identity struct {
	ID        string
	Subject   string
	Role      string
	PatientID string
}

// Credential is a short-lived login artifact minted for a patient.
type Credential struct {
	Type         string    `json:"type"`
	MagicLink    string    `json:"magic_link,omitempty"`
	Token        string    `json:"token,omitempty"`
	Email        string    `json:"email,omitempty"`
	TempPassword string    `json:"temp_password,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Provider abstracts the external identity platform. Implementations must treat
// CreateIdentity as non-idempotent: two concurrent calls for the same subject
// yield two identities, and the caller compensates by deleting the loser.
type Provider interface {
	CreateIdentity(ctx context.Context, subject, patientID string) (*Identity, error)
	UpdateIdentity(ctx context.Context, identityID, role string) error
	DeleteIdentity(ctx context.Context, identityID string) error
	IssueOneTimeCredential(ctx context.Context, identityID string, kind CredentialKind) (*Credential, error)
}

// PseudoSubject derives the deterministic provider-side identifier for a patient.
func PseudoSubject(patientID string) string {
	return "patient-" + patientID
}

// LocalOption customises the LocalProvider.
type LocalOption func(*LocalProvider)

// WithEmailDomain overrides the domain of generated pseudo-emails.
func WithEmailDomain(domain string) LocalOption {
	return func(p *LocalProvider) {
		if domain != "" {
			p.emailDomain = domain
		}
	}
}

// WithMagicLinkBase sets the URL prefix that magic-link tokens are appended to.
func WithMagicLinkBase(base string) LocalOption {
	return func(p *LocalProvider) {
		p.magicLinkBase = strings.TrimRight(base, "/")
	}
}

// LocalProvider implements Provider against the service's own database. It
// exists for self-hosted deployments and tests; hosted deployments swap in a
// client for the managed identity platform.
type LocalProvider struct {
	db            *gorm.DB
	credentials   *CredentialService
	emailDomain   string
	magicLinkBase string
}

// NewLocalProvider constructs a database-backed identity provider.
func NewLocalProvider(db *gorm.DB, credentials *CredentialService, opts ...LocalOption) (*LocalProvider, error) {
	if db == nil {
		return nil, errors.New("identity provider: db is required")
	}
	if credentials == nil {
		return nil, errors.New("identity provider: credential service is required")
	}

	provider := &LocalProvider{
		db:          db,
		credentials: credentials,
		emailDomain: defaultEmailDomain,
	}

	for _, opt := range opts {
		opt(provider)
	}

	return provider, nil
}

// CreateIdentity registers a new credential subject for the patient.
func (p *LocalProvider) CreateIdentity(ctx context.Context, subject, patientID string) (*Identity, error) {
	if subject == "" || patientID == "" {
		return nil, errors.New("identity provider: subject and patient id are required")
	}

	record := models.AuthIdentity{
		Subject:   subject,
		Role:      "patient",
		PatientID: patientID,
	}
	if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("identity provider: create identity: %w", err)
	}

	return &Identity{
		ID:        record.ID,
		Subject:   record.Subject,
		Role:      record.Role,
		PatientID: record.PatientID,
	}, nil
}

// UpdateIdentity rewrites the role metadata attached to an identity.
func (p *LocalProvider) UpdateIdentity(ctx context.Context, identityID, role string) error {
	result := p.db.WithContext(ctx).
		Model(&models.AuthIdentity{}).
		Where("id = ?", identityID).
		Update("role", role)
	if result.Error != nil {
		return fmt.Errorf("identity provider: update identity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// DeleteIdentity removes an identity. Used as compensation after a lost link race.
func (p *LocalProvider) DeleteIdentity(ctx context.Context, identityID string) error {
	result := p.db.WithContext(ctx).
		Where("id = ?", identityID).
		Delete(&models.AuthIdentity{})
	if result.Error != nil {
		return fmt.Errorf("identity provider: delete identity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// IssueOneTimeCredential mints a fresh short-lived login credential. Each call
// yields a new artifact; previously issued ones are unaffected except that a
// temporary password rotates the stored hash.
func (p *LocalProvider) IssueOneTimeCredential(ctx context.Context, identityID string, kind CredentialKind) (*Credential, error) {
	var record models.AuthIdentity
	if err := p.db.WithContext(ctx).First(&record, "id = ?", identityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("identity provider: find identity: %w", err)
	}

	switch kind {
	case KindMagicLink:
		token, expiresAt, err := p.credentials.IssueLoginToken(record.ID, record.PatientID)
		if err != nil {
			return nil, err
		}
		return &Credential{
			Type:      string(KindMagicLink),
			Token:     token,
			MagicLink: p.magicLink(token),
			ExpiresAt: expiresAt,
		}, nil

	case KindTempPassword:
		password, err := crypto.GeneratePassword(defaultTempPasswordLn)
		if err != nil {
			return nil, fmt.Errorf("identity provider: generate password: %w", err)
		}
		hash, err := crypto.HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("identity provider: hash password: %w", err)
		}
		if err := p.db.WithContext(ctx).
			Model(&models.AuthIdentity{}).
			Where("id = ?", record.ID).
			Update("password_hash", hash).Error; err != nil {
			return nil, fmt.Errorf("identity provider: store password: %w", err)
		}
		return &Credential{
			Type:         string(KindTempPassword),
			Email:        record.Subject + "@" + p.emailDomain,
			TempPassword: password,
			ExpiresAt:    p.credentials.LoginWindow(),
		}, nil

	default:
		return nil, fmt.Errorf("identity provider: unknown credential kind %q", kind)
	}
}

func (p *LocalProvider) magicLink(token string) string {
	if p.magicLinkBase == "" {
		return token
	}
	return p.magicLinkBase + "/auth/magic?token=" + url.QueryEscape(token)
}
