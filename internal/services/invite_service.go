package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"

	"github.com/veritashealth/invitegate/internal/models"
	"github.com/veritashealth/invitegate/pkg/crypto"
)

const (
	defaultInviteExpiry     = 7 * 24 * time.Hour
	defaultInviteTokenBytes = 32
	defaultQRCodeSize       = 256
)

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteBaseURL configures the base URL embedded in activation links and QR codes.
func WithInviteBaseURL(base string) InviteOption {
	return func(s *InviteService) {
		s.baseURL = strings.TrimRight(base, "/")
	}
}

// WithInviteExpiry overrides the invite validity window.
func WithInviteExpiry(d time.Duration) InviteOption {
	return func(s *InviteService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithInviteClock injects a custom time source primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InviteService persists invites and performs their atomic state transitions.
// Every status change goes through a conditional write keyed on the previously
// observed status; there are no unconditional status updates.
type InviteService struct {
	db      *gorm.DB
	baseURL string
	expiry  time.Duration
	now     func() time.Time
}

// NewInviteService constructs an InviteService with the provided dependencies.
func NewInviteService(db *gorm.DB, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}

	service := &InviteService{
		db:     db,
		expiry: defaultInviteExpiry,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Create issues a new invite for the patient with a globally unique opaque
// token. The patient must already exist in the directory.
func (s *InviteService) Create(ctx context.Context, patientID, doctorID string) (*models.Invite, error) {
	patientID = strings.TrimSpace(patientID)
	doctorID = strings.TrimSpace(doctorID)
	if patientID == "" {
		return nil, errors.New("invite service: patient id is required")
	}
	if doctorID == "" {
		return nil, errors.New("invite service: doctor id is required")
	}

	var patient models.Patient
	if err := s.db.WithContext(ctx).First(&patient, "id = ?", patientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("invite service: find patient: %w", err)
	}

	// Token collisions are vanishingly rare at 32 random bytes but the unique
	// index makes them loud; retry once before giving up.
	for attempt := 0; attempt < 2; attempt++ {
		token, err := crypto.GenerateToken(defaultInviteTokenBytes)
		if err != nil {
			return nil, fmt.Errorf("invite service: generate token: %w", err)
		}

		invite := models.Invite{
			PatientID: patientID,
			DoctorID:  doctorID,
			Token:     token,
			Status:    models.InviteStatusPending,
			ExpiresAt: s.now().Add(s.expiry),
		}

		if err := s.db.WithContext(ctx).Create(&invite).Error; err != nil {
			if isUniqueConstraintError(err) {
				continue
			}
			return nil, fmt.Errorf("invite service: create invite: %w", err)
		}
		return &invite, nil
	}

	return nil, errors.New("invite service: token collision persisted across retries")
}

// FindByToken loads the invite matching the opaque token.
func (s *InviteService) FindByToken(ctx context.Context, token string) (*models.Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInviteNotFound
	}

	var invite models.Invite
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&invite).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("invite service: find invite: %w", err)
	}

	return &invite, nil
}

// CompareAndSetStatus transitions the invite status only if the currently
// stored status matches expected. A false return means a concurrent request
// won the race; callers must re-read and re-evaluate rather than error.
func (s *InviteService) CompareAndSetStatus(ctx context.Context, id string, expected, next models.InviteStatus) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Invite{}).
		Where("id = ? AND status = ?", id, expected).
		Update("status", next)
	if result.Error != nil {
		return false, fmt.Errorf("invite service: compare and set status: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkRedeemed conditionally moves a pending invite to redeemed and stamps the
// audit timestamp in the same write.
func (s *InviteService) MarkRedeemed(ctx context.Context, id string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Invite{}).
		Where("id = ? AND status = ?", id, models.InviteStatusPending).
		Updates(map[string]any{
			"status":      models.InviteStatusRedeemed,
			"redeemed_at": at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("invite service: mark redeemed: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// SetOtp stores an outstanding challenge on the invite.
func (s *InviteService) SetOtp(ctx context.Context, id, code string, expiresAt time.Time) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Invite{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"otp_code":       code,
			"otp_expires_at": expiresAt,
		}).Error; err != nil {
		return fmt.Errorf("invite service: set otp: %w", err)
	}
	return nil
}

// ClearOtp removes the outstanding challenge. Both fields clear together so an
// invite never carries a code without its deadline.
func (s *InviteService) ClearOtp(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Invite{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"otp_code":       nil,
			"otp_expires_at": nil,
		}).Error; err != nil {
		return fmt.Errorf("invite service: clear otp: %w", err)
	}
	return nil
}

// ActivationLink returns the URL a patient opens to redeem the token.
func (s *InviteService) ActivationLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return s.baseURL + "/activate?token=" + url.QueryEscape(token)
}

// QRCode renders the activation link as a PNG suitable for printing on the
// doctor-issued invite sheet.
func (s *InviteService) QRCode(token string) ([]byte, error) {
	png, err := qrcode.Encode(s.ActivationLink(token), qrcode.Medium, defaultQRCodeSize)
	if err != nil {
		return nil, fmt.Errorf("invite service: encode qr: %w", err)
	}
	return png, nil
}
