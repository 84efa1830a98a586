package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veritashealth/invitegate/internal/auth"
	"github.com/veritashealth/invitegate/internal/dispatch"
	"github.com/veritashealth/invitegate/internal/models"
	"github.com/veritashealth/invitegate/pkg/logger"
	"github.com/veritashealth/invitegate/pkg/metrics"
)

// ActivationOption customises ActivationService behaviour.
type ActivationOption func(*ActivationService)

// WithActivationClock injects a custom time source primarily for testing.
func WithActivationClock(clock func() time.Time) ActivationOption {
	return func(s *ActivationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// ChallengeResult reports a freshly issued OTP challenge.
type ChallengeResult struct {
	ExpiresInSeconds int
}

// ActivationResult reports a completed redemption, first activation or login.
type ActivationResult struct {
	Patient         *models.Patient
	Credential      *auth.Credential
	FirstActivation bool
}

// ActivationService orchestrates invite redemption. It owns every branch of
// the invite state machine; the stores and the linker only expose conditional
// primitives. Operations are stateless per request, so all racing happens on
// the durable rows and is resolved by conditional writes.
type ActivationService struct {
	invites   *InviteService
	directory *PatientDirectory
	otp       *OTPService
	linker    *IdentityLinker
	sender    dispatch.Sender
	now       func() time.Time
	log       *zap.Logger
}

// NewActivationService constructs the state machine with its collaborators.
func NewActivationService(
	invites *InviteService,
	directory *PatientDirectory,
	otp *OTPService,
	linker *IdentityLinker,
	sender dispatch.Sender,
	opts ...ActivationOption,
) (*ActivationService, error) {
	if invites == nil || directory == nil || otp == nil || linker == nil {
		return nil, errors.New("activation service: invites, directory, otp and linker are required")
	}
	if sender == nil {
		sender = dispatch.NewLogSender()
	}

	service := &ActivationService{
		invites:   invites,
		directory: directory,
		otp:       otp,
		linker:    linker,
		sender:    sender,
		now:       time.Now,
		log:       logger.WithModule("activation"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// RequestChallenge issues a fresh OTP for the invite token and dispatches it
// out of band. For an already-active patient this starts a login cycle: the
// redeemed invite is conditionally reset to pending first.
func (s *ActivationService) RequestChallenge(ctx context.Context, token, phoneOverride string) (*ChallengeResult, error) {
	invite, patient, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}

	if invite.Status == models.InviteStatusRedeemed {
		// Re-entrant login. Losing this conditional write means a concurrent
		// request already reset the cycle; either way a fresh challenge is safe.
		if _, err := s.invites.CompareAndSetStatus(ctx, invite.ID, models.InviteStatusRedeemed, models.InviteStatusPending); err != nil {
			return nil, err
		}
	}

	phone := strings.TrimSpace(phoneOverride)
	if phone == "" && patient.Phone != nil {
		phone = strings.TrimSpace(*patient.Phone)
	}
	if phone == "" {
		return nil, ErrPhoneMissing
	}

	code, expiresAt, err := s.otp.Issue()
	if err != nil {
		return nil, err
	}
	if err := s.invites.SetOtp(ctx, invite.ID, code, expiresAt); err != nil {
		return nil, err
	}
	metrics.OTPIssued.Inc()

	if override := strings.TrimSpace(phoneOverride); override != "" {
		if patient.Phone == nil || *patient.Phone != override {
			if err := s.directory.UpdatePhone(ctx, patient.ID, override); err != nil {
				return nil, err
			}
		}
	}

	// Fire and forget: a failed dispatch leaves the challenge valid and the
	// patient retries with a fresh request_otp.
	if err := s.sender.Send(ctx, dispatch.Message{
		Phone: phone,
		Body:  fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.otp.Expiry().Minutes())),
	}); err != nil {
		s.log.Warn("otp dispatch failed; challenge remains valid",
			zap.String("invite_id", invite.ID),
			zap.Error(err),
		)
	}

	return &ChallengeResult{ExpiresInSeconds: int(s.otp.Expiry().Seconds())}, nil
}

// VerifyAndActivate checks the candidate code against the outstanding
// challenge and, on success, ensures the patient has a linked auth identity
// and marks the invite redeemed. The result is shaped identically for first
// activation and subsequent logins; FirstActivation distinguishes them for
// auditing.
func (s *ActivationService) VerifyAndActivate(ctx context.Context, token, candidate string) (*ActivationResult, error) {
	invite, patient, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}

	if invite.OtpCode == nil || invite.OtpExpiresAt == nil {
		// A consumed code was cleared by the verify that won; a never-issued
		// one means the caller skipped RequestChallenge.
		if invite.Status == models.InviteStatusRedeemed {
			return nil, ErrOTPInvalid
		}
		return nil, ErrChallengeNotRequested
	}

	switch s.otp.Verify(*invite.OtpCode, *invite.OtpExpiresAt, candidate, s.now()) {
	case OTPMismatch:
		return nil, ErrOTPInvalid
	case OTPExpired:
		// Expiry clears both OTP fields, matching consumption.
		if err := s.invites.ClearOtp(ctx, invite.ID); err != nil {
			return nil, err
		}
		return nil, ErrOTPExpired
	}

	linked, err := s.linker.EnsureIdentity(ctx, patient, auth.KindMagicLink)
	if err != nil {
		return nil, err
	}

	if err := s.invites.ClearOtp(ctx, invite.ID); err != nil {
		return nil, err
	}
	// Idempotent when a concurrent verify already closed this cycle.
	if _, err := s.invites.MarkRedeemed(ctx, invite.ID, s.now()); err != nil {
		return nil, err
	}

	current, err := s.directory.GetPatient(ctx, patient.ID)
	if err != nil {
		return nil, err
	}

	return &ActivationResult{
		Patient:         current,
		Credential:      linked.Credential,
		FirstActivation: linked.FirstActivation,
	}, nil
}

// Redeem completes an invite without OTP verification. Legacy path for
// non-interactive flows: it proves possession of the token only, not of the
// phone, and is kept solely for compatibility.
//
// Deprecated: use RequestChallenge followed by VerifyAndActivate.
func (s *ActivationService) Redeem(ctx context.Context, token string) (*ActivationResult, error) {
	invite, patient, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}

	s.log.Warn("legacy redeem used; no possession-of-phone proof",
		zap.String("invite_id", invite.ID),
	)

	linked, err := s.linker.EnsureIdentity(ctx, patient, auth.KindTempPassword)
	if err != nil {
		return nil, err
	}

	if _, err := s.invites.MarkRedeemed(ctx, invite.ID, s.now()); err != nil {
		return nil, err
	}

	current, err := s.directory.GetPatient(ctx, patient.ID)
	if err != nil {
		return nil, err
	}

	return &ActivationResult{
		Patient:         current,
		Credential:      linked.Credential,
		FirstActivation: linked.FirstActivation,
	}, nil
}

// load resolves the invite and its patient and applies the checks shared by
// all operations: lazy expiry and the terminal redeemed-but-never-activated
// state. Expiry only gates invites whose patient has no identity yet: once
// activated, the token is a permanent login artifact.
func (s *ActivationService) load(ctx context.Context, token string) (*models.Invite, *models.Patient, error) {
	invite, err := s.invites.FindByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	patient, err := s.directory.GetPatient(ctx, invite.PatientID)
	if err != nil {
		return nil, nil, err
	}

	if patient.AuthIdentityID == nil {
		switch {
		case invite.Status == models.InviteStatusExpired:
			return nil, nil, ErrInviteExpired
		case s.now().After(invite.ExpiresAt):
			// Record the transition lazily; losing the write means another
			// request observed expiry first.
			if _, err := s.invites.CompareAndSetStatus(ctx, invite.ID, invite.Status, models.InviteStatusExpired); err != nil {
				return nil, nil, err
			}
			return nil, nil, ErrInviteExpired
		case invite.Status == models.InviteStatusRedeemed:
			// Redeemed yet the patient never activated: a prior run stalled
			// between redemption and linking. Terminal by design.
			return nil, nil, ErrInviteAlreadyRedeemed
		}
	}

	return invite, patient, nil
}
