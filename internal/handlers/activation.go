package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veritashealth/invitegate/internal/auth"
	"github.com/veritashealth/invitegate/internal/models"
	"github.com/veritashealth/invitegate/internal/services"
	appErrors "github.com/veritashealth/invitegate/pkg/errors"
	"github.com/veritashealth/invitegate/pkg/logger"
	"github.com/veritashealth/invitegate/pkg/metrics"
	"github.com/veritashealth/invitegate/pkg/response"
)

const (
	actionRequestOTP = "request_otp"
	actionVerifyOTP  = "verify_otp"
	actionRedeem     = "redeem"
)

// ActivationHandler exposes the invite activation state machine over a single
// action-discriminated endpoint used by the patient app.
type ActivationHandler struct {
	activation *services.ActivationService
	log        *zap.Logger
}

// NewActivationHandler constructs an ActivationHandler.
func NewActivationHandler(activation *services.ActivationService) *ActivationHandler {
	return &ActivationHandler{
		activation: activation,
		log:        logger.WithModule("handlers.activation"),
	}
}

// activationRequest is the tagged union over the three supported actions. The
// discriminator decides which optional fields are required.
type activationRequest struct {
	Action string `json:"action" validate:"required,oneof=request_otp verify_otp redeem"`
	Token  string `json:"token" validate:"required"`
	Phone  string `json:"phone" validate:"omitempty,min=5,max=32"`
	OTP    string `json:"otp" validate:"omitempty,numeric,len=6"`
}

type patientDTO struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Status   string `json:"status"`
}

type challengeResponse struct {
	Message          string `json:"message"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

type activationResponse struct {
	Message            string           `json:"message"`
	Patient            patientDTO       `json:"patient"`
	Auth               *auth.Credential `json:"auth"`
	WasFirstActivation bool             `json:"was_first_activation"`
}

// POST /api/activation
func (h *ActivationHandler) Activate(c *gin.Context) {
	if h.activation == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	var req activationRequest
	if !bindAndValidate(c, &req) {
		metrics.ActivationAttempts.WithLabelValues("invalid", "failure").Inc()
		return
	}

	ctx := requestContext(c)

	switch req.Action {
	case actionRequestOTP:
		result, err := h.activation.RequestChallenge(ctx, req.Token, req.Phone)
		if err != nil {
			h.fail(c, req.Action, err)
			return
		}
		metrics.ActivationAttempts.WithLabelValues(req.Action, "success").Inc()
		response.JSON(c, http.StatusOK, challengeResponse{
			Message:          "Verification code sent",
			ExpiresInSeconds: result.ExpiresInSeconds,
		})

	case actionVerifyOTP:
		if req.OTP == "" {
			response.Error(c, appErrors.NewValidation("otp is required"))
			metrics.ActivationAttempts.WithLabelValues(req.Action, "failure").Inc()
			return
		}
		result, err := h.activation.VerifyAndActivate(ctx, req.Token, req.OTP)
		if err != nil {
			h.fail(c, req.Action, err)
			return
		}
		metrics.ActivationAttempts.WithLabelValues(req.Action, "success").Inc()
		response.JSON(c, http.StatusOK, activationResponse{
			Message:            "Account activated",
			Patient:            toPatientDTO(result.Patient),
			Auth:               result.Credential,
			WasFirstActivation: result.FirstActivation,
		})

	case actionRedeem:
		result, err := h.activation.Redeem(ctx, req.Token)
		if err != nil {
			h.fail(c, req.Action, err)
			return
		}
		metrics.ActivationAttempts.WithLabelValues(req.Action, "success").Inc()
		response.JSON(c, http.StatusOK, activationResponse{
			Message:            "Invite redeemed",
			Patient:            toPatientDTO(result.Patient),
			Auth:               result.Credential,
			WasFirstActivation: result.FirstActivation,
		})

	default:
		// Unreachable: the oneof rule rejects unknown discriminators.
		response.Error(c, appErrors.NewValidation("unknown action"))
	}
}

func (h *ActivationHandler) fail(c *gin.Context, action string, err error) {
	metrics.ActivationAttempts.WithLabelValues(action, "failure").Inc()
	response.Error(c, mapActivationError(h.log, err))
}

// mapActivationError translates service sentinels into wire-level errors.
// Unknown errors are logged and surfaced as opaque 500s.
func mapActivationError(log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, services.ErrInviteNotFound),
		errors.Is(err, services.ErrPatientNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, services.ErrInviteExpired):
		return appErrors.ErrInviteExpired
	case errors.Is(err, services.ErrInviteAlreadyRedeemed):
		return appErrors.ErrInviteAlreadyRedeemed
	case errors.Is(err, services.ErrOTPInvalid):
		return appErrors.ErrInvalidOTP
	case errors.Is(err, services.ErrOTPExpired):
		return appErrors.ErrOTPExpired
	case errors.Is(err, services.ErrChallengeNotRequested):
		return appErrors.NewValidation("no verification code was requested for this invite")
	case errors.Is(err, services.ErrPhoneMissing):
		return appErrors.NewValidation("a phone number is required to send the verification code")
	default:
		log.Error("activation failed", zap.Error(err))
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}

func toPatientDTO(patient *models.Patient) patientDTO {
	if patient == nil {
		return patientDTO{}
	}
	dto := patientDTO{
		ID:       patient.ID,
		FullName: patient.FullName,
		Status:   string(patient.Status),
	}
	if patient.Phone != nil {
		dto.Phone = *patient.Phone
	}
	return dto
}
