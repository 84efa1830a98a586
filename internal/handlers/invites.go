package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veritashealth/invitegate/internal/services"
	appErrors "github.com/veritashealth/invitegate/pkg/errors"
	"github.com/veritashealth/invitegate/pkg/logger"
	"github.com/veritashealth/invitegate/pkg/response"
)

// InviteHandler exposes invite creation to the doctor portal.
type InviteHandler struct {
	invites *services.InviteService
	log     *zap.Logger
}

// NewInviteHandler constructs an InviteHandler.
func NewInviteHandler(invites *services.InviteService) *InviteHandler {
	return &InviteHandler{
		invites: invites,
		log:     logger.WithModule("handlers.invites"),
	}
}

type createInviteRequest struct {
	PatientID string `json:"patient_id" validate:"required,uuid4"`
	DoctorID  string `json:"doctor_id" validate:"required,uuid4"`
}

type inviteDTO struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

type inviteCreatedResponse struct {
	Invite inviteDTO `json:"invite"`
	Token  string    `json:"token"`
	Link   string    `json:"link"`
	QRPNG  string    `json:"qr_png"`
}

// POST /api/invites
func (h *InviteHandler) Create(c *gin.Context) {
	if h.invites == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	var req createInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	invite, err := h.invites.Create(requestContext(c), req.PatientID, req.DoctorID)
	if err != nil {
		if errors.Is(err, services.ErrPatientNotFound) {
			response.Error(c, appErrors.ErrNotFound)
			return
		}
		h.log.Error("create invite failed", zap.Error(err))
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	qr, err := h.invites.QRCode(invite.Token)
	if err != nil {
		h.log.Error("encode invite qr failed", zap.Error(err))
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.JSON(c, http.StatusCreated, inviteCreatedResponse{
		Invite: inviteDTO{
			ID:        invite.ID,
			PatientID: invite.PatientID,
			DoctorID:  invite.DoctorID,
			Status:    string(invite.Status),
			ExpiresAt: invite.ExpiresAt,
		},
		Token: invite.Token,
		Link:  h.invites.ActivationLink(invite.Token),
		QRPNG: base64.StdEncoding.EncodeToString(qr),
	})
}
