package models

import "time"

// InviteStatus enumerates the lifecycle states of a patient invite.
type InviteStatus string

const (
	// InviteStatusPending marks an invite that can still start an activation or
	// login cycle. A pending invite with OTP fields set has a challenge outstanding.
	InviteStatusPending InviteStatus = "pending"
	// InviteStatusRedeemed marks an invite whose most recent cycle completed.
	InviteStatusRedeemed InviteStatus = "redeemed"
	// InviteStatusExpired marks an invite that lapsed before the patient ever
	// activated. Terminal.
	InviteStatusExpired InviteStatus = "expired"
)

// Invite grants one patient the ability to activate an account, identified by
// an opaque token handed out as a QR code. The same token is reused for every
// subsequent login, so a redeemed invite linked to an active patient cycles
// back to pending rather than dying.
type Invite struct {
	BaseModel

	PatientID string       `gorm:"type:uuid;not null;index" json:"patient_id"`
	DoctorID  string       `gorm:"type:uuid;not null;index" json:"doctor_id"`
	Token     string       `gorm:"not null;uniqueIndex" json:"-"`
	Status    InviteStatus `gorm:"not null;default:pending;index" json:"status"`
	ExpiresAt time.Time    `gorm:"not null" json:"expires_at"`

	// OtpCode and OtpExpiresAt are non-null only while a challenge is
	// outstanding; verification or expiry clears both.
	OtpCode      *string    `json:"-"`
	OtpExpiresAt *time.Time `json:"-"`

	// RedeemedAt records the most recent successful redemption. It is audit
	// data and survives the redeemed->pending login reset.
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`

	Patient *Patient `gorm:"constraint:OnDelete:CASCADE" json:"patient,omitempty"`
}
