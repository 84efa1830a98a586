package models

// PatientStatus enumerates the account states of a patient record.
type PatientStatus string

const (
	PatientStatusPending  PatientStatus = "pending"
	PatientStatusActive   PatientStatus = "active"
	PatientStatusInactive PatientStatus = "inactive"
)

// Patient is the subset of the patient directory this service reads and
// conditionally writes. AuthIdentityID is set exactly once, on first successful
// activation, and never changes afterwards; it is non-null if and only if the
// patient has left the pending state.
type Patient struct {
	BaseModel

	FullName string        `gorm:"not null" json:"full_name"`
	Phone    *string       `json:"phone,omitempty"`
	Status   PatientStatus `gorm:"not null;default:pending;index" json:"status"`

	AuthIdentityID *string `gorm:"type:uuid;uniqueIndex" json:"-"`
}
