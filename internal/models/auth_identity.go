package models

// AuthIdentity mirrors a credential subject managed by the external identity
// provider. Rows exist so tests and the local provider can exercise the same
// create/link/delete semantics the hosted provider exposes; the provider owns
// the authoritative copy.
type AuthIdentity struct {
	BaseModel

	// Subject is the deterministic pseudo-identifier derived from the patient
	// id. The provider tolerates duplicate subjects transiently while two
	// first-activation attempts race; the loser's identity is deleted.
	Subject      string `gorm:"not null;index" json:"subject"`
	Role         string `gorm:"not null;default:patient" json:"role"`
	PatientID    string `gorm:"type:uuid;not null;index" json:"patient_id"`
	PasswordHash string `json:"-"`
}
