package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/veritashealth/invitegate/internal/models"
)

// PatientDirectory is the boundary to the patient records this service does
// not own. It only reads patients and conditionally writes the three fields
// the activation flow is allowed to touch: phone, status and auth identity.
type PatientDirectory struct {
	db *gorm.DB
}

// NewPatientDirectory constructs a PatientDirectory.
func NewPatientDirectory(db *gorm.DB) (*PatientDirectory, error) {
	if db == nil {
		return nil, errors.New("patient directory: db is required")
	}
	return &PatientDirectory{db: db}, nil
}

// GetPatient loads a patient record by id.
func (d *PatientDirectory) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	var patient models.Patient
	if err := d.db.WithContext(ctx).First(&patient, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("patient directory: find patient: %w", err)
	}
	return &patient, nil
}

// UpdatePhone overwrites the patient's phone number.
func (d *PatientDirectory) UpdatePhone(ctx context.Context, id, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("patient directory: phone is required")
	}

	result := d.db.WithContext(ctx).
		Model(&models.Patient{}).
		Where("id = ?", id).
		Update("phone", phone)
	if result.Error != nil {
		return fmt.Errorf("patient directory: update phone: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// LinkIdentity attaches an auth identity to a patient only if none is linked
// yet, activating the record in the same write. A false return means another
// request linked first; the caller must compensate and reuse the winner's
// identity.
func (d *PatientDirectory) LinkIdentity(ctx context.Context, patientID, identityID string) (bool, error) {
	result := d.db.WithContext(ctx).
		Model(&models.Patient{}).
		Where("id = ? AND auth_identity_id IS NULL", patientID).
		Updates(map[string]any{
			"auth_identity_id": identityID,
			"status":           models.PatientStatusActive,
		})
	if result.Error != nil {
		return false, fmt.Errorf("patient directory: link identity: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
