package services

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/veritashealth/invitegate/internal/auth"
	"github.com/veritashealth/invitegate/internal/models"
)

var testDBSeq atomic.Int64

// openServicesTestDB opens a fresh in-memory database per test. Each database
// gets its own name so parallel tests never share state, and a busy timeout so
// deliberately concurrent tests serialise instead of failing.
func openServicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:services_test_%d?mode=memory&cache=shared&_busy_timeout=5000&_foreign_keys=1", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Patient{}, &models.Invite{}, &models.AuthIdentity{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection serialises concurrent writers; shared-cache sqlite
	// otherwise fails them with table-lock errors instead of waiting.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func newID() string {
	return uuid.NewString()
}

func seedPatient(t *testing.T, db *gorm.DB, name string) *models.Patient {
	t.Helper()

	phone := "+15550100"
	patient := &models.Patient{
		FullName: name,
		Phone:    &phone,
		Status:   models.PatientStatusPending,
	}
	require.NoError(t, db.Create(patient).Error)
	return patient
}

func seedPatientWithoutPhone(t *testing.T, db *gorm.DB, name string) *models.Patient {
	t.Helper()

	patient := &models.Patient{
		FullName: name,
		Status:   models.PatientStatusPending,
	}
	require.NoError(t, db.Create(patient).Error)
	return patient
}

func newTestProvider(t *testing.T, db *gorm.DB) *auth.LocalProvider {
	t.Helper()

	credentials, err := auth.NewCredentialService(auth.CredentialConfig{
		Secret: "test-secret-test-secret-test-secret",
		Issuer: "invitegate-test",
	})
	require.NoError(t, err)

	provider, err := auth.NewLocalProvider(db, credentials,
		auth.WithMagicLinkBase("https://app.example.com"),
	)
	require.NoError(t, err)
	return provider
}

func newTestLinker(t *testing.T, db *gorm.DB) (*IdentityLinker, *PatientDirectory) {
	t.Helper()

	directory, err := NewPatientDirectory(db)
	require.NoError(t, err)

	linker, err := NewIdentityLinker(newTestProvider(t, db), directory)
	require.NoError(t, err)
	return linker, directory
}

// newTestActivation wires the full state machine on one database with a
// mutable clock.
func newTestActivation(t *testing.T, db *gorm.DB, clock *time.Time) (*ActivationService, *InviteService) {
	t.Helper()

	now := func() time.Time { return *clock }

	invites, err := NewInviteService(db, WithInviteClock(now))
	require.NoError(t, err)

	linker, directory := newTestLinker(t, db)

	otp := NewOTPService(WithOTPClock(now))

	activation, err := NewActivationService(invites, directory, otp, linker, nil,
		WithActivationClock(now),
	)
	require.NoError(t, err)

	return activation, invites
}

func identityCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&models.AuthIdentity{}).Count(&count).Error)
	return count
}
