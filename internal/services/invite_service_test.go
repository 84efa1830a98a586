package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/veritashealth/invitegate/internal/models"
)

func TestInviteServiceCreate(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")
	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	svc, err := NewInviteService(db,
		WithInviteClock(func() time.Time { return current }),
		WithInviteBaseURL("https://portal.example.com"),
	)
	require.NoError(t, err)

	doctorID := newID()
	invite, err := svc.Create(context.Background(), patient.ID, doctorID)
	require.NoError(t, err)
	require.NotEmpty(t, invite.Token)
	require.Equal(t, models.InviteStatusPending, invite.Status)
	require.Equal(t, current.Add(7*24*time.Hour), invite.ExpiresAt)
	require.Nil(t, invite.OtpCode)
	require.Nil(t, invite.RedeemedAt)

	require.Contains(t, svc.ActivationLink(invite.Token), "https://portal.example.com/activate?token=")

	png, err := svc.QRCode(invite.Token)
	require.NoError(t, err)
	require.NotEmpty(t, png)
}

func TestInviteServiceCreateUnknownPatient(t *testing.T) {
	db := openServicesTestDB(t)

	svc, err := NewInviteService(db)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), newID(), newID())
	require.ErrorIs(t, err, ErrPatientNotFound)
}

func TestInviteServiceTokenUniqueness(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")

	svc, err := NewInviteService(db)
	require.NoError(t, err)

	const count = 50
	tokens := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		invite, err := svc.Create(context.Background(), patient.ID, newID())
		require.NoError(t, err)
		tokens[invite.Token] = struct{}{}
	}
	require.Len(t, tokens, count)
}

func TestInviteServiceFindByToken(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")

	svc, err := NewInviteService(db)
	require.NoError(t, err)

	invite, err := svc.Create(context.Background(), patient.ID, newID())
	require.NoError(t, err)

	found, err := svc.FindByToken(context.Background(), invite.Token)
	require.NoError(t, err)
	require.Equal(t, invite.ID, found.ID)

	_, err = svc.FindByToken(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ErrInviteNotFound)

	_, err = svc.FindByToken(context.Background(), "")
	require.ErrorIs(t, err, ErrInviteNotFound)
}

func TestInviteServiceCompareAndSetStatus(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")

	svc, err := NewInviteService(db)
	require.NoError(t, err)

	invite, err := svc.Create(context.Background(), patient.ID, newID())
	require.NoError(t, err)

	ok, err := svc.CompareAndSetStatus(context.Background(), invite.ID, models.InviteStatusPending, models.InviteStatusExpired)
	require.NoError(t, err)
	require.True(t, ok)

	// The expected status no longer matches: the write must not apply.
	ok, err = svc.CompareAndSetStatus(context.Background(), invite.ID, models.InviteStatusPending, models.InviteStatusRedeemed)
	require.NoError(t, err)
	require.False(t, ok)

	current, err := svc.FindByToken(context.Background(), invite.Token)
	require.NoError(t, err)
	require.Equal(t, models.InviteStatusExpired, current.Status)
}

func TestInviteServiceMarkRedeemed(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")
	now := time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)

	svc, err := NewInviteService(db)
	require.NoError(t, err)

	invite, err := svc.Create(context.Background(), patient.ID, newID())
	require.NoError(t, err)

	ok, err := svc.MarkRedeemed(context.Background(), invite.ID, now)
	require.NoError(t, err)
	require.True(t, ok)

	current, err := svc.FindByToken(context.Background(), invite.Token)
	require.NoError(t, err)
	require.Equal(t, models.InviteStatusRedeemed, current.Status)
	require.NotNil(t, current.RedeemedAt)
	require.WithinDuration(t, now, *current.RedeemedAt, time.Second)

	// Redeeming an already-redeemed invite is a lost race, not an error.
	ok, err = svc.MarkRedeemed(context.Background(), invite.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInviteServiceOtpFields(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")

	svc, err := NewInviteService(db)
	require.NoError(t, err)

	invite, err := svc.Create(context.Background(), patient.ID, newID())
	require.NoError(t, err)

	deadline := time.Now().Add(10 * time.Minute).UTC()
	require.NoError(t, svc.SetOtp(context.Background(), invite.ID, "482913", deadline))

	current, err := svc.FindByToken(context.Background(), invite.Token)
	require.NoError(t, err)
	require.NotNil(t, current.OtpCode)
	require.Equal(t, "482913", *current.OtpCode)
	require.NotNil(t, current.OtpExpiresAt)

	require.NoError(t, svc.ClearOtp(context.Background(), invite.ID))

	current, err = svc.FindByToken(context.Background(), invite.Token)
	require.NoError(t, err)
	require.Nil(t, current.OtpCode)
	require.Nil(t, current.OtpExpiresAt)
}

func requireInviteStatus(t *testing.T, db *gorm.DB, id string, want models.InviteStatus) {
	t.Helper()
	var invite models.Invite
	require.NoError(t, db.First(&invite, "id = ?", id).Error)
	require.Equal(t, want, invite.Status)
}
