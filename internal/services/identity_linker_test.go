package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veritashealth/invitegate/internal/auth"
	"github.com/veritashealth/invitegate/internal/models"
)

func TestIdentityLinkerFirstActivation(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")
	linker, directory := newTestLinker(t, db)

	result, err := linker.EnsureIdentity(context.Background(), patient, auth.KindMagicLink)
	require.NoError(t, err)
	require.True(t, result.FirstActivation)
	require.NotEmpty(t, result.IdentityID)
	require.NotNil(t, result.Credential)
	require.NotEmpty(t, result.Credential.Token)
	require.Contains(t, result.Credential.MagicLink, "https://app.example.com/auth/magic?token=")

	current, err := directory.GetPatient(context.Background(), patient.ID)
	require.NoError(t, err)
	require.Equal(t, models.PatientStatusActive, current.Status)
	require.NotNil(t, current.AuthIdentityID)
	require.Equal(t, result.IdentityID, *current.AuthIdentityID)
	require.EqualValues(t, 1, identityCount(t, db))
}

func TestIdentityLinkerReusesLinkedIdentity(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")
	linker, directory := newTestLinker(t, db)

	first, err := linker.EnsureIdentity(context.Background(), patient, auth.KindMagicLink)
	require.NoError(t, err)

	// N sequential login cycles mint fresh credentials but never a second identity.
	for i := 0; i < 5; i++ {
		current, err := directory.GetPatient(context.Background(), patient.ID)
		require.NoError(t, err)

		again, err := linker.EnsureIdentity(context.Background(), current, auth.KindMagicLink)
		require.NoError(t, err)
		require.False(t, again.FirstActivation)
		require.Equal(t, first.IdentityID, again.IdentityID)
		require.NotEmpty(t, again.Credential.Token)
	}

	require.EqualValues(t, 1, identityCount(t, db))
}

// interceptProvider lets tests interleave a competing link between identity
// creation and the conditional link.
type interceptProvider struct {
	auth.Provider
	afterCreate func(identity *auth.Identity)
	deleteErr   error
}

func (p *interceptProvider) CreateIdentity(ctx context.Context, subject, patientID string) (*auth.Identity, error) {
	identity, err := p.Provider.CreateIdentity(ctx, subject, patientID)
	if err == nil && p.afterCreate != nil {
		p.afterCreate(identity)
	}
	return identity, err
}

func (p *interceptProvider) DeleteIdentity(ctx context.Context, identityID string) error {
	if p.deleteErr != nil {
		return p.deleteErr
	}
	return p.Provider.DeleteIdentity(ctx, identityID)
}

func TestIdentityLinkerLostRaceCompensates(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")

	directory, err := NewPatientDirectory(db)
	require.NoError(t, err)

	base := newTestProvider(t, db)

	var winnerID string
	intercept := &interceptProvider{Provider: base}
	intercept.afterCreate = func(identity *auth.Identity) {
		if winnerID != "" {
			return
		}
		// Simulate a concurrent first activation winning the link while our
		// caller holds a freshly created identity.
		winner, err := base.CreateIdentity(context.Background(), auth.PseudoSubject(patient.ID), patient.ID)
		require.NoError(t, err)
		winnerID = winner.ID

		linked, err := directory.LinkIdentity(context.Background(), patient.ID, winner.ID)
		require.NoError(t, err)
		require.True(t, linked)
	}

	linker, err := NewIdentityLinker(intercept, directory)
	require.NoError(t, err)

	result, err := linker.EnsureIdentity(context.Background(), patient, auth.KindMagicLink)
	require.NoError(t, err)
	require.False(t, result.FirstActivation)
	require.Equal(t, winnerID, result.IdentityID)

	// The loser's identity was deleted; only the winner's survives.
	require.EqualValues(t, 1, identityCount(t, db))
}

func TestIdentityLinkerOrphanOnFailedCompensation(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")

	directory, err := NewPatientDirectory(db)
	require.NoError(t, err)

	base := newTestProvider(t, db)

	var winnerID string
	intercept := &interceptProvider{
		Provider:  base,
		deleteErr: errors.New("provider unavailable"),
	}
	intercept.afterCreate = func(identity *auth.Identity) {
		if winnerID != "" {
			return
		}
		winner, err := base.CreateIdentity(context.Background(), auth.PseudoSubject(patient.ID), patient.ID)
		require.NoError(t, err)
		winnerID = winner.ID

		linked, err := directory.LinkIdentity(context.Background(), patient.ID, winner.ID)
		require.NoError(t, err)
		require.True(t, linked)
	}

	linker, err := NewIdentityLinker(intercept, directory)
	require.NoError(t, err)

	// The orphaned identity is accepted as a bounded leak: the request still
	// succeeds with the winner's identity.
	result, err := linker.EnsureIdentity(context.Background(), patient, auth.KindMagicLink)
	require.NoError(t, err)
	require.Equal(t, winnerID, result.IdentityID)

	// Both rows remain: the winner's linked identity plus the orphan.
	require.EqualValues(t, 2, identityCount(t, db))
}

func TestIdentityLinkerConcurrentFirstActivation(t *testing.T) {
	db := openServicesTestDB(t)
	patient := seedPatient(t, db, "Ada Osei")
	linker, directory := newTestLinker(t, db)

	const workers = 5

	var wg sync.WaitGroup
	results := make([]*LinkResult, workers)
	failures := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			snapshot := *patient // each request starts from the pending snapshot
			results[slot], failures[slot] = linker.EnsureIdentity(context.Background(), &snapshot, auth.KindMagicLink)
		}(i)
	}
	wg.Wait()

	firsts := 0
	var linkedID string
	for i := 0; i < workers; i++ {
		require.NoError(t, failures[i])
		require.NotNil(t, results[i])
		if results[i].FirstActivation {
			firsts++
		}
		if linkedID == "" {
			linkedID = results[i].IdentityID
		}
		require.Equal(t, linkedID, results[i].IdentityID)
	}

	require.Equal(t, 1, firsts, "exactly one caller performs the first activation")
	require.EqualValues(t, 1, identityCount(t, db))

	current, err := directory.GetPatient(context.Background(), patient.ID)
	require.NoError(t, err)
	require.Equal(t, models.PatientStatusActive, current.Status)
}
