package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/veritashealth/invitegate/internal/auth"
	"github.com/veritashealth/invitegate/internal/models"
	"github.com/veritashealth/invitegate/pkg/logger"
	"github.com/veritashealth/invitegate/pkg/metrics"
)

// LinkResult is the outcome of ensuring a patient has exactly one auth identity.
type LinkResult struct {
	IdentityID      string
	Credential      *auth.Credential
	FirstActivation bool
}

// IdentityLinker guarantees the 1:1 association between a patient and an
// external auth identity. First activation creates and conditionally links an
// identity; every later call reuses the linked one and only mints a fresh
// credential.
type IdentityLinker struct {
	provider  auth.Provider
	directory *PatientDirectory
	log       *zap.Logger
}

// NewIdentityLinker constructs an IdentityLinker.
func NewIdentityLinker(provider auth.Provider, directory *PatientDirectory) (*IdentityLinker, error) {
	if provider == nil {
		return nil, errors.New("identity linker: provider is required")
	}
	if directory == nil {
		return nil, errors.New("identity linker: directory is required")
	}
	return &IdentityLinker{
		provider:  provider,
		directory: directory,
		log:       logger.WithModule("identity-linker"),
	}, nil
}

// EnsureIdentity returns the patient's auth identity and a freshly minted
// short-lived credential, creating and linking the identity if this is the
// first successful activation. Safe under concurrent calls for the same
// patient: the conditional link admits exactly one winner and losers delete
// their just-created identity and reuse the winner's.
func (l *IdentityLinker) EnsureIdentity(ctx context.Context, patient *models.Patient, kind auth.CredentialKind) (*LinkResult, error) {
	if patient == nil {
		return nil, errors.New("identity linker: patient is required")
	}

	if patient.AuthIdentityID != nil {
		credential, err := l.provider.IssueOneTimeCredential(ctx, *patient.AuthIdentityID, kind)
		if err != nil {
			return nil, fmt.Errorf("identity linker: issue credential: %w", err)
		}
		return &LinkResult{IdentityID: *patient.AuthIdentityID, Credential: credential}, nil
	}

	identity, err := l.provider.CreateIdentity(ctx, auth.PseudoSubject(patient.ID), patient.ID)
	if err != nil {
		return nil, fmt.Errorf("identity linker: create identity: %w", err)
	}

	linked, err := l.directory.LinkIdentity(ctx, patient.ID, identity.ID)
	if err != nil {
		l.compensate(ctx, identity.ID, patient.ID)
		return nil, fmt.Errorf("identity linker: conditional link: %w", err)
	}

	if linked {
		credential, err := l.provider.IssueOneTimeCredential(ctx, identity.ID, kind)
		if err != nil {
			return nil, fmt.Errorf("identity linker: issue credential: %w", err)
		}
		return &LinkResult{IdentityID: identity.ID, Credential: credential, FirstActivation: true}, nil
	}

	// Lost the race: another request linked first. Delete our identity and
	// fall back to the winner's.
	l.compensate(ctx, identity.ID, patient.ID)

	current, err := l.directory.GetPatient(ctx, patient.ID)
	if err != nil {
		return nil, fmt.Errorf("identity linker: reload patient: %w", err)
	}
	if current.AuthIdentityID == nil {
		return nil, errors.New("identity linker: link race left patient unlinked")
	}

	credential, err := l.provider.IssueOneTimeCredential(ctx, *current.AuthIdentityID, kind)
	if err != nil {
		return nil, fmt.Errorf("identity linker: issue credential: %w", err)
	}
	return &LinkResult{IdentityID: *current.AuthIdentityID, Credential: credential}, nil
}

// compensate deletes an identity that never got linked. A failed delete leaks
// the identity at the provider; the leak is bounded, logged and counted so it
// can be reconciled out of band, and must not fail the request.
func (l *IdentityLinker) compensate(ctx context.Context, identityID, patientID string) {
	if err := l.provider.DeleteIdentity(ctx, identityID); err != nil {
		metrics.OrphanedIdentities.Inc()
		l.log.Error("compensating identity delete failed; orphan requires reconciliation",
			zap.String("identity_id", identityID),
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}
}
