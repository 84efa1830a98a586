package services

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Domain errors surfaced by the activation services. Handlers translate these
// into wire-level codes.
var (
	ErrInviteNotFound        = errors.New("invite: not found")
	ErrInviteExpired         = errors.New("invite: expired")
	ErrInviteAlreadyRedeemed = errors.New("invite: already redeemed")
	ErrOTPInvalid            = errors.New("otp: code mismatch")
	ErrOTPExpired            = errors.New("otp: code expired")
	ErrChallengeNotRequested = errors.New("otp: challenge not requested")
	ErrPhoneMissing          = errors.New("activation: no phone number on file")
	ErrPatientNotFound       = errors.New("patient: not found")
	ErrIdentityNotFound      = errors.New("identity: not found")
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}
