// Package user implements the User data model: identity, profile, presence status, session token, and the optional
// TOTP second factor.
package user

import (
	"context"
	"errors"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the user package.
var (
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidUsername    = errors.New("username must be 3-20 characters, letters, digits, and underscores only")
	ErrNicknameLength     = errors.New("nickname must be between 1 and 32 characters")
	ErrStatusMessageRange = errors.New("status message must be at most 120 characters")
	ErrInvalidPassword    = errors.New("password does not meet the minimum requirements")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// Status is the presence status a user's row reports when no session is live to compute a real-time value.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// User holds the core identity and profile fields read from the database. PasswordHash and the MFA secret are never
// embedded here; only Credentials carries them, so a handler that only has a *User cannot leak a credential by
// accident.
type User struct {
	ID            uuid.UUID
	Username      string
	Nickname      string
	ProfileImage  *string
	Status        Status
	StatusMessage *string
	MFAEnabled    bool
	SessionToken  *string
	CreatedAt     time.Time
}

// Credentials extends User with the password hash and, when MFA is enabled, the encrypted TOTP secret. Only the
// repository methods that serve the login path and password re-verification (GetCredentialsByID) return this type.
type Credentials struct {
	User
	PasswordHash     string
	MFASecretWrapped *string
}

// MFARecoveryCode is a single unused recovery code, stored hashed.
type MFARecoveryCode struct {
	ID       uuid.UUID
	CodeHash string
}

// CreateParams groups the inputs for registering a new user.
type CreateParams struct {
	Username     string
	PasswordHash string
}

// UpdateParams groups the optional fields for a profile update.
type UpdateParams struct {
	Nickname      *string
	ProfileImage  *string
	StatusMessage *string
}

// ValidateUsername checks the 3-20 char, [A-Za-z0-9_] constraint.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateNickname checks that a non-empty nickname is between 1 and 32 Unicode characters.
func ValidateNickname(nickname string) error {
	if n := utf8.RuneCountInString(nickname); n < 1 || n > 32 {
		return ErrNicknameLength
	}
	return nil
}

// ValidateStatusMessage checks that a non-nil status message is at most 120 Unicode characters.
func ValidateStatusMessage(msg *string) error {
	if msg == nil {
		return nil
	}
	if utf8.RuneCountInString(*msg) > 120 {
		return ErrStatusMessageRange
	}
	return nil
}

// ValidatePassword checks the minimum-length requirement for a plaintext password before it is hashed.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

// Repository defines the data-access contract for user operations. Satisfies session.TokenLookup via
// CurrentSessionToken.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*Credentials, error)
	GetCredentialsByID(ctx context.Context, id uuid.UUID) (*Credentials, error)
	ListAll(ctx context.Context) ([]*User, error)
	CurrentSessionToken(ctx context.Context, userID uuid.UUID) (string, error)
	RotateSessionToken(ctx context.Context, userID uuid.UUID) (string, error)
	UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*User, error)
	SetStatus(ctx context.Context, userID uuid.UUID, status Status) error
	EnableMFA(ctx context.Context, userID uuid.UUID, wrappedSecret string, codeHashes []string) error
	DisableMFA(ctx context.Context, userID uuid.UUID) error
	GetUnusedRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]MFARecoveryCode, error)
	UseRecoveryCode(ctx context.Context, codeID uuid.UUID) error
	ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, codeHashes []string) error
	Delete(ctx context.Context, id uuid.UUID) error
}
