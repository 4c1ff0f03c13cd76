// Package sso persists the SSOIdentity link between an external identity provider's subject and a local user,
// so a returning OIDC login resolves to the same account without re-registering.
package sso

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no identity link exists for a given provider/subject pair.
var ErrNotFound = errors.New("sso identity not found")

// Identity links one external identity provider's subject claim to a local user.
type Identity struct {
	Provider string
	Subject  string
	UserID   uuid.UUID
}

// Repository defines the data-access contract for SSO identity links.
type Repository interface {
	// FindUser returns the local user linked to provider/subject, or ErrNotFound if no link exists yet.
	FindUser(ctx context.Context, provider, subject string) (uuid.UUID, error)
	// Link records that subject (at provider) maps to userID. Linking the same provider/subject pair again is a
	// no-op as long as it still points at the same user.
	Link(ctx context.Context, provider, subject string, userID uuid.UUID) error
}
