package authkit

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated covers missing, invalid, expired, or revoked credentials and vanished users.
	ErrUnauthenticated = errors.New("auth.unauthenticated")
	// ErrForbidden is the parent of every structurally valid but disallowed credential.
	ErrForbidden = errors.New("auth.forbidden")
	// ErrAccountBlocked signals an account disabled by an administrator.
	ErrAccountBlocked = fmt.Errorf("auth.account_blocked: %w", ErrForbidden)
	// ErrRoleForbidden signals an identity whose role is outside the allowed set.
	ErrRoleForbidden = fmt.Errorf("auth.role_forbidden: %w", ErrForbidden)
	// ErrInvalidCredentials is returned for any login failure that must not reveal which field was wrong.
	ErrInvalidCredentials = errors.New("auth.invalid_credentials")
	// ErrDuplicateAccount indicates the registration email is already taken.
	ErrDuplicateAccount = errors.New("auth.duplicate_account")
	// ErrValidation indicates a malformed request shape.
	ErrValidation = errors.New("auth.validation")

	// ErrInvalidToken collapses every token verification failure into one kind.
	ErrInvalidToken = errors.New("jwt.invalid_token")

	// ErrUserNotFound indicates no user matched the lookup.
	ErrUserNotFound = errors.New("user_store.not_found")
)
