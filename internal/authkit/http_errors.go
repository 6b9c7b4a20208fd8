package authkit

import (
	"errors"
	"net/http"
)

// StatusForError returns the HTTP status, error code, and message for an error.
// Unknown errors are infrastructure failures and map to 500.
func StatusForError(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized", "Unauthorized"
	case errors.Is(err, ErrAccountBlocked):
		return http.StatusForbidden, "account_blocked", "Account blocked"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden", "Forbidden"
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusBadRequest, "invalid_credentials", "Invalid credentials"
	case errors.Is(err, ErrDuplicateAccount):
		return http.StatusBadRequest, "duplicate_account", "Email already in use"
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "invalid_request", "Invalid request"
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound, "not_found", "Not found"
	default:
		return http.StatusInternalServerError, "internal_error", "Internal server error"
	}
}
