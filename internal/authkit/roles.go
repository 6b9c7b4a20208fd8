package authkit

import (
	"fmt"
	"slices"
	"strings"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleStandard   Role = "standard"
	RoleSuperadmin Role = "superadmin"
)

var errUnknownRole = fmt.Errorf("auth.unknown_role: %w", ErrValidation)

// Valid reports whether the role belongs to the enumerated set.
func (role Role) Valid() bool {
	switch role {
	case RoleStandard, RoleSuperadmin:
		return true
	default:
		return false
	}
}

// ParseRole converts stored text into a Role.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", errUnknownRole, value)
	}
	return role, nil
}

// RoleAllowed reports whether actual is one of the allowed roles.
func RoleAllowed(actual Role, allowed []Role) bool {
	if !actual.Valid() {
		return false
	}
	return slices.Contains(allowed, actual)
}
