package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SuperadminSeed describes the bootstrap administrator.
type SuperadminSeed struct {
	Email      string
	Password   string
	Name       string
	BcryptCost int
}

// SeedOutcome reports what SeedSuperadmin changed.
type SeedOutcome string

const (
	SeedCreated   SeedOutcome = "created"
	SeedPromoted  SeedOutcome = "promoted"
	SeedUnchanged SeedOutcome = "unchanged"
)

// SeedSuperadmin creates the superadmin account, or promotes an existing account with the same email.
// Running it again against a seeded store changes nothing.
func SeedSuperadmin(ctx context.Context, users UserStore, seed SuperadminSeed) (User, SeedOutcome, error) {
	email := NormalizeEmail(seed.Email)
	if email == "" || seed.Password == "" || strings.TrimSpace(seed.Name) == "" {
		return User{}, "", fmt.Errorf("auth.seed: %w", ErrValidation)
	}

	existing, lookupErr := users.GetUserByEmail(ctx, email)
	switch {
	case lookupErr == nil:
		if existing.Role == RoleSuperadmin {
			return existing, SeedUnchanged, nil
		}
		promoted, promoteErr := users.SetRole(ctx, existing.ID, RoleSuperadmin)
		if promoteErr != nil {
			return User{}, "", fmt.Errorf("auth.seed.promote: %w", promoteErr)
		}
		return promoted, SeedPromoted, nil
	case !errors.Is(lookupErr, ErrUserNotFound):
		return User{}, "", fmt.Errorf("auth.seed.lookup: %w", lookupErr)
	}

	passwordHash, hashErr := HashPassword(seed.Password, seed.BcryptCost)
	if hashErr != nil {
		return User{}, "", fmt.Errorf("auth.seed: %w", hashErr)
	}
	created, createErr := users.CreateUser(ctx, NewUser{
		Email:        email,
		Name:         seed.Name,
		PasswordHash: passwordHash,
		Role:         RoleSuperadmin,
	})
	if createErr != nil {
		return User{}, "", fmt.Errorf("auth.seed.create: %w", createErr)
	}
	return created, SeedCreated, nil
}
