package authkit

import (
	"context"
	"strings"
	"time"
)

// User is the credential-bearing account record.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	IsBlocked    bool
	TokenVersion int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser carries the fields required to create an account.
type NewUser struct {
	Email        string
	Name         string
	PasswordHash string
	Role         Role
}

// PublicUser is the outward projection returned by login and registration.
type PublicUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Public projects the user without credential material.
func (user User) Public() PublicUser {
	return PublicUser{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	}
}

// UserStore persists accounts. Every mutation is a single atomic field update.
type UserStore interface {
	CreateUser(ctx context.Context, newUser NewUser) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, applicationUserID string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	// IncrementTokenVersion bumps the revocation counter by exactly one.
	IncrementTokenVersion(ctx context.Context, applicationUserID string) error
	SetBlocked(ctx context.Context, applicationUserID string, blocked bool) (User, error)
	SetRole(ctx context.Context, applicationUserID string, role Role) (User, error)
	DeleteUser(ctx context.Context, applicationUserID string) error
}

// NormalizeEmail trims and lowercases an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserView is the account projection served to the profile and admin endpoints.
type UserView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	IsBlocked bool      `json:"isBlocked"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// View projects the user for account listings.
func (user User) View() UserView {
	return UserView{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      user.Role,
		IsBlocked: user.IsBlocked,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
