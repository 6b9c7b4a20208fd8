package authkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryUserStore is an in-memory store intended for tests and single-process dev runs.
type MemoryUserStore struct {
	mutex   sync.Mutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemoryUserStore creates an empty in-memory store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

// CreateUser inserts a new account with a zero token version.
func (store *MemoryUserStore) CreateUser(ctx context.Context, newUser NewUser) (User, error) {
	email := NormalizeEmail(newUser.Email)
	if email == "" {
		return User{}, fmt.Errorf("user_store.create.memory: %w", ErrValidation)
	}
	role := newUser.Role
	if role == "" {
		role = RoleStandard
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, exists := store.byEmail[email]; exists {
		return User{}, fmt.Errorf("user_store.create.memory: %w", ErrDuplicateAccount)
	}
	now := time.Now().UTC()
	record := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(newUser.Name),
		PasswordHash: newUser.PasswordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	store.byID[record.ID] = record
	store.byEmail[email] = record.ID
	return *record, nil
}

// GetUserByEmail finds an account by its normalized email.
func (store *MemoryUserStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	applicationUserID, ok := store.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, fmt.Errorf("user_store.get_by_email.memory: %w", ErrUserNotFound)
	}
	return *store.byID[applicationUserID], nil
}

// GetUserByID finds an account by id.
func (store *MemoryUserStore) GetUserByID(ctx context.Context, applicationUserID string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byID[applicationUserID]
	if !ok {
		return User{}, fmt.Errorf("user_store.get_by_id.memory: %w", ErrUserNotFound)
	}
	return *record, nil
}

// ListUsers returns every account, newest first.
func (store *MemoryUserStore) ListUsers(ctx context.Context) ([]User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	users := make([]User, 0, len(store.byID))
	for _, record := range store.byID {
		users = append(users, *record)
	}
	sort.Slice(users, func(left, right int) bool {
		if users[left].CreatedAt.Equal(users[right].CreatedAt) {
			return users[left].ID > users[right].ID
		}
		return users[left].CreatedAt.After(users[right].CreatedAt)
	})
	return users, nil
}

// IncrementTokenVersion bumps the revocation counter under the store lock.
func (store *MemoryUserStore) IncrementTokenVersion(ctx context.Context, applicationUserID string) error {
	return store.mutate("increment_token_version", applicationUserID, func(record *User) {
		record.TokenVersion++
	})
}

// SetBlocked flips the blocked flag.
func (store *MemoryUserStore) SetBlocked(ctx context.Context, applicationUserID string, blocked bool) (User, error) {
	var updated User
	err := store.mutate("set_blocked", applicationUserID, func(record *User) {
		record.IsBlocked = blocked
		updated = *record
	})
	return updated, err
}

// SetRole changes the account role.
func (store *MemoryUserStore) SetRole(ctx context.Context, applicationUserID string, role Role) (User, error) {
	if !role.Valid() {
		return User{}, fmt.Errorf("user_store.set_role.memory: %w", errUnknownRole)
	}
	var updated User
	err := store.mutate("set_role", applicationUserID, func(record *User) {
		record.Role = role
		updated = *record
	})
	return updated, err
}

// DeleteUser removes an account.
func (store *MemoryUserStore) DeleteUser(ctx context.Context, applicationUserID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byID[applicationUserID]
	if !ok {
		return fmt.Errorf("user_store.delete.memory: %w", ErrUserNotFound)
	}
	delete(store.byEmail, record.Email)
	delete(store.byID, applicationUserID)
	return nil
}

func (store *MemoryUserStore) mutate(operation string, applicationUserID string, apply func(record *User)) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byID[applicationUserID]
	if !ok {
		return fmt.Errorf("user_store.%s.memory: %w", operation, ErrUserNotFound)
	}
	record.UpdatedAt = time.Now().UTC()
	apply(record)
	return nil
}
