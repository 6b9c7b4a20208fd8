package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("user_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("user_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("user_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("user_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("user_store.unsupported_no_scheme")

	// ErrCorruptRecord indicates a stored row that no longer decodes into an account.
	ErrCorruptRecord = errors.New("user_store.corrupt_record")
)

// DatabaseUserStore persists accounts using GORM.
type DatabaseUserStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseUserStore) Driver() string {
	return store.driverLabel
}

type userRecord struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex;not null"`
	Name         string    `gorm:"column:name;not null"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	Role         string    `gorm:"column:role;not null;default:'standard'"`
	IsBlocked    bool      `gorm:"column:is_blocked;not null;default:false"`
	TokenVersion int64     `gorm:"column:token_version;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;index"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (userRecord) TableName() string {
	return "users"
}

func (record userRecord) toUser(driverLabel string) (User, error) {
	role, roleErr := ParseRole(record.Role)
	if roleErr != nil {
		return User{}, fmt.Errorf("user_store.decode.%s: %w: user %s has role %q", driverLabel, ErrCorruptRecord, record.ID, record.Role)
	}
	return User{
		ID:           record.ID,
		Email:        record.Email,
		Name:         record.Name,
		PasswordHash: record.PasswordHash,
		Role:         role,
		IsBlocked:    record.IsBlocked,
		TokenVersion: record.TokenVersion,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}, nil
}

// NewDatabaseUserStore constructs a GORM-backed store and migrates the users table.
func NewDatabaseUserStore(ctx context.Context, databaseURL string) (*DatabaseUserStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("user_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if openErr != nil {
		return nil, fmt.Errorf("user_store.open.%s: %w", driverLabel, openErr)
	}
	if driverLabel == "sqlite" {
		// SQLite allows a single writer; queue writers on one connection.
		sqlDB, sqlErr := gormDB.DB()
		if sqlErr != nil {
			return nil, fmt.Errorf("user_store.open.%s: %w", driverLabel, sqlErr)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("user_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseUserStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Close releases the underlying connection pool.
func (store *DatabaseUserStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("user_store.close.%s: %w", store.driverLabel, err)
	}
	return sqlDB.Close()
}

// CreateUser inserts a new account with a zero token version.
func (store *DatabaseUserStore) CreateUser(ctx context.Context, newUser NewUser) (User, error) {
	email := NormalizeEmail(newUser.Email)
	if email == "" {
		return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, ErrValidation)
	}
	role := newUser.Role
	if role == "" {
		role = RoleStandard
	}
	if !role.Valid() {
		return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, errUnknownRole)
	}
	now := time.Now().UTC()
	record := userRecord{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(newUser.Name),
		PasswordHash: newUser.PasswordHash,
		Role:         string(role),
		IsBlocked:    false,
		TokenVersion: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, ErrDuplicateAccount)
		}
		return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, err)
	}
	return record.toUser(store.driverLabel)
}

// GetUserByEmail finds an account by its normalized email.
func (store *DatabaseUserStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return store.take(ctx, "get_by_email", "email = ?", NormalizeEmail(email))
}

// GetUserByID finds an account by id.
func (store *DatabaseUserStore) GetUserByID(ctx context.Context, applicationUserID string) (User, error) {
	return store.take(ctx, "get_by_id", "id = ?", applicationUserID)
}

// ListUsers returns every account, newest first.
func (store *DatabaseUserStore) ListUsers(ctx context.Context) ([]User, error) {
	var records []userRecord
	if err := store.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("user_store.list.%s: %w", store.driverLabel, err)
	}
	users := make([]User, 0, len(records))
	for _, record := range records {
		user, decodeErr := record.toUser(store.driverLabel)
		if decodeErr != nil {
			return nil, decodeErr
		}
		users = append(users, user)
	}
	return users, nil
}

// IncrementTokenVersion issues a single UPDATE token_version = token_version + 1.
func (store *DatabaseUserStore) IncrementTokenVersion(ctx context.Context, applicationUserID string) error {
	result := store.db.WithContext(ctx).Model(&userRecord{}).
		Where("id = ?", applicationUserID).
		Updates(map[string]interface{}{
			"token_version": gorm.Expr("token_version + ?", 1),
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("user_store.increment_token_version.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user_store.increment_token_version.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	return nil
}

// SetBlocked flips the blocked flag and returns the updated account.
func (store *DatabaseUserStore) SetBlocked(ctx context.Context, applicationUserID string, blocked bool) (User, error) {
	return store.updateColumn(ctx, "set_blocked", applicationUserID, "is_blocked", blocked)
}

// SetRole changes the account role and returns the updated account.
func (store *DatabaseUserStore) SetRole(ctx context.Context, applicationUserID string, role Role) (User, error) {
	if !role.Valid() {
		return User{}, fmt.Errorf("user_store.set_role.%s: %w", store.driverLabel, errUnknownRole)
	}
	return store.updateColumn(ctx, "set_role", applicationUserID, "role", string(role))
}

// DeleteUser removes an account.
func (store *DatabaseUserStore) DeleteUser(ctx context.Context, applicationUserID string) error {
	result := store.db.WithContext(ctx).Where("id = ?", applicationUserID).Delete(&userRecord{})
	if result.Error != nil {
		return fmt.Errorf("user_store.delete.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user_store.delete.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	return nil
}

func (store *DatabaseUserStore) take(ctx context.Context, operation string, condition string, argument string) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where(condition, argument).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("user_store.%s.%s: %w", operation, store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("user_store.%s.%s: %w", operation, store.driverLabel, err)
	}
	return record.toUser(store.driverLabel)
}

func (store *DatabaseUserStore) updateColumn(ctx context.Context, operation string, applicationUserID string, column string, value interface{}) (User, error) {
	result := store.db.WithContext(ctx).Model(&userRecord{}).
		Where("id = ?", applicationUserID).
		Updates(map[string]interface{}{
			column:       value,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return User{}, fmt.Errorf("user_store.%s.%s: %w", operation, store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return User{}, fmt.Errorf("user_store.%s.%s: %w", operation, store.driverLabel, ErrUserNotFound)
	}
	return store.take(ctx, operation, "id = ?", applicationUserID)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "duplicate key")
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("user_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("user_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("user_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("user_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
