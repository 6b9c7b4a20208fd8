package authkit

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newControllableClock() *controllableClock {
	return &controllableClock{current: time.Unix(1700000000, 0).UTC()}
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

func newTestServerConfig() ServerConfig {
	return ServerConfig{
		AccessTokenSecret:  []byte("access-secret-1234567890"),
		RefreshTokenSecret: []byte("refresh-secret-0987654321"),
		TokenIssuer:        "test-issuer",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    7 * 24 * time.Hour,
		RefreshCookieName:  "jid",
		RefreshCookiePath:  "/auth/refresh",
		SameSiteMode:       http.SameSiteLaxMode,
		BcryptCost:         bcrypt.MinCost,
	}
}

func newTestService(t *testing.T, users UserStore, clock Clock, metrics MetricsRecorder) *SessionService {
	t.Helper()
	service, err := NewSessionService(newTestServerConfig(), ServiceDependencies{
		Users:   users,
		Clock:   clock,
		Logger:  zaptest.NewLogger(t),
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("failed to build session service: %v", err)
	}
	return service
}

func newSQLiteStore(t *testing.T) *DatabaseUserStore {
	t.Helper()
	databaseURL := "sqlite://" + filepath.Join(t.TempDir(), "users.db")
	store, err := NewDatabaseUserStore(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustRegister(t *testing.T, service *SessionService, email string, password string) Session {
	t.Helper()
	session, err := service.Register(context.Background(), RegisterInput{
		Name:     "Test User",
		Email:    email,
		Password: password,
	})
	if err != nil {
		t.Fatalf("register %s failed: %v", email, err)
	}
	return session
}
