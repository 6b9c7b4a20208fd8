package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/todoauth/internal/authkit"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func TestConfigureCORS(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	middleware, err := ConfigureCORS(zap.NewNop(), []string{"http://localhost:5173"})
	if err != nil {
		t.Fatalf("unexpected error configuring CORS: %v", err)
	}
	router.Use(middleware)
	router.OPTIONS("/resource", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodOptions, "/resource", nil)
	request.Header.Set("Origin", "http://localhost:5173")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from preflight, got %d", recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "http://localhost:5173" {
		t.Fatalf("unexpected allowed origin header: %q", origin)
	}
	if credentials := recorder.Header().Get("Access-Control-Allow-Credentials"); credentials != "true" {
		t.Fatalf("expected credentials to be allowed, got %q", credentials)
	}
	if allowed := recorder.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(strings.ToLower(allowed), "authorization") {
		t.Fatalf("expected Authorization in allowed headers, got %q", allowed)
	}
}

func TestConfigureCORSRejectsUnsafeOrigins(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		origins []string
		wantErr error
	}{
		{name: "nil", origins: nil, wantErr: errEmptyAllowedOrigins},
		{name: "blank", origins: []string{"  "}, wantErr: errEmptyAllowedOrigins},
		{name: "wildcard", origins: []string{"*"}, wantErr: errWildcardOrigin},
		{name: "path", origins: []string{"https://app.example.com/login"}, wantErr: errInvalidOrigin},
		{name: "scheme", origins: []string{"ftp://app.example.com"}, wantErr: errInvalidOrigin},
		{name: "bare host", origins: []string{"app.example.com"}, wantErr: errInvalidOrigin},
	}
	for _, testCase := range testCases {
		if _, err := ConfigureCORS(nil, testCase.origins); !errors.Is(err, testCase.wantErr) {
			t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.wantErr, err)
		}
	}
}

func TestSanitizeOriginsNormalizesAndDeduplicates(t *testing.T) {
	t.Parallel()

	sanitized, err := sanitizeOrigins(zap.NewNop(), []string{"https://B.example.com/", "https://a.example.com", "https://b.example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sanitized) != 2 || sanitized[0] != "https://a.example.com" || sanitized[1] != "https://b.example.com" {
		t.Fatalf("unexpected sanitized origins: %v", sanitized)
	}
}

func TestSecurityHeadersHealthAndNotFound(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/health", HandleHealth)
	router.NoRoute(HandleNotFound)

	healthRecorder := httptest.NewRecorder()
	router.ServeHTTP(healthRecorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if healthRecorder.Code != http.StatusOK || strings.TrimSpace(healthRecorder.Body.String()) != `{"ok":true}` {
		t.Fatalf("unexpected health response: %d %s", healthRecorder.Code, healthRecorder.Body.String())
	}
	if healthRecorder.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected nosniff header")
	}
	if healthRecorder.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("expected no HSTS on plain HTTP")
	}

	missingRecorder := httptest.NewRecorder()
	router.ServeHTTP(missingRecorder, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if missingRecorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missingRecorder.Code)
	}
	if !strings.Contains(missingRecorder.Body.String(), "not_found") {
		t.Fatalf("expected JSON not_found body, got %s", missingRecorder.Body.String())
	}
}

type fakeWindowCounter struct {
	mutex  sync.Mutex
	counts map[string]int64
	err    error
}

func (counter *fakeWindowCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	counter.mutex.Lock()
	defer counter.mutex.Unlock()
	if counter.err != nil {
		return 0, 0, counter.err
	}
	if counter.counts == nil {
		counter.counts = make(map[string]int64)
	}
	counter.counts[key]++
	return counter.counts[key], window / 2, nil
}

func newRateLimitedRouter(t *testing.T, counter WindowCounter, policy RateLimitPolicy) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware, err := RateLimit(zaptest.NewLogger(t), counter, policy)
	if err != nil {
		t.Fatalf("unexpected error configuring rate limit: %v", err)
	}
	router := gin.New()
	router.Use(middleware)
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})
	return router
}

func TestRateLimitRejectsAfterLimit(t *testing.T) {
	t.Parallel()

	router := newRateLimitedRouter(t, &fakeWindowCounter{}, RateLimitPolicy{MaxRequests: 2, Window: time.Minute})

	for attempt := 1; attempt <= 2; attempt++ {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if recorder.Code != http.StatusNoContent {
			t.Fatalf("attempt %d: expected 204, got %d", attempt, recorder.Code)
		}
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}
	if retryAfter := recorder.Header().Get("Retry-After"); retryAfter != "30" {
		t.Fatalf("expected Retry-After 30, got %q", retryAfter)
	}
	if remaining := recorder.Header().Get("X-RateLimit-Remaining"); remaining != "0" {
		t.Fatalf("expected remaining 0, got %q", remaining)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	t.Parallel()

	router := newRateLimitedRouter(t, &fakeWindowCounter{err: errors.New("redis: connection refused")}, RateLimitPolicy{MaxRequests: 1, Window: time.Minute})

	for attempt := 0; attempt < 3; attempt++ {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if recorder.Code != http.StatusNoContent {
			t.Fatalf("expected requests to pass while the counter is down, got %d", recorder.Code)
		}
	}
}

func TestRateLimitValidatesPolicy(t *testing.T) {
	t.Parallel()

	if _, err := RateLimit(nil, nil, RateLimitPolicy{MaxRequests: 1, Window: time.Minute}); !errors.Is(err, errRateLimitMissingCounter) {
		t.Fatalf("expected missing counter error, got %v", err)
	}
	if _, err := RateLimit(nil, &fakeWindowCounter{}, RateLimitPolicy{MaxRequests: 0, Window: time.Minute}); !errors.Is(err, errRateLimitInvalidPolicy) {
		t.Fatalf("expected invalid policy error, got %v", err)
	}
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisClient("http://localhost:6379"); err == nil {
		t.Fatalf("expected error for non-redis scheme")
	}
	client, err := NewRedisClient("redis://localhost:6379/2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = client.Close() }()
	if client.Options().DB != 2 {
		t.Fatalf("expected db 2, got %d", client.Options().DB)
	}
}

type adminHarness struct {
	router     *gin.Engine
	service    *authkit.SessionService
	users      *authkit.MemoryUserStore
	adminToken string
	adminID    string
}

func newAdminHarness(t *testing.T) *adminHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	users := authkit.NewMemoryUserStore()
	service, err := authkit.NewSessionService(authkit.ServerConfig{
		AccessTokenSecret:  []byte("access-secret-for-admin-tests"),
		RefreshTokenSecret: []byte("refresh-secret-for-admin-tests"),
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    time.Hour,
		SameSiteMode:       http.SameSiteLaxMode,
		BcryptCost:         bcrypt.MinCost,
	}, authkit.ServiceDependencies{Users: users, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("failed to build session service: %v", err)
	}
	admin := registerUser(t, service, "root@example.com")
	if _, err := users.SetRole(context.Background(), admin.User.ID, authkit.RoleSuperadmin); err != nil {
		t.Fatalf("promotion failed: %v", err)
	}
	router := gin.New()
	MountAdminRoutes(router, service, zaptest.NewLogger(t))
	return &adminHarness{router: router, service: service, users: users, adminToken: admin.AccessToken, adminID: admin.User.ID}
}

func registerUser(t *testing.T, service *authkit.SessionService, email string) authkit.Session {
	t.Helper()
	session, err := service.Register(context.Background(), authkit.RegisterInput{Name: "Member", Email: email, Password: "secret1"})
	if err != nil {
		t.Fatalf("register %s failed: %v", email, err)
	}
	return session
}

func (harness *adminHarness) do(method string, path string, accessToken string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, nil)
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func TestAdminListUsers(t *testing.T) {
	t.Parallel()
	harness := newAdminHarness(t)
	registerUser(t, harness.service, "member@example.com")

	recorder := harness.do(http.MethodGet, "/admin/users", harness.adminToken)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Users []authkit.UserView `json:"users"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(payload.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(payload.Users))
	}
	if strings.Contains(recorder.Body.String(), "password") {
		t.Fatalf("expected no credential material in listing")
	}
}

func TestAdminRoutesRequireSuperadmin(t *testing.T) {
	t.Parallel()
	harness := newAdminHarness(t)
	member := registerUser(t, harness.service, "member@example.com")

	if recorder := harness.do(http.MethodGet, "/admin/users", ""); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
	if recorder := harness.do(http.MethodGet, "/admin/users", member.AccessToken); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for standard role, got %d", recorder.Code)
	}
}

func TestAdminBlockAndUnblock(t *testing.T) {
	t.Parallel()
	harness := newAdminHarness(t)
	member := registerUser(t, harness.service, "member@example.com")

	blockRecorder := harness.do(http.MethodPatch, "/admin/block/"+member.User.ID, harness.adminToken)
	if blockRecorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", blockRecorder.Code, blockRecorder.Body.String())
	}
	if !strings.Contains(blockRecorder.Body.String(), `"isBlocked":true`) {
		t.Fatalf("expected blocked user in payload, got %s", blockRecorder.Body.String())
	}
	if _, err := harness.service.Authenticate(context.Background(), member.AccessToken); !errors.Is(err, authkit.ErrAccountBlocked) {
		t.Fatalf("expected blocked member to be rejected by the gate, got %v", err)
	}

	unblockRecorder := harness.do(http.MethodPatch, "/admin/unblock/"+member.User.ID, harness.adminToken)
	if unblockRecorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", unblockRecorder.Code)
	}
	if _, err := harness.service.Authenticate(context.Background(), member.AccessToken); err != nil {
		t.Fatalf("expected unblocked member to pass the gate, got %v", err)
	}

	if recorder := harness.do(http.MethodPatch, "/admin/block/missing-id", harness.adminToken); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", recorder.Code)
	}
}

func TestAdminCannotTargetSelf(t *testing.T) {
	t.Parallel()
	harness := newAdminHarness(t)

	for _, request := range []struct {
		method string
		path   string
	}{
		{method: http.MethodPatch, path: "/admin/block/" + harness.adminID},
		{method: http.MethodPatch, path: "/admin/unblock/" + harness.adminID},
		{method: http.MethodDelete, path: "/admin/user/" + harness.adminID},
	} {
		recorder := harness.do(request.method, request.path, harness.adminToken)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected 400, got %d", request.method, request.path, recorder.Code)
		}
	}
	stored, err := harness.users.GetUserByID(context.Background(), harness.adminID)
	if err != nil || stored.IsBlocked {
		t.Fatalf("expected admin to remain active, got %#v err=%v", stored, err)
	}
}

func TestAdminDeleteUser(t *testing.T) {
	t.Parallel()
	harness := newAdminHarness(t)
	member := registerUser(t, harness.service, "member@example.com")

	recorder := harness.do(http.MethodDelete, "/admin/user/"+member.User.ID, harness.adminToken)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if _, err := harness.users.GetUserByID(context.Background(), member.User.ID); !errors.Is(err, authkit.ErrUserNotFound) {
		t.Fatalf("expected user to be deleted, got %v", err)
	}
	if _, err := harness.service.Authenticate(context.Background(), member.AccessToken); !errors.Is(err, authkit.ErrUnauthenticated) {
		t.Fatalf("expected deleted user to be unauthenticated, got %v", err)
	}
	if again := harness.do(http.MethodDelete, "/admin/user/"+member.User.ID, harness.adminToken); again.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", again.Code)
	}
}

func TestAdminRevokeSessions(t *testing.T) {
	t.Parallel()
	harness := newAdminHarness(t)
	member := registerUser(t, harness.service, "member@example.com")

	recorder := harness.do(http.MethodPost, "/admin/users/"+member.User.ID+"/revoke-sessions", harness.adminToken)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if _, err := harness.service.Refresh(context.Background(), member.RefreshToken); !errors.Is(err, authkit.ErrUnauthenticated) {
		t.Fatalf("expected revoked refresh token to fail, got %v", err)
	}
	if missing := harness.do(http.MethodPost, "/admin/users/missing/revoke-sessions", harness.adminToken); missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", missing.Code)
	}
}
