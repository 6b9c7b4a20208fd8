// Package sessionclient talks to the todoauth API the way a browser client does: the access token
// lives in memory, the refresh token lives in a cookie jar, and a 401 triggers one refresh and one retry.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	registerPath = "auth/register"
	loginPath    = "auth/login"
	logoutPath   = "auth/logout"
	refreshPath  = "auth/refresh"
	profilePath  = "auth/profile"

	defaultTimeout = 15 * time.Second
)

// Sentinel errors exposed by the client.
var (
	ErrMissingBaseURL  = errors.New("session.client.missing_base_url")
	ErrInvalidBaseURL  = errors.New("session.client.invalid_base_url")
	ErrSessionExpired  = errors.New("session.client.session_expired")
	ErrUnexpectedReply = errors.New("session.client.unexpected_reply")
)

// APIError is a non-2xx reply decoded from the server error envelope.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (apiError *APIError) Error() string {
	return fmt.Sprintf("session.client.api_error: status=%d code=%s message=%s", apiError.Status, apiError.Code, apiError.Message)
}

// User is the public account projection returned on login and registration.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Profile is the account view returned by the profile endpoint.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsBlocked bool      `json:"isBlocked"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, for example http://localhost:5000/api.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger

	tokenMutex  sync.RWMutex
	accessToken string

	refreshMutex sync.Mutex
}

type sessionReply struct {
	User        User   `json:"user"`
	AccessToken string `json:"accessToken"`
}

// New constructs a Client. A cookie jar is attached when the HTTP client has none.
func New(configuration Config) (*Client, error) {
	if strings.TrimSpace(configuration.BaseURL) == "" {
		return nil, fmt.Errorf("session.client.new: %w", ErrMissingBaseURL)
	}
	parsed, parseErr := url.Parse(strings.TrimRight(configuration.BaseURL, "/") + "/")
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("session.client.new: %w: %s", ErrInvalidBaseURL, configuration.BaseURL)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Jar == nil {
		jar, jarErr := cookiejar.New(nil)
		if jarErr != nil {
			return nil, fmt.Errorf("session.client.new: %w", jarErr)
		}
		cloned := *httpClient
		cloned.Jar = jar
		httpClient = &cloned
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    parsed,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// AccessToken returns the in-memory access token, empty when signed out.
func (client *Client) AccessToken() string {
	client.tokenMutex.RLock()
	defer client.tokenMutex.RUnlock()
	return client.accessToken
}

func (client *Client) setAccessToken(token string) {
	client.tokenMutex.Lock()
	defer client.tokenMutex.Unlock()
	client.accessToken = token
}

// Register creates an account and keeps the resulting session.
func (client *Client) Register(ctx context.Context, name string, email string, password string) (User, error) {
	return client.openSession(ctx, registerPath, map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
}

// Login opens a session for existing credentials.
func (client *Client) Login(ctx context.Context, email string, password string) (User, error) {
	return client.openSession(ctx, loginPath, map[string]string{
		"email":    email,
		"password": password,
	})
}

// Logout revokes the server-side session and forgets the access token.
// The refresh cookie is scoped to the refresh path, so it is forwarded to the logout endpoint explicitly.
func (client *Client) Logout(ctx context.Context) error {
	defer client.setAccessToken("")
	refreshCookies := client.httpClient.Jar.Cookies(client.resolve(refreshPath))
	response, err := client.send(ctx, http.MethodPost, logoutPath, nil, "", refreshCookies...)
	if err != nil {
		return err
	}
	return decodeReply(response, nil)
}

// Profile fetches the caller's account.
func (client *Client) Profile(ctx context.Context) (Profile, error) {
	var reply struct {
		User Profile `json:"user"`
	}
	if err := client.Do(ctx, http.MethodGet, profilePath, nil, &reply); err != nil {
		return Profile{}, err
	}
	return reply.User, nil
}

// Do sends an authenticated request to a path below the base URL and decodes the JSON reply into out.
// A 401 reply triggers exactly one refresh and one retry.
func (client *Client) Do(ctx context.Context, method string, path string, body any, out any) error {
	payload, encodeErr := encodeBody(body)
	if encodeErr != nil {
		return encodeErr
	}
	usedToken := client.AccessToken()
	response, err := client.send(ctx, method, path, payload, usedToken)
	if err != nil {
		return err
	}
	if response.StatusCode != http.StatusUnauthorized {
		return decodeReply(response, out)
	}
	drain(response)

	if refreshErr := client.refresh(ctx, usedToken); refreshErr != nil {
		return refreshErr
	}
	retried, err := client.send(ctx, method, path, payload, client.AccessToken())
	if err != nil {
		return err
	}
	return decodeReply(retried, out)
}

// refresh exchanges the refresh cookie for a new access token unless another caller already replaced staleToken.
func (client *Client) refresh(ctx context.Context, staleToken string) error {
	client.refreshMutex.Lock()
	defer client.refreshMutex.Unlock()

	if current := client.AccessToken(); current != "" && current != staleToken {
		return nil
	}
	response, err := client.send(ctx, http.MethodPost, refreshPath, nil, "")
	if err != nil {
		return err
	}
	var reply sessionReply
	if decodeErr := decodeReply(response, &reply); decodeErr != nil {
		client.setAccessToken("")
		client.logger.Info("session refresh rejected",
			zap.String("code", "session.client.refresh_rejected"),
			zap.Error(decodeErr))
		return fmt.Errorf("%w: %w", ErrSessionExpired, decodeErr)
	}
	if reply.AccessToken == "" {
		client.setAccessToken("")
		return fmt.Errorf("session.client.refresh: %w", ErrUnexpectedReply)
	}
	client.setAccessToken(reply.AccessToken)
	return nil
}

func (client *Client) openSession(ctx context.Context, path string, body map[string]string) (User, error) {
	payload, encodeErr := encodeBody(body)
	if encodeErr != nil {
		return User{}, encodeErr
	}
	response, err := client.send(ctx, http.MethodPost, path, payload, "")
	if err != nil {
		return User{}, err
	}
	var reply sessionReply
	if decodeErr := decodeReply(response, &reply); decodeErr != nil {
		return User{}, decodeErr
	}
	if reply.AccessToken == "" {
		return User{}, fmt.Errorf("session.client.%s: %w", path, ErrUnexpectedReply)
	}
	client.setAccessToken(reply.AccessToken)
	return reply.User, nil
}

func (client *Client) resolve(path string) *url.URL {
	return client.baseURL.ResolveReference(&url.URL{Path: strings.TrimLeft(path, "/")})
}

func (client *Client) send(ctx context.Context, method string, path string, payload []byte, accessToken string, cookies ...*http.Cookie) (*http.Response, error) {
	target := client.resolve(path)
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("session.client.request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("session.client.transport: %w", err)
	}
	return response, nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("session.client.encode: %w", err)
	}
	return encoded, nil
}

func decodeReply(response *http.Response, out any) error {
	defer drain(response)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		apiError := &APIError{Status: response.StatusCode}
		_ = json.NewDecoder(response.Body).Decode(apiError)
		return apiError
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("session.client.decode: %w", err)
	}
	return nil
}

func drain(response *http.Response) {
	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()
}
