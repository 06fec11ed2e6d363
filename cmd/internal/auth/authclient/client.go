// Package authclient talks to the panel auth API on behalf of a single user
// and holds the resulting session for a keeper.Coordinator.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnauthorized is returned when the server rejects the credential (401/403).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned for 429 responses.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable is returned for 5xx responses.
	ErrUnavailable = errors.New("auth server unavailable")

	// ErrNotAuthenticated is returned when an operation needs a session and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// APIError is a non-2xx response from the auth API.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("auth api: status %d", e.Status)
	}
	return fmt.Sprintf("auth api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Status >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}

// User is the account view returned by login and /auth/me.
type User struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Role        string  `json:"role"`
	DisplayName *string `json:"display_name"`
}

// Tokens is the session material returned by login and refresh.
type Tokens struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	Platform   string `json:"platform"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	RememberMe   bool   `json:"remember_me"`
	Platform     string `json:"platform"`
}

type loginResponse struct {
	User    User   `json:"user"`
	Session Tokens `json:"session"`
}

type refreshResponse struct {
	Session Tokens `json:"session"`
}

type meResponse struct {
	User      User   `json:"user"`
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a thin JSON client for the /auth endpoints.
type Client struct {
	baseURL    string
	hc         *http.Client
	platform   string
	rememberMe bool
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithPlatform sets the platform reported at login and refresh ("desktop" by default).
func WithPlatform(platform string, rememberMe bool) ClientOption {
	return func(c *Client) {
		if p := strings.TrimSpace(platform); p != "" {
			c.platform = p
		}
		c.rememberMe = rememberMe
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient builds a Client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		hc:        &http.Client{Timeout: 15 * time.Second},
		platform:  "desktop",
		userAgent: "panel-agent",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Login exchanges username and password for a session.
func (c *Client) Login(ctx context.Context, username, password string) (User, Tokens, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{
		Username:   username,
		Password:   password,
		RememberMe: c.rememberMe,
		Platform:   c.platform,
	}, &resp)
	if err != nil {
		return User{}, Tokens{}, err
	}
	return resp.User, resp.Session, nil
}

// Refresh rotates the refresh token and returns the new session material.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	var resp refreshResponse
	err := c.do(ctx, http.MethodPost, "/auth/refresh", "", refreshRequest{
		RefreshToken: refreshToken,
		RememberMe:   c.rememberMe,
		Platform:     c.platform,
	}, &resp)
	if err != nil {
		return Tokens{}, err
	}
	return resp.Session, nil
}

// Logout revokes the session that owns accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", accessToken, nil, nil)
}

// Me returns the account behind accessToken. A revoked session yields ErrUnauthorized.
func (c *Client) Me(ctx context.Context, accessToken string) (User, error) {
	var resp meResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", accessToken, nil, &resp); err != nil {
		return User{}, err
	}
	return resp.User, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeAPIError(res)
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
		return nil
	}
	return json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out)
}

func decodeAPIError(res *http.Response) error {
	apiErr := &APIError{Status: res.StatusCode}

	var payload errorResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<16)).Decode(&payload); err == nil {
		apiErr.Code = payload.Error.Code
		apiErr.Message = payload.Error.Message
	}
	if v := strings.TrimSpace(res.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
