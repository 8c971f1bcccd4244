// Package blogapi implements the session.API contract against the blog
// backend's REST surface (/api/v1). HTTP statuses are classified into the
// session error taxonomy: explicit rejections (401/403/404) are
// authoritative, everything inconclusive (5xx, transport failures) is
// transient.
package blogapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	session "github.com/goliatone/go-session"
)

const defaultTimeout = 15 * time.Second

// Client talks to the blog backend.
type Client struct {
	baseURL    string
	cookieName string
	httpClient *http.Client
	logger     session.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport (e.g. for custom TLS or a
// shared cookie jar).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger overrides the client logger.
func WithLogger(l session.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCookieName overrides the session cookie name sent on cookie-bearing
// calls.
func WithCookieName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.cookieName = name
		}
	}
}

var _ session.API = (*Client)(nil)

// New builds a client rooted at baseURL, which should include the API prefix
// (e.g. https://blog.example.com/api/v1).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cookieName: session.DefaultCookieName,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     session.NopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Wire shapes. The backend sends numeric user ids; json.Number keeps them
// opaque strings on our side.
type userPayload struct {
	ID          json.Number `json:"id"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	FullName    string      `json:"full_name"`
	Avatar      string      `json:"avatar"`
	IsSuperuser bool        `json:"is_superuser"`
	LastLogin   *time.Time  `json:"last_login"`
}

func (u *userPayload) profile() *session.UserProfile {
	if u == nil {
		return nil
	}
	return &session.UserProfile{
		ID:          u.ID.String(),
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.FullName,
		Avatar:      u.Avatar,
		IsSuperuser: u.IsSuperuser,
		LastLogin:   u.LastLogin,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	SessionID   string       `json:"session_id"`
	User        *userPayload `json:"user"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`
}

type validateResponse struct {
	IsValid      bool   `json:"is_valid"`
	ErrorMessage string `json:"error_message"`
}

type heartbeatRequest struct {
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	ActivityData map[string]any `json:"activity_data,omitempty"`
}

type heartbeatResponse struct {
	Status        string `json:"status"`
	SessionID     string `json:"session_id"`
	HeartbeatInfo struct {
		NextHeartbeatIn int64 `json:"next_heartbeat_in"`
	} `json:"heartbeat_info"`
}

type forceCheckResponse struct {
	AuthenticationValid bool `json:"authentication_valid"`
}

type integrityRequest struct {
	CookieValue    string `json:"cookie_value"`
	ExpectedUserID string `json:"expected_user_id"`
}

type integrityResponse struct {
	IntegrityValid bool `json:"integrity_valid"`
	SessionMatch   bool `json:"session_match"`
	UserMatch      bool `json:"user_match"`
	ExpiryValid    bool `json:"expiry_valid"`
}

func (c *Client) Login(ctx context.Context, username, password string) (*session.LoginResult, error) {
	var out loginResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/login", "", "", loginRequest{Username: username, Password: password}, &out); err != nil {
		return nil, err
	}

	return &session.LoginResult{
		Token:     out.AccessToken,
		SessionID: out.SessionID,
		ExpiresIn: time.Duration(out.ExpiresIn) * time.Second,
		User:      out.User.profile(),
	}, nil
}

func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", token, "", nil, nil)
	return err
}

func (c *Client) CurrentUser(ctx context.Context, token string) (*session.UserProfile, error) {
	var out userPayload
	if _, err := c.do(ctx, http.MethodGet, "/auth/me", token, "", nil, &out); err != nil {
		return nil, err
	}
	return out.profile(), nil
}

// ValidateSession asks the backend whether token and cookie denote one live
// session, then fetches the canonical profile. A definitive "no" from either
// call is authoritative; transport trouble is transient.
func (c *Client) ValidateSession(ctx context.Context, token, cookie string) (*session.ValidateResult, error) {
	var out validateResponse
	if _, err := c.do(ctx, http.MethodGet, "/session/validate", token, cookie, nil, &out); err != nil {
		if session.IsAuthoritativeInvalid(err) {
			return &session.ValidateResult{Valid: false}, nil
		}
		return nil, err
	}
	if !out.IsValid {
		return &session.ValidateResult{Valid: false}, nil
	}

	user, err := c.CurrentUser(ctx, token)
	if err != nil {
		if session.IsAuthoritativeInvalid(err) {
			return &session.ValidateResult{Valid: false}, nil
		}
		return nil, err
	}

	return &session.ValidateResult{Valid: true, User: user}, nil
}

// Heartbeat sends a liveness ping. A 401/403 is returned as an outcome, not
// an error, so the monitor can escalate to the authoritative path.
func (c *Client) Heartbeat(ctx context.Context, token string) (*session.HeartbeatResult, error) {
	now := time.Now().UTC()
	var out heartbeatResponse
	status, err := c.do(ctx, http.MethodPost, "/session/heartbeat", token, "", heartbeatRequest{Timestamp: &now}, &out)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return &session.HeartbeatResult{OK: false, HTTPStatus: status}, nil
		}
		return nil, err
	}

	res := &session.HeartbeatResult{OK: true, HTTPStatus: status}
	if hint := out.HeartbeatInfo.NextHeartbeatIn; hint > 0 {
		res.NextIntervalHint = time.Duration(hint) * time.Second
	}
	return res, nil
}

func (c *Client) ForceAuthCheck(ctx context.Context, token, cookie string) (*session.ForceCheckResult, error) {
	var out forceCheckResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/force-auth-check", token, cookie, nil, &out); err != nil {
		return nil, err
	}
	return &session.ForceCheckResult{AuthenticationValid: out.AuthenticationValid}, nil
}

func (c *Client) RefreshToken(ctx context.Context, token, cookie string) (*session.RefreshResult, error) {
	var out refreshResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/refresh-token", token, cookie, nil, &out); err != nil {
		return nil, err
	}
	return &session.RefreshResult{
		Token:     out.AccessToken,
		SessionID: out.SessionID,
		ExpiresIn: time.Duration(out.ExpiresIn) * time.Second,
	}, nil
}

func (c *Client) VerifyCookieIntegrity(ctx context.Context, token, cookieValue, expectedUserID string) (*session.IntegrityResult, error) {
	body := integrityRequest{CookieValue: cookieValue, ExpectedUserID: expectedUserID}
	var out integrityResponse
	if _, err := c.do(ctx, http.MethodPost, "/cookie/integrity", token, cookieValue, body, &out); err != nil {
		return nil, err
	}
	return &session.IntegrityResult{
		Valid:        out.IntegrityValid,
		SessionMatch: out.SessionMatch,
		UserMatch:    out.UserMatch,
		ExpiryValid:  out.ExpiryValid,
	}, nil
}

// do performs one round trip and classifies the response. It returns the
// HTTP status (0 when the request never left) alongside any error.
func (c *Client) do(ctx context.Context, method, path, token, cookie string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Wrap(err, errors.CategoryInternal, "failed to encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to build request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: cookie})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, session.WrapTransient(err, fmt.Sprintf("%s %s failed", method, path))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, session.WrapTransient(err, "failed to read response body")
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return resp.StatusCode, session.WrapTransient(err, "failed to decode response body")
			}
		}
		return resp.StatusCode, nil
	}

	c.logger.Debug("%s %s -> %d", method, path, resp.StatusCode)
	return resp.StatusCode, classifyStatus(method, path, resp.StatusCode)
}

func classifyStatus(method, path string, status int) error {
	msg := fmt.Sprintf("%s %s returned %d", method, path, status)
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound:
		return session.NewAuthoritativeInvalid(msg)
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return errors.New(msg, errors.CategoryBadInput).WithCode(errors.CodeBadRequest)
	default:
		return session.NewTransient(msg)
	}
}
