package session

import (
	"context"
	"time"
)

// LoginResult mirrors the login endpoint response: a bearer token, the
// server-issued session id (also set as the session cookie), the token
// lifetime, and the canonical user profile.
type LoginResult struct {
	Token     string
	SessionID string
	ExpiresIn time.Duration
	User      *UserProfile
}

// RefreshResult carries a renewed token. The server may rotate the session
// id alongside it; an empty SessionID means the previous one still stands.
type RefreshResult struct {
	Token     string
	SessionID string
	ExpiresIn time.Duration
}

// ValidateResult is the server's verdict on whether token and cookie jointly
// denote one live, non-revoked session.
type ValidateResult struct {
	Valid bool
	User  *UserProfile
}

// HeartbeatResult is the typed outcome of one liveness ping. A 401/403 is an
// outcome, not an error: OK false with the HTTP status set.
type HeartbeatResult struct {
	OK               bool
	HTTPStatus       int
	NextIntervalHint time.Duration
}

// ForceCheckResult is the server's yes/no on the force-check endpoint.
type ForceCheckResult struct {
	AuthenticationValid bool
}

// IntegrityResult reports whether the cookie value still belongs to the
// expected user, with the individual checks broken out.
type IntegrityResult struct {
	Valid        bool
	SessionMatch bool
	UserMatch    bool
	ExpiryValid  bool
}

// API is the session-oriented server contract. Implementations classify
// failures into the package error taxonomy: authoritative rejections via
// NewAuthoritativeInvalid, everything inconclusive via WrapTransient.
type API interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (*UserProfile, error)
	ValidateSession(ctx context.Context, token, cookie string) (*ValidateResult, error)
	Heartbeat(ctx context.Context, token string) (*HeartbeatResult, error)
	ForceAuthCheck(ctx context.Context, token, cookie string) (*ForceCheckResult, error)
	RefreshToken(ctx context.Context, token, cookie string) (*RefreshResult, error)
	VerifyCookieIntegrity(ctx context.Context, token, cookieValue, expectedUserID string) (*IntegrityResult, error)
}
