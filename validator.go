package session

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Validator is the single authoritative session check. Validate never returns
// a Go error; failures are encoded in the result so only the state machine
// decides the resulting status.
type Validator interface {
	Validate(ctx context.Context) ValidationResult
	InFlight() bool
}

// validateKey coalesces every caller onto the one in-flight round trip.
const validateKey = "validate-session"

// APIValidator performs the three-factor check: token present, cookie
// present, and the server confirming both denote one live session.
type APIValidator struct {
	api      API
	store    TokenStore
	cookies  CookieJar
	logger   Logger
	group    singleflight.Group
	inFlight atomic.Int32
}

var _ Validator = (*APIValidator)(nil)

// NewAPIValidator builds the default validator. A nil logger falls back to
// the package default.
func NewAPIValidator(api API, store TokenStore, cookies CookieJar, logger Logger) *APIValidator {
	return &APIValidator{
		api:     api,
		store:   store,
		cookies: cookies,
		logger:  normalizeLogger(logger),
	}
}

// InFlight reports whether a validation round trip is currently pending.
func (v *APIValidator) InFlight() bool {
	return v.inFlight.Load() > 0
}

// Validate runs the authoritative check, coalescing concurrent callers onto
// the same pending result.
func (v *APIValidator) Validate(ctx context.Context) ValidationResult {
	res, _, _ := v.group.Do(validateKey, func() (any, error) {
		v.inFlight.Add(1)
		defer v.inFlight.Add(-1)
		return v.check(ctx), nil
	})

	result, ok := res.(ValidationResult)
	if !ok {
		return ValidationResult{Reason: ReasonTransientFailure}
	}
	return result
}

func (v *APIValidator) check(ctx context.Context) ValidationResult {
	creds, err := v.store.Credentials(ctx)
	if err != nil {
		v.logger.Error("validator could not read token store: %v", err)
		return ValidationResult{Reason: ReasonTransientFailure}
	}
	if creds.Token == "" {
		return ValidationResult{Reason: ReasonMissingToken}
	}

	cookie, ok := v.cookies.SessionCookie()
	if !ok || cookie == "" {
		return ValidationResult{Reason: ReasonMissingCookie}
	}

	if creds.SessionID != "" && cookie != creds.SessionID {
		v.logger.Warn("session cookie does not match stored session id")
		return ValidationResult{Reason: ReasonCookieMismatch}
	}

	res, err := v.api.ValidateSession(ctx, creds.Token, cookie)
	if err != nil {
		if IsAuthoritativeInvalid(err) {
			return ValidationResult{Reason: ReasonServerRejected}
		}
		v.logger.Warn("session validation inconclusive: %v", err)
		return ValidationResult{Reason: ReasonTransientFailure}
	}

	if !res.Valid {
		return ValidationResult{Reason: ReasonServerRejected}
	}

	return ValidationResult{Valid: true, User: res.User}
}
