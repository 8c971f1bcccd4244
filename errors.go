package session

import (
	"github.com/goliatone/go-errors"
)

const (
	textCodeTransient     = "SESSION_TRANSIENT_NETWORK"
	textCodeInvalid       = "SESSION_AUTHORITATIVE_INVALID"
	textCodeIntegrity     = "SESSION_INTEGRITY_VIOLATION"
	textCodeConfiguration = "SESSION_CONFIGURATION"
)

// ErrTransientNetwork marks a timeout or 5xx during refresh, heartbeat, or
// validation. No state transition follows; the next scheduled tick retries.
var ErrTransientNetwork = errors.New("transient network failure", errors.CategoryOperation).
	WithTextCode(textCodeTransient)

// ErrAuthoritativeInvalid marks a server-confirmed dead session; it demotes
// the state machine to unauthenticated.
var ErrAuthoritativeInvalid = errors.New("session confirmed invalid", errors.CategoryAuth).
	WithTextCode(textCodeInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrIntegrityViolation marks a cleared or cross-account session cookie while
// logically authenticated. It triggers an immediate local logout plus a
// user-visible warning, ahead of any redirect.
var ErrIntegrityViolation = errors.New("session cookie integrity violation", errors.CategoryConflict).
	WithTextCode(textCodeIntegrity).
	WithCode(errors.CodeConflict)

// ErrConfiguration marks a missing or invalid collaborator. Fatal: surfaced
// to the composition root, never retried.
var ErrConfiguration = errors.New("invalid session manager configuration", errors.CategoryValidation).
	WithTextCode(textCodeConfiguration).
	WithCode(errors.CodeBadRequest)

// NewTransient builds a transient-network error.
func NewTransient(msg string) error {
	return errors.New(msg, errors.CategoryOperation).WithTextCode(textCodeTransient)
}

// WrapTransient wraps err as a transient-network error.
func WrapTransient(err error, msg string) error {
	return errors.Wrap(err, errors.CategoryOperation, msg).WithTextCode(textCodeTransient)
}

// NewAuthoritativeInvalid builds a server-confirmed invalid-session error.
func NewAuthoritativeInvalid(msg string) error {
	return errors.New(msg, errors.CategoryAuth).
		WithTextCode(textCodeInvalid).
		WithCode(errors.CodeUnauthorized)
}

// NewIntegrityViolation builds an integrity-violation error.
func NewIntegrityViolation(msg string) error {
	return errors.New(msg, errors.CategoryConflict).
		WithTextCode(textCodeIntegrity).
		WithCode(errors.CodeConflict)
}

// WrapIntegrityViolation wraps err as an integrity violation.
func WrapIntegrityViolation(err error, msg string) error {
	return errors.Wrap(err, errors.CategoryConflict, msg).
		WithTextCode(textCodeIntegrity).
		WithCode(errors.CodeConflict)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *errors.Error
	if errors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}

// IsTransient reports whether err is an inconclusive failure that must not be
// treated as a logout.
func IsTransient(err error) bool {
	return hasTextCode(err, textCodeTransient)
}

// IsAuthoritativeInvalid reports whether err is a confirmed "session is gone".
func IsAuthoritativeInvalid(err error) bool {
	return hasTextCode(err, textCodeInvalid)
}

// IsIntegrityViolation reports whether err denotes a cookie that was cleared
// or no longer belongs to the expected user.
func IsIntegrityViolation(err error) bool {
	return hasTextCode(err, textCodeIntegrity)
}

// IsConfiguration reports whether err is a fatal wiring problem.
func IsConfiguration(err error) bool {
	return hasTextCode(err, textCodeConfiguration)
}
