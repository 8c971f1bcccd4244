package session

import (
	"fmt"
	"time"
)

// Status is the authoritative answer to "is this client logged in".
type Status string

const (
	StatusChecking        Status = "checking"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
	// StatusError means the session could not be verified (timeout, 5xx),
	// which is distinct from a confirmed logout: the UI can render
	// "can't verify session" instead of "you are logged out".
	StatusError Status = "error"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// UserProfile is the canonical user shape returned by the server.
type UserProfile struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	FullName    string     `json:"full_name,omitempty"`
	Avatar      string     `json:"avatar,omitempty"`
	IsSuperuser bool       `json:"is_superuser,omitempty"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

// Snapshot is the externally visible projection of the session.
type Snapshot struct {
	Status          Status
	User            *UserProfile
	LastValidatedAt *time.Time
}

// Reason classifies why a validation concluded the way it did.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonMissingToken     Reason = "missing_token"
	ReasonMissingCookie    Reason = "missing_cookie"
	ReasonCookieMismatch   Reason = "cookie_mismatch"
	ReasonServerRejected   Reason = "server_rejected"
	ReasonLoggedOut        Reason = "logged_out"
	ReasonCookieCleared    Reason = "cookie_cleared"
	ReasonTransientFailure Reason = "transient_failure"
)

// ValidationResult is produced by a Validator and consumed only by the
// state machine. A transient reason must land the caller in StatusError,
// never in StatusUnauthenticated.
type ValidationResult struct {
	Valid  bool
	User   *UserProfile
	Reason Reason
}

// Transient reports whether the validation was inconclusive rather than a
// confirmed rejection.
func (r ValidationResult) Transient() bool {
	return !r.Valid && r.Reason == ReasonTransientFailure
}

// CookieJar reads the session cookie from wherever the platform keeps it.
// Absence is reported through ok, never as an error.
type CookieJar interface {
	SessionCookie() (value string, ok bool)
}

// CookieJarFunc adapts a function to the CookieJar interface.
type CookieJarFunc func() (string, bool)

func (f CookieJarFunc) SessionCookie() (string, bool) {
	if f == nil {
		return "", false
	}
	return f()
}

// Navigator signals the host application to move to the login view.
type Navigator interface {
	RedirectToLogin(reason string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(reason string)

func (f NavigatorFunc) RedirectToLogin(reason string) {
	if f != nil {
		f(reason)
	}
}

type noopNavigator struct{}

func (noopNavigator) RedirectToLogin(string) {}

func normalizeNavigator(n Navigator) Navigator {
	if n == nil {
		return noopNavigator{}
	}
	return n
}

// NotificationSink surfaces user-visible warnings, e.g. the integrity
// violation notice shown ahead of a forced redirect.
type NotificationSink interface {
	Warn(title, body string)
}

// NotificationSinkFunc adapts a function to the NotificationSink interface.
type NotificationSinkFunc func(title, body string)

func (f NotificationSinkFunc) Warn(title, body string) {
	if f != nil {
		f(title, body)
	}
}

type noopNotificationSink struct{}

func (noopNotificationSink) Warn(string, string) {}

func normalizeNotificationSink(s NotificationSink) NotificationSink {
	if s == nil {
		return noopNotificationSink{}
	}
	return s
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
