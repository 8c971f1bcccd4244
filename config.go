package session

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
)

const (
	// DefaultCookieName matches the backend's session cookie.
	DefaultCookieName = "blog_auth_session"

	DefaultHeartbeatInterval    = 2 * time.Minute
	DefaultMinHeartbeatInterval = 15 * time.Second
	DefaultCookiePollInterval   = 5 * time.Second

	// DefaultRefreshFallbackInterval is used when a token carries no readable
	// expiry. The upstream client hardcoded 45 minutes against an assumed
	// 60-minute token; tokens with a readable exp derive their cadence instead.
	DefaultRefreshFallbackInterval = 45 * time.Minute
	DefaultMinRefreshInterval      = time.Minute
)

// Config carries the lifecycle manager tunables. Zero values fall back to the
// package defaults.
type Config struct {
	// CookieName is the session cookie watched for clears and mismatches.
	CookieName string

	HeartbeatInterval    time.Duration
	MinHeartbeatInterval time.Duration
	HeartbeatDisabled    bool

	CookiePollInterval time.Duration

	RefreshFallbackInterval time.Duration
	MinRefreshInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MinHeartbeatInterval == 0 {
		c.MinHeartbeatInterval = DefaultMinHeartbeatInterval
	}
	if c.CookiePollInterval == 0 {
		c.CookiePollInterval = DefaultCookiePollInterval
	}
	if c.RefreshFallbackInterval == 0 {
		c.RefreshFallbackInterval = DefaultRefreshFallbackInterval
	}
	if c.MinRefreshInterval == 0 {
		c.MinRefreshInterval = DefaultMinRefreshInterval
	}
	return c
}

// Validate reports configuration errors. These are fatal and surface at the
// composition root; nothing retries a bad config.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.CookieName, validation.Required),
		validation.Field(&c.HeartbeatInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MinHeartbeatInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.CookiePollInterval, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.RefreshFallbackInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MinRefreshInterval, validation.Required, validation.Min(time.Second)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid session configuration").
			WithTextCode(textCodeConfiguration).
			WithCode(errors.CodeBadRequest)
	}
	return nil
}
