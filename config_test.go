package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, DefaultCookieName, cfg.CookieName)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultMinHeartbeatInterval, cfg.MinHeartbeatInterval)
	assert.Equal(t, DefaultCookiePollInterval, cfg.CookiePollInterval)
	assert.Equal(t, DefaultRefreshFallbackInterval, cfg.RefreshFallbackInterval)
	assert.Equal(t, DefaultMinRefreshInterval, cfg.MinRefreshInterval)
}

func TestConfigWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		CookieName:        "custom_session",
		HeartbeatInterval: 5 * time.Minute,
	}.withDefaults()

	assert.Equal(t, "custom_session", cfg.CookieName)
	assert.Equal(t, 5*time.Minute, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultCookiePollInterval, cfg.CookiePollInterval)
}

func TestConfigValidateRejectsNegativeIntervals(t *testing.T) {
	// negatives survive defaulting so validation can reject them
	cfg := Config{HeartbeatInterval: -time.Second}.withDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
}

func TestConfigValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, Config{}.withDefaults().Validate())
}
