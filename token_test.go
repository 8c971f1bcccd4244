package session_test

import (
	"testing"
	"time"

	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiryReadsExpClaim(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token := mintToken(exp)

	got, ok := session.TokenExpiry(token)
	require.True(t, ok)
	assert.WithinDuration(t, exp, got, time.Second)
}

func TestTokenExpiryOpaqueToken(t *testing.T) {
	cases := []string{
		"",
		"not-a-jwt",
		"opaque.session.token.with.dots",
	}

	for _, tc := range cases {
		_, ok := session.TokenExpiry(tc)
		assert.False(t, ok, "token %q should not yield an expiry", tc)
	}
}
