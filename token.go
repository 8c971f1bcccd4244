package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads the exp claim without verifying the signature. The server
// stays authoritative over validity; the claim only drives refresh
// scheduling. Opaque or unreadable tokens report ok false.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}

// refreshIntervalFor derives the refresh cadence from the token's remaining
// lifetime: three quarters of what is left, floored at min. Tokens without a
// readable exp use the configured fallback; an already expired token refreshes
// at the floor.
func refreshIntervalFor(token string, now time.Time, min, fallback time.Duration) time.Duration {
	exp, ok := TokenExpiry(token)
	if !ok {
		return fallback
	}

	remaining := exp.Sub(now)
	if remaining <= 0 {
		return min
	}

	interval := remaining * 3 / 4
	if interval < min {
		return min
	}
	return interval
}
