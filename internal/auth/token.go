// Package auth implements the client-side token guard.
//
// The backend issues a signed JWT; the client never holds the signing secret,
// so the guard only base64-decodes the payload to read the user identifier
// and expiry. Signature verification is the server's job on every request.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissing means no token is stored; downstream components stay idle.
	ErrMissing = errors.New("no token")

	// ErrExpired means the token's expiry timestamp has passed.
	ErrExpired = errors.New("token expired")

	// ErrInvalid means the token could not be decoded.
	ErrInvalid = errors.New("invalid token")
)

// Claims is the decoded token payload.
type Claims struct {
	// UserID is the stable user identifier (the "sub" claim).
	UserID string `json:"sub"`

	// Expiry is the expiry timestamp in unix seconds (the "exp" claim).
	Expiry int64 `json:"exp"`
}

// ExpiresAt returns the expiry as a time.
func (c Claims) ExpiresAt() time.Time {
	return time.Unix(c.Expiry, 0)
}

// Decode extracts the claims from a JWT without verifying its signature.
// Returns ErrInvalid for anything that is not a decodable three-part token.
func Decode(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrInvalid, len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: payload decode: %v", ErrInvalid, err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: payload parse: %v", ErrInvalid, err)
	}
	if claims.UserID == "" {
		return Claims{}, fmt.Errorf("%w: missing sub claim", ErrInvalid)
	}
	return claims, nil
}

// Check decodes the token and validates its expiry against now.
// Returns the claims with ErrExpired when the expiry has passed, so callers
// can still clear per-user state for an expired but decodable token.
func Check(token string, now time.Time) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMissing
	}
	claims, err := Decode(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Expiry != 0 && !now.Before(claims.ExpiresAt()) {
		return claims, ErrExpired
	}
	return claims, nil
}
