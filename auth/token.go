package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenOptions describes a development token.
type TokenOptions struct {
	Audience string
	Issuer   string
	TTL      time.Duration
}

// SignHS256 signs a token for userID with a shared secret. It is meant for
// local development and tests.
func SignHS256(secret []byte, userID string, opts TokenOptions) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is required")
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if opts.Audience != "" {
		claims["aud"] = opts.Audience
	}
	if opts.Issuer != "" {
		claims["iss"] = opts.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
