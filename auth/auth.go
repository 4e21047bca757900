// Package auth verifies the bearer tokens presented to the services and
// signs tokens for local development.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	clockSkew           = time.Minute

	EnvTestMode        = "AUTH_TEST_MODE"
	EnvTestJWTSecret   = "TEST_JWT_SECRET"
	EnvLocalAuthMode   = "LOCAL_AUTH_MODE"
	EnvLocalAuthSecret = "LOCAL_AUTH_SHARED_SECRET"
	EnvJWKSCacheTTL    = "JWKS_CACHE_TTL"
)

// Auth validates incoming JWT tokens. Production tokens are RS256 signed and
// checked against a JWKS; test mode accepts HS256 tokens signed with a shared
// secret.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// New creates an Auth from a JWKS. The environment may switch it to shared
// secret mode: LOCAL_AUTH_MODE=hs256 with LOCAL_AUTH_SHARED_SECRET, or
// AUTH_TEST_MODE=1 with TEST_JWT_SECRET.
func New(jwks *keyfunc.JWKS, audience, issuer string) (*Auth, error) {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
	ttl, err := parseCacheTTL()
	if err != nil {
		return nil, err
	}
	a.keyCacheTTL = ttl

	if mode := strings.ToLower(os.Getenv(EnvLocalAuthMode)); mode != "" {
		if mode != "hs256" {
			return nil, fmt.Errorf("unsupported %s value %q", EnvLocalAuthMode, mode)
		}
		secret := os.Getenv(EnvLocalAuthSecret)
		if secret == "" {
			return nil, fmt.Errorf("%s must be set when %s=hs256", EnvLocalAuthSecret, EnvLocalAuthMode)
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	} else if os.Getenv(EnvTestMode) == "1" {
		secret := os.Getenv(EnvTestJWTSecret)
		if secret == "" {
			return nil, fmt.Errorf("%s must be set when %s=1", EnvTestJWTSecret, EnvTestMode)
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	}

	a.parser = newParser(a.TestMode)
	return a, nil
}

// NewHS256 creates an Auth that only accepts tokens signed with secret.
func NewHS256(secret []byte, audience, issuer string) *Auth {
	return &Auth{
		Audience:   audience,
		Issuer:     issuer,
		TestMode:   true,
		TestSecret: secret,
		parser:     newParser(true),
	}
}

func newParser(testMode bool) *jwt.Parser {
	if testMode {
		return jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	}
	return jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
}

func parseCacheTTL() (time.Duration, error) {
	ttl := defaultJWKSCacheTTL
	if raw := os.Getenv(EnvJWKSCacheTTL); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return 0, fmt.Errorf("invalid %s %q", EnvJWKSCacheTTL, raw)
		}
		ttl = parsed
	}
	return ttl, nil
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", ErrMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromToken verifies a raw token, as passed in a query string.
func (a *Auth) UserIDFromToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return "", ErrBadAuthorization
	}
	return a.UserIDFromBearer([]byte(token))
}

// UserIDFromBearer extracts the user identifier from a bearer token presented as raw bytes.
func (a *Auth) UserIDFromBearer(token []byte) (string, error) {
	if len(token) == 0 {
		return "", ErrBadAuthorization
	}

	tokenStr := readOnlyString(token)
	var parsedToken *jwt.Token
	var err error
	if a.TestMode {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
	} else {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return a.keyForToken(t)
		})
	}
	if err != nil {
		return "", err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now()
	if !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now.Add(clockSkew).Unix(), false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now.Add(clockSkew).Unix(), false) {
		return "", errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}

	return sub, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
