package auth

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MicahParks/keyfunc"
)

// Environment variables naming the token issuer.
const (
	EnvAudience = "AUTH_AUDIENCE"
	EnvIssuer   = "AUTH_ISSUER"
	EnvDomain   = "AUTH_DOMAIN"
	EnvJWKSURL  = "AUTH_JWKS_URL"
)

// FromEnv builds an Auth from the environment. Shared secret modes need no
// JWKS; otherwise the keys are fetched from AUTH_JWKS_URL, or from the
// well-known location of AUTH_DOMAIN.
func FromEnv() (*Auth, error) {
	audience := os.Getenv(EnvAudience)
	issuer := os.Getenv(EnvIssuer)
	if os.Getenv(EnvTestMode) == "1" || os.Getenv(EnvLocalAuthMode) != "" {
		return New(nil, audience, issuer)
	}

	jwksURL := os.Getenv(EnvJWKSURL)
	if domain := os.Getenv(EnvDomain); jwksURL == "" && domain != "" {
		jwksURL = fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		if issuer == "" {
			issuer = "https://" + domain + "/"
		}
	}
	if audience == "" || jwksURL == "" {
		return nil, errors.New("missing auth config")
	}
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return New(jwks, audience, issuer)
}
