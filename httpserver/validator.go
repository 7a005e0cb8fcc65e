package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator validates bearer tokens presented by relay callers.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*TokenClaims, error)
}

// TokenClaims are the claims extracted from a validated JWT.
type TokenClaims struct {
	Subject  string
	Issuer   string
	Audience []string
	Expiry   time.Time
	IssuedAt time.Time
	Scopes   []string // from the "scope" or "scp" claim
	ClientID string   // from "azp", "appid" or "client_id"
}

// HasScope reports whether the claims carry scope.
func (c *TokenClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

var validSigningMethods = []string{
	jwt.SigningMethodRS256.Name,
	jwt.SigningMethodRS384.Name,
	jwt.SigningMethodRS512.Name,
	jwt.SigningMethodES256.Name,
	jwt.SigningMethodES384.Name,
	jwt.SigningMethodES512.Name,
}

// JWTTokenValidator validates JWTs against keys published at a JWKS endpoint.
// Keys are cached and refreshed in the background.
type JWTTokenValidator struct {
	jwks     *keyfunc.JWKS
	issuer   string
	audience string
	logger   *slog.Logger
}

// NewJWTTokenValidator fetches the key set from jwksURL and returns a validator
// for tokens issued by issuer for audience. A nil httpClient uses
// http.DefaultClient; a zero cacheTTL refreshes keys hourly.
func NewJWTTokenValidator(jwksURL, issuer, audience string, httpClient *http.Client, cacheTTL time.Duration, logger *slog.Logger) (*JWTTokenValidator, error) {
	if jwksURL == "" {
		return nil, errors.New("httpserver: JWKS URL is required")
	}
	if issuer == "" {
		return nil, errors.New("httpserver: issuer is required")
	}
	if audience == "" {
		return nil, errors.New("httpserver: audience is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cacheTTL == 0 {
		cacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Client:            httpClient,
		RefreshInterval:   cacheTTL,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("JWKS refresh failed", "jwks_url", jwksURL, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("httpserver: failed to initialize JWKS: %w", err)
	}

	return &JWTTokenValidator{
		jwks:     jwks,
		issuer:   issuer,
		audience: audience,
		logger:   logger,
	}, nil
}

// ValidateToken verifies the signature, expiry, issuer and audience of
// tokenString and returns its claims.
func (v *JWTTokenValidator) ValidateToken(_ context.Context, tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, v.jwks.Keyfunc,
		jwt.WithValidMethods(validSigningMethods),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("httpserver: token validation failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("httpserver: token is invalid")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("httpserver: invalid subject claim")
	}
	aud, _ := claims.GetAudience()
	exp, _ := claims.GetExpirationTime()

	result := &TokenClaims{
		Subject:  sub,
		Issuer:   v.issuer,
		Audience: aud,
		Expiry:   exp.Time,
		Scopes:   extractScopes(claims),
		ClientID: firstString(claims, "azp", "appid", "client_id"),
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		result.IssuedAt = iat.Time
	}

	v.logger.Debug("caller token validated", "subject", sub, "scopes", result.Scopes)

	return result, nil
}

// Close stops the background JWKS refresh.
func (v *JWTTokenValidator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// extractScopes reads "scope" then "scp", each either a space-separated
// string or an array of strings.
func extractScopes(claims jwt.MapClaims) []string {
	for _, name := range []string{"scope", "scp"} {
		switch v := claims[name].(type) {
		case string:
			return strings.Fields(v)
		case []interface{}:
			scopes := make([]string, 0, len(v))
			for _, s := range v {
				if str, ok := s.(string); ok {
					scopes = append(scopes, str)
				}
			}
			return scopes
		}
	}
	return []string{}
}

func firstString(claims jwt.MapClaims, names ...string) string {
	for _, name := range names {
		if s, ok := claims[name].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
