package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AmmannChristian/go-tokenrelay/httpclient"
	"github.com/AmmannChristian/go-tokenrelay/oauth2client"
)

const (
	defaultKeySetTTL     = time.Hour
	defaultKeySetTimeout = 10 * time.Second
)

// ValidatorBuilder assembles the validator that authenticates relay callers.
// Callers usually present tokens from the same Entra ID tenant the relay
// itself uses, so the key set location is inferred from the issuer when it
// lives on the configured authority host.
type ValidatorBuilder struct {
	issuerURL     string
	audience      string
	jwksURL       string
	authorityHost string
	caFile        string
	userAgent     string
	cacheTTL      time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewValidatorBuilder creates a builder for tokens issued by issuerURL for
// audience. The authority host defaults to oauth2client.DefaultAuthorityHost
// and keys are cached for one hour.
func NewValidatorBuilder(issuerURL, audience string) *ValidatorBuilder {
	return &ValidatorBuilder{
		issuerURL:     issuerURL,
		audience:      audience,
		authorityHost: oauth2client.DefaultAuthorityHost,
		cacheTTL:      defaultKeySetTTL,
	}
}

// WithJWKSURL sets the key set endpoint explicitly instead of deriving it.
func (b *ValidatorBuilder) WithJWKSURL(jwksURL string) *ValidatorBuilder {
	b.jwksURL = jwksURL
	return b
}

// WithAuthorityHost sets the Entra ID authority (sovereign clouds, test
// doubles). Issuers on this host get {issuer-without-/v2.0}/discovery/v2.0/keys.
// An empty host keeps the current one.
func (b *ValidatorBuilder) WithAuthorityHost(host string) *ValidatorBuilder {
	if host != "" {
		b.authorityHost = host
	}
	return b
}

// WithCAFile trusts the PEM bundle at path when fetching keys.
func (b *ValidatorBuilder) WithCAFile(path string) *ValidatorBuilder {
	b.caFile = path
	return b
}

// WithUserAgent sets the User-Agent sent with key set requests.
func (b *ValidatorBuilder) WithUserAgent(userAgent string) *ValidatorBuilder {
	b.userAgent = userAgent
	return b
}

// WithCacheTTL sets how long keys are cached before a background refresh.
func (b *ValidatorBuilder) WithCacheTTL(ttl time.Duration) *ValidatorBuilder {
	b.cacheTTL = ttl
	return b
}

// WithHTTPClient replaces the key set client. WithCAFile and WithUserAgent
// are ignored when it is set.
func (b *ValidatorBuilder) WithHTTPClient(client *http.Client) *ValidatorBuilder {
	b.httpClient = client
	return b
}

// WithLogger sets a logger for validation and key refresh events.
func (b *ValidatorBuilder) WithLogger(logger *slog.Logger) *ValidatorBuilder {
	b.logger = logger
	return b
}

// KeySetURL returns the endpoint Build will fetch keys from.
func (b *ValidatorBuilder) KeySetURL() (string, error) {
	if b.jwksURL != "" {
		return b.jwksURL, nil
	}
	return deriveJWKSURL(b.issuerURL, b.authorityHost)
}

// Build checks the settings, fetches the key set and returns the validator.
func (b *ValidatorBuilder) Build() (*JWTTokenValidator, error) {
	if b.issuerURL == "" {
		return nil, errors.New("httpserver: issuer URL is required")
	}
	if b.audience == "" {
		return nil, errors.New("httpserver: audience is required")
	}

	jwksURL, err := b.KeySetURL()
	if err != nil {
		return nil, err
	}
	if b.jwksURL == "" && b.logger != nil {
		b.logger.Debug("using derived JWKS URL", "jwks_url", jwksURL)
	}

	client := b.httpClient
	if client == nil {
		client, err = b.keySetClient()
		if err != nil {
			return nil, err
		}
	}

	validator, err := NewJWTTokenValidator(jwksURL, b.issuerURL, b.audience, client, b.cacheTTL, b.logger)
	if err != nil {
		return nil, fmt.Errorf("httpserver: failed to build validator: %w", err)
	}
	return validator, nil
}

func (b *ValidatorBuilder) keySetClient() (*http.Client, error) {
	cb := httpclient.NewBuilder().
		WithTimeout(defaultKeySetTimeout).
		WithoutRedirects().
		WithUserAgent(b.userAgent)
	if b.caFile != "" {
		cb = cb.WithTLS(b.caFile, "", "")
	}

	client, err := cb.Build()
	if err != nil {
		return nil, fmt.Errorf("httpserver: key set client: %w", err)
	}
	return client, nil
}

// deriveJWKSURL maps an issuer to its key set. Entra ID v2 issuers
// ({authority}/{tenant}/v2.0) publish keys under /discovery/v2.0/keys; any
// other issuer is assumed to follow the OIDC /.well-known/jwks.json layout.
func deriveJWKSURL(issuerURL, authorityHost string) (string, error) {
	issuer, err := url.Parse(strings.TrimSuffix(issuerURL, "/"))
	if err != nil || issuer.Scheme == "" || issuer.Host == "" {
		return "", fmt.Errorf("httpserver: issuer %q is not an absolute URL", issuerURL)
	}

	if authority, err := url.Parse(authorityHost); err == nil && authority.Host != "" &&
		strings.EqualFold(authority.Host, issuer.Host) {
		tenantPath := strings.TrimSuffix(issuer.Path, "/v2.0")
		if tenantPath == "" {
			return "", fmt.Errorf("httpserver: issuer %q names no tenant", issuerURL)
		}
		issuer.Path = tenantPath + "/discovery/v2.0/keys"
		return issuer.String(), nil
	}

	issuer.Path += "/.well-known/jwks.json"
	return issuer.String(), nil
}
