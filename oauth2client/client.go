package oauth2client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultAuthorityHost is used to derive the token endpoint from a tenant ID
// when no explicit TokenURL is configured.
const DefaultAuthorityHost = "https://login.microsoftonline.com"

// GrantType is the OAuth2 grant used for an exchange.
type GrantType string

const (
	// GrantClientCredentials exchanges the client ID and secret directly.
	GrantClientCredentials GrantType = "client_credentials"
	// GrantRefreshToken exchanges a (possibly rotating) refresh credential.
	GrantRefreshToken GrantType = "refresh_token"
)

// Config is the immutable identity-provider configuration.
type Config struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	Scope         string // space-separated
	TokenURL      string // optional, derived from AuthorityHost and TenantID when empty
	AuthorityHost string // optional, defaults to DefaultAuthorityHost
}

// Missing returns the names of required fields that are empty.
// TenantID is only required when TokenURL is not set.
func (c Config) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.TenantID) == "" && strings.TrimSpace(c.TokenURL) == "" {
		missing = append(missing, "tenant_id")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if strings.TrimSpace(c.Scope) == "" {
		missing = append(missing, "scope")
	}
	return missing
}

// Validate reports an error naming every missing required field.
func (c Config) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("oauth2client: missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Endpoint returns the token endpoint URL.
//
//   - TokenURL set: returned as is
//   - otherwise: {AuthorityHost}/{TenantID}/oauth2/v2.0/token
func (c Config) Endpoint() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	host := strings.TrimSuffix(c.AuthorityHost, "/")
	if host == "" {
		host = DefaultAuthorityHost
	}
	return host + "/" + url.PathEscape(c.TenantID) + "/oauth2/v2.0/token"
}

// Grant is the result of a successful exchange.
type Grant struct {
	AccessToken  string
	TokenType    string
	RefreshToken string // empty when the provider did not rotate the credential
	ExpiresIn    time.Duration
	GrantType    GrantType
}

// Client performs credential exchanges against the token endpoint.
// It holds no token state and is safe for concurrent use.
type Client struct {
	cfg        Config
	endpoint   string
	scopes     []string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for token requests.
// If not set, the client is taken from the request context (oauth2.HTTPClient)
// or http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets a structured logger for exchange events.
// If not set, nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a provider client. It fails if cfg is incomplete.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	endpoint := cfg.Endpoint()
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("oauth2client: invalid token endpoint %q: %w", endpoint, err)
	}

	c := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		// Split scopes by whitespace to avoid sending a single concatenated scope.
		scopes: strings.Fields(cfg.Scope),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Endpoint returns the resolved token endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Exchange obtains a new access token.
//
// With an empty refreshCredential the client-credentials grant is used;
// otherwise the refresh_token grant is sent with the given credential.
// Both grants carry client_id, client_secret and scope in the form body.
//
// Errors are either *ProviderRequestError (transport failure, timeout,
// non-2xx) or *ProviderResponseError (malformed or incomplete payload).
func (c *Client) Exchange(ctx context.Context, refreshCredential string) (*Grant, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	grantType := GrantClientCredentials
	conf := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.endpoint,
		Scopes:       c.scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if refreshCredential != "" {
		grantType = GrantRefreshToken
		// clientcredentials allows grant_type to be overridden.
		conf.EndpointParams = url.Values{
			"grant_type":    {string(GrantRefreshToken)},
			"refresh_token": {refreshCredential},
		}
	}

	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	c.logger.DebugContext(ctx, "requesting token", "grant_type", grantType, "endpoint", c.endpoint)

	token, err := conf.Token(ctx)
	if err != nil {
		return nil, classify(err)
	}

	expiresIn, err := expiresInFrom(token)
	if err != nil {
		return nil, &ProviderResponseError{Err: err}
	}

	return &Grant{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn,
		GrantType:    grantType,
	}, nil
}

// classify maps errors from the oauth2 package onto the provider error taxonomy.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		reqErr := &ProviderRequestError{
			ErrorCode:   retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
			Err:         err,
		}
		if retrieveErr.Response != nil {
			reqErr.StatusCode = retrieveErr.Response.StatusCode
		}
		return reqErr
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ProviderRequestError{Err: err}
	}

	return &ProviderResponseError{Err: err}
}

// expiresInFrom reads expires_in from the raw token response. Providers send
// it as a JSON number or, in older endpoints, as a string.
func expiresInFrom(token *oauth2.Token) (time.Duration, error) {
	var seconds int64
	switch v := token.Extra("expires_in").(type) {
	case float64:
		seconds = int64(v)
	case int64:
		seconds = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid expires_in %q: %w", v, err)
		}
		seconds = n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid expires_in %q: %w", v, err)
		}
		seconds = n
	case nil:
		return 0, errors.New("response missing expires_in")
	default:
		return 0, fmt.Errorf("unexpected expires_in type %T", v)
	}

	if seconds <= 0 {
		return 0, fmt.Errorf("non-positive expires_in %d", seconds)
	}

	return time.Duration(seconds) * time.Second, nil
}
