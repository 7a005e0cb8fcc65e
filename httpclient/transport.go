package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TokenSource supplies access tokens. *tokenmanager.Manager implements it.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// OAuth2Transport is an http.RoundTripper that adds
// "Authorization: Bearer <token>" to outgoing requests.
type OAuth2Transport struct {
	// Base is the underlying HTTP transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// Source provides access tokens.
	Source TokenSource
}

// RoundTrip fetches a token with the request context and delegates to Base.
// The original request is never modified.
func (t *OAuth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Source == nil {
		return nil, errors.New("httpclient: token source is nil")
	}

	token, err := t.Source.GetValidToken(req.Context())
	if err != nil {
		return nil, fmt.Errorf("httpclient: failed to get token: %w", err)
	}

	reqClone := req.Clone(req.Context())
	reqClone.Header.Set("Authorization", "Bearer "+token)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(reqClone)
}

// NewOAuth2Transport creates an OAuth2Transport over base, which defaults to
// http.DefaultTransport.
func NewOAuth2Transport(source TokenSource, base http.RoundTripper) *OAuth2Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &OAuth2Transport{Base: base, Source: source}
}
