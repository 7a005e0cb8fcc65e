package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmmannChristian/go-tokenrelay/internal/testutil"
)

type staticSource string

func (s staticSource) GetValidToken(context.Context) (string, error) {
	return string(s), nil
}

type failingSource struct{ err error }

func (s failingSource) GetValidToken(context.Context) (string, error) {
	return "", s.err
}

type contextSource struct{}

func (contextSource) GetValidToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "ctx-token", nil
}

func TestOAuth2Transport_RoundTrip(t *testing.T) {
	var seen *http.Request
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen = req
		return testutil.JSONResponse(http.StatusOK, `{"ok":true}`), nil
	})

	transport := NewOAuth2Transport(staticSource("abc"), base)

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/data", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "42")

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.NotNil(t, seen)
	assert.Equal(t, "Bearer abc", seen.Header.Get("Authorization"))
	assert.Equal(t, "42", seen.Header.Get("X-Request-ID"))
	assert.Empty(t, req.Header.Get("Authorization"), "original request must not be modified")
}

func TestOAuth2Transport_Errors(t *testing.T) {
	sourceErr := errors.New("no valid access token")
	called := false
	base := testutil.RoundTripFunc(func(*http.Request) (*http.Response, error) {
		called = true
		return nil, nil
	})

	tests := []struct {
		name      string
		transport *OAuth2Transport
		ctx       func() context.Context
		wantIs    error
		wantText  string
	}{
		{
			name:      "nil source",
			transport: &OAuth2Transport{Base: base},
			ctx:       context.Background,
			wantText:  "httpclient: token source is nil",
		},
		{
			name:      "source failure",
			transport: NewOAuth2Transport(failingSource{err: sourceErr}, base),
			ctx:       context.Background,
			wantIs:    sourceErr,
			wantText:  "httpclient: failed to get token",
		},
		{
			name:      "cancelled request context",
			transport: NewOAuth2Transport(contextSource{}, base),
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantIs:   context.Canceled,
			wantText: "httpclient: failed to get token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req, err := http.NewRequestWithContext(tt.ctx(), http.MethodGet, "https://api.example.com", nil)
			require.NoError(t, err)

			resp, err := tt.transport.RoundTrip(req)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Contains(t, err.Error(), tt.wantText)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.False(t, called)
		})
	}
}

func TestNewOAuth2Transport_DefaultBase(t *testing.T) {
	transport := NewOAuth2Transport(staticSource("x"), nil)
	assert.Equal(t, http.DefaultTransport, transport.Base)
}
