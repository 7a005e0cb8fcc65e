package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmmannChristian/go-tokenrelay/oauth2client"
	"github.com/AmmannChristian/go-tokenrelay/tokenmanager"
)

type stubSource struct {
	token string
	err   error
	calls int
}

func (s *stubSource) GetValidToken(context.Context) (string, error) {
	s.calls++
	return s.token, s.err
}

type stubStatus tokenmanager.Status

func (s stubStatus) Snapshot() tokenmanager.Status { return tokenmanager.Status(s) }

type countingRecorder map[int]int

func (r countingRecorder) TokenRequest(status int) { r[status]++ }

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandler_GetToken(t *testing.T) {
	source := &stubSource{token: "relay-access-token"}
	recorder := countingRecorder{}
	h := NewHandler(source, WithRequestRecorder(recorder))

	rec := serve(t, h, http.MethodGet, TokenPath)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"access_token":"relay-access-token"}`, rec.Body.String())
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, 1, recorder[http.StatusOK])
}

func TestHandler_GetTokenErrors(t *testing.T) {
	invalidClient := &oauth2client.ProviderRequestError{
		StatusCode:  http.StatusUnauthorized,
		ErrorCode:   "invalid_client",
		Description: "AADSTS7000215: Invalid client secret provided.",
		Err:         errors.New("oauth2: cannot fetch token: 401 Unauthorized"),
	}

	tests := []struct {
		name            string
		err             error
		wantStatus      int
		wantCode        string
		wantDescription string
	}{
		{
			name:            "provider rejected the client",
			err:             &tokenmanager.TokenUnavailableError{Err: invalidClient},
			wantStatus:      http.StatusServiceUnavailable,
			wantCode:        "token_unavailable",
			wantDescription: "no valid access token is currently available: identity provider returned status 401: invalid_client: AADSTS7000215: Invalid client secret provided.",
		},
		{
			name: "provider unreachable",
			err: &tokenmanager.TokenUnavailableError{Err: &oauth2client.ProviderRequestError{
				Err: errors.New(`Post "https://10.0.0.7/token": dial tcp 10.0.0.7:443: connect: connection refused`),
			}},
			wantStatus:      http.StatusServiceUnavailable,
			wantCode:        "token_unavailable",
			wantDescription: "no valid access token is currently available: identity provider could not be reached",
		},
		{
			name: "provider timed out",
			err: &tokenmanager.TokenUnavailableError{Err: &oauth2client.ProviderRequestError{
				Err: context.DeadlineExceeded,
			}},
			wantStatus:      http.StatusServiceUnavailable,
			wantCode:        "token_unavailable",
			wantDescription: "no valid access token is currently available: identity provider did not respond in time",
		},
		{
			name: "malformed provider response",
			err: &tokenmanager.TokenUnavailableError{Err: &oauth2client.ProviderResponseError{
				Err: errors.New("missing expires_in"),
			}},
			wantStatus:      http.StatusServiceUnavailable,
			wantCode:        "token_unavailable",
			wantDescription: "no valid access token is currently available: identity provider returned an unusable token response: missing expires_in",
		},
		{
			name: "throttled after a provider error",
			err: &tokenmanager.TokenUnavailableError{
				Err: fmt.Errorf("%w (last error: %w)", tokenmanager.ErrRefreshThrottled, invalidClient),
			},
			wantStatus:      http.StatusServiceUnavailable,
			wantCode:        "token_unavailable",
			wantDescription: "no valid access token is currently available: refresh throttled after: identity provider returned status 401: invalid_client: AADSTS7000215: Invalid client secret provided.",
		},
		{
			name:            "throttled before any attempt",
			err:             &tokenmanager.TokenUnavailableError{Err: tokenmanager.ErrRefreshThrottled},
			wantStatus:      http.StatusServiceUnavailable,
			wantCode:        "token_unavailable",
			wantDescription: "no valid access token is currently available: refresh throttled",
		},
		{
			name:            "caller gave up waiting",
			err:             context.DeadlineExceeded,
			wantStatus:      http.StatusServiceUnavailable,
			wantCode:        "token_unavailable",
			wantDescription: "timed out waiting for a token refresh",
		},
		{
			name:            "unexpected failure",
			err:             errors.New("boom"),
			wantStatus:      http.StatusInternalServerError,
			wantCode:        "internal_error",
			wantDescription: "failed to obtain an access token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := countingRecorder{}
			h := NewHandler(&stubSource{err: tt.err}, WithRequestRecorder(recorder))

			rec := serve(t, h, http.MethodGet, TokenPath)

			require.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error)
			assert.Equal(t, tt.wantDescription, body.ErrorDescription)
			assert.NotContains(t, body.ErrorDescription, "10.0.0.7", "transport detail stays in the logs")
			assert.Equal(t, 1, recorder[tt.wantStatus])
		})
	}
}

func TestHandler_GetTokenMethodNotAllowed(t *testing.T) {
	source := &stubSource{token: "t"}
	h := NewHandler(source)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := serve(t, h, method, TokenPath)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
	}
	assert.Zero(t, source.calls)
}

func TestHandler_Health(t *testing.T) {
	expiry := time.Date(2025, time.January, 1, 1, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		status     tokenmanager.Status
		wantStatus int
		wantBody   string
	}{
		{
			name:       "valid token",
			status:     tokenmanager.Status{State: tokenmanager.StateValid, Servable: true, Expiry: expiry},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok","state":"valid","expiry":"2025-01-01T01:00:00Z"}`,
		},
		{
			name: "failing but still servable",
			status: tokenmanager.Status{
				State:               tokenmanager.StateFailed,
				Servable:            true,
				Expiry:              expiry,
				ConsecutiveFailures: 2,
				LastError:           "oauth2client: token endpoint returned status 503",
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok","state":"failed","expiry":"2025-01-01T01:00:00Z","consecutive_failures":2,"last_error":"oauth2client: token endpoint returned status 503"}`,
		},
		{
			name:       "nothing to serve",
			status:     tokenmanager.Status{State: tokenmanager.StateEmpty},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"unavailable","state":"empty"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&stubSource{}, WithStatusSource(stubStatus(tt.status)))

			rec := serve(t, h, http.MethodGet, HealthPath)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestHandler_OptionalRoutes(t *testing.T) {
	h := NewHandler(&stubSource{})
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, HealthPath).Code)
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, MetricsPath).Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tokenrelay_refresh_total 1\n"))
	})
	h = NewHandler(&stubSource{}, WithMetricsHandler(metrics))

	rec := serve(t, h, http.MethodGet, MetricsPath)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tokenrelay_refresh_total")
}
