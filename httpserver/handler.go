package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AmmannChristian/go-tokenrelay/oauth2client"
	"github.com/AmmannChristian/go-tokenrelay/tokenmanager"
)

// Route paths served by NewHandler.
const (
	TokenPath   = "/get-token"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

// TokenSource supplies the relayed access token. *tokenmanager.Manager implements it.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// StatusSource reports the token lifecycle for the health endpoint.
type StatusSource interface {
	Snapshot() tokenmanager.Status
}

// RequestRecorder counts token responses by status code.
type RequestRecorder interface {
	TokenRequest(status int)
}

type handlerConfig struct {
	status   StatusSource
	metrics  http.Handler
	recorder RequestRecorder
	logger   *slog.Logger
}

// HandlerOption configures NewHandler.
type HandlerOption func(*handlerConfig)

// WithStatusSource enables /healthz.
func WithStatusSource(status StatusSource) HandlerOption {
	return func(c *handlerConfig) {
		c.status = status
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) HandlerOption {
	return func(c *handlerConfig) {
		c.metrics = h
	}
}

// WithRequestRecorder counts every /get-token response.
func WithRequestRecorder(recorder RequestRecorder) HandlerOption {
	return func(c *handlerConfig) {
		c.recorder = recorder
	}
}

// WithHandlerLogger sets the logger for failed token requests.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(c *handlerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// TokenResponse is the body of a successful /get-token response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status              string     `json:"status"`
	State               string     `json:"state"`
	Expiry              *time.Time `json:"expiry,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

type handler struct {
	source TokenSource
	cfg    handlerConfig
}

// NewHandler returns the relay's HTTP API.
//
//   - GET /get-token returns {"access_token": "..."}; 503 when no valid token can be obtained
//   - GET /healthz reports the token state; 503 when no token could be served (needs WithStatusSource)
//   - /metrics serves the configured metrics handler (needs WithMetricsHandler)
func NewHandler(source TokenSource, opts ...HandlerOption) http.Handler {
	h := &handler{
		source: source,
		cfg: handlerConfig{
			logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
	for _, opt := range opts {
		opt(&h.cfg)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, h.getToken)
	if h.cfg.status != nil {
		mux.HandleFunc(HealthPath, h.health)
	}
	if h.cfg.metrics != nil {
		mux.Handle(MetricsPath, h.cfg.metrics)
	}
	return mux
}

func (h *handler) getToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.record(http.StatusMethodNotAllowed)
		w.Header().Set("Allow", http.MethodGet)
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	token, err := h.source.GetValidToken(r.Context())
	if err != nil {
		status, code, description := classifyTokenError(err)
		h.cfg.logger.Warn("token request failed", "status", status, "error", err)
		h.record(status)
		writeJSONError(w, status, code, description)
		return
	}

	h.record(http.StatusOK)
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token})
}

func classifyTokenError(err error) (int, string, string) {
	var unavailable *tokenmanager.TokenUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, "token_unavailable", unavailableDescription(unavailable.Err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "token_unavailable", "timed out waiting for a token refresh"
	default:
		return http.StatusInternalServerError, "internal_error", "failed to obtain an access token"
	}
}

// unavailableDescription carries the provider's diagnostic fields to the
// caller. Credentials never appear in them.
func unavailableDescription(cause error) string {
	const prefix = "no valid access token is currently available"

	var detail string
	var reqErr *oauth2client.ProviderRequestError
	var respErr *oauth2client.ProviderResponseError
	switch {
	case errors.As(cause, &reqErr):
		detail = reqErr.Detail()
	case errors.As(cause, &respErr):
		detail = respErr.Detail()
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		detail = "timed out waiting for a token refresh"
	case errors.Is(cause, tokenmanager.ErrManagerClosed):
		detail = "relay is shutting down"
	case errors.Is(cause, tokenmanager.ErrRefreshThrottled):
		return prefix + ": refresh throttled"
	default:
		return prefix
	}

	if errors.Is(cause, tokenmanager.ErrRefreshThrottled) {
		detail = "refresh throttled after: " + detail
	}
	return prefix + ": " + detail
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	snapshot := h.cfg.status.Snapshot()
	resp := HealthResponse{
		Status:              "ok",
		State:               snapshot.State.String(),
		ConsecutiveFailures: snapshot.ConsecutiveFailures,
		LastError:           snapshot.LastError,
	}
	if !snapshot.Expiry.IsZero() {
		expiry := snapshot.Expiry.UTC()
		resp.Expiry = &expiry
	}

	status := http.StatusOK
	if !snapshot.Servable {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, resp)
}

func (h *handler) record(status int) {
	if h.cfg.recorder != nil {
		h.cfg.recorder.TokenRequest(status)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}
