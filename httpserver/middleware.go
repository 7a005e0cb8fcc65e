package httpserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

var (
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("httpserver: missing bearer token")

	// ErrInsufficientScope is returned when a valid token lacks a required scope.
	ErrInsufficientScope = errors.New("httpserver: insufficient scope")
)

// MiddlewareConfig holds configuration for the caller authentication middleware.
type MiddlewareConfig struct {
	validator           TokenValidator
	exemptPaths         map[string]bool
	exemptPathPrefixes  []string
	requiredScopes      []string
	logger              *slog.Logger
	tokenExtractor      TokenExtractor
	unauthorizedHandler UnauthorizedHandler
}

// MiddlewareOption is a functional option for configuring middleware.
type MiddlewareOption func(*MiddlewareConfig)

// TokenExtractor extracts a token from a request and reports whether one was found.
type TokenExtractor func(r *http.Request) (string, bool)

// UnauthorizedHandler writes the response for a rejected request. err wraps
// ErrInsufficientScope when the token was valid but lacked a scope.
type UnauthorizedHandler func(w http.ResponseWriter, r *http.Request, err error)

// WithExemptPaths lists paths that skip authentication. Paths must match exactly.
//
// Example:
//
//	WithExemptPaths("/healthz", "/metrics")
func WithExemptPaths(paths ...string) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		for _, path := range paths {
			c.exemptPaths[path] = true
		}
	}
}

// WithExemptPathPrefixes lists path prefixes that skip authentication.
func WithExemptPathPrefixes(prefixes ...string) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.exemptPathPrefixes = append(c.exemptPathPrefixes, prefixes...)
	}
}

// WithRequiredScopes requires every listed scope on the caller's token.
// Requests missing one are rejected with 403.
func WithRequiredScopes(scopes ...string) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.requiredScopes = append(c.requiredScopes, scopes...)
	}
}

// WithMiddlewareLogger sets a logger for authentication decisions.
func WithMiddlewareLogger(logger *slog.Logger) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTokenExtractor replaces the default "Authorization: Bearer <token>" extraction.
func WithTokenExtractor(extractor TokenExtractor) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.tokenExtractor = extractor
	}
}

// WithUnauthorizedHandler replaces the default JSON 401/403 response.
func WithUnauthorizedHandler(handler UnauthorizedHandler) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.unauthorizedHandler = handler
	}
}

// Middleware returns an HTTP middleware that authenticates relay callers.
//
// The middleware:
//   - Extracts the bearer token from the "Authorization" header
//   - Validates it with validator
//   - Checks the required scopes, if any
//   - Stores the claims in the request context (see TokenClaimsFromContext)
//   - Rejects the request with 401, or 403 for missing scopes
//
// Usage:
//
//	validator, _ := httpserver.NewValidatorBuilder(issuerURL, audience).Build()
//	handler := httpserver.Middleware(validator,
//	    httpserver.WithExemptPaths("/healthz", "/metrics"),
//	)(httpserver.NewHandler(manager))
func Middleware(validator TokenValidator, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	config := &MiddlewareConfig{
		validator:           validator,
		exemptPaths:         make(map[string]bool),
		logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		tokenExtractor:      bearerToken,
		unauthorizedHandler: writeAuthError,
	}

	for _, opt := range opts {
		opt(config)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(r.URL.Path, config) {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := authenticate(r, config)
			if err != nil {
				config.logger.Info("caller authentication failed",
					"method", r.Method, "path", r.URL.Path, "error", err)
				config.unauthorizedHandler(w, r, err)
				return
			}

			config.logger.Debug("caller authenticated",
				"method", r.Method, "path", r.URL.Path, "subject", claims.Subject)

			next.ServeHTTP(w, r.WithContext(WithTokenClaims(r.Context(), claims)))
		})
	}
}

func isExempt(path string, config *MiddlewareConfig) bool {
	if config.exemptPaths[path] {
		return true
	}
	for _, prefix := range config.exemptPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func authenticate(r *http.Request, config *MiddlewareConfig) (*TokenClaims, error) {
	token, ok := config.tokenExtractor(r)
	if !ok || token == "" {
		return nil, ErrMissingToken
	}

	claims, err := config.validator.ValidateToken(r.Context(), token)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, scope := range config.requiredScopes {
		if !claims.HasScope(scope) {
			missing = append(missing, scope)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInsufficientScope, strings.Join(missing, ", "))
	}

	return claims, nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, ErrInsufficientScope) {
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
		writeJSONError(w, http.StatusForbidden, "insufficient_scope", "the caller token lacks a required scope")
		return
	}
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeJSONError(w, http.StatusUnauthorized, "invalid_token", "a valid bearer token is required")
}
