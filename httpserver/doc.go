// Package httpserver exposes the token relay over HTTP.
//
// NewHandler serves the relay API:
//
//   - GET /get-token returns {"access_token": "..."} from a TokenSource
//   - GET /healthz reports the token lifecycle from a StatusSource
//   - /metrics serves a Prometheus handler
//
// Token responses carry "Cache-Control: no-store". When no valid token can be
// obtained the handler answers 503 with an OAuth2-style error body whose
// error_description names the provider's status, error code and description.
// Transport errors are summarized so internal addresses do not leak.
//
// # Caller authentication
//
// The relay hands out credentials, so deployments that are reachable beyond a
// trusted network should require callers to authenticate. Middleware
// validates a JWT bearer token against the issuer's JWKS and can demand
// scopes. For Entra ID issuers ({authority}/{tenant}/v2.0) the JWKS URL is
// derived from the tenant:
//
//	validator, err := httpserver.NewValidatorBuilder(issuerURL, "token-relay").Build()
//	if err != nil {
//	    return err
//	}
//	defer validator.Close()
//
//	handler := httpserver.Middleware(validator,
//	    httpserver.WithExemptPaths(httpserver.HealthPath, httpserver.MetricsPath),
//	    httpserver.WithRequiredScopes("relay.token"),
//	)(httpserver.NewHandler(manager, httpserver.WithStatusSource(manager)))
//
// Validated claims are available to handlers via TokenClaimsFromContext.
//
// # Serving
//
// Server applies conservative timeouts and serves TLS when configured with
// WithTLS. NewTLSConfig loads the certificate pair and, with a CA file,
// requires client certificates (mTLS). CORS restricts which browser origins
// may read tokens; by default none may.
package httpserver
