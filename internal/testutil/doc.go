// Package testutil provides test helpers for go-tokenrelay packages.
//
// It includes utilities to spin up IPv4-only local HTTP servers (avoiding IPv6 in sandboxes),
// a scripted in-memory OAuth2 token endpoint that records form bodies, JWKS/JWT fixtures for
// caller authentication, and self-signed certificates for TLS/mTLS tests.
//
// # Utilities
//
//   - NewLocalHTTPServer: start httptest server bound to 127.0.0.1 (closed via tb.Cleanup)
//   - TokenEndpoint, JSONResponse, TokenJSON, ErrorJSON: stub token endpoints and capture requests
//   - RoundTripFunc: inline http.RoundTripper implementations
//   - NewJWTTestSetup: RSA key pair plus JWKS server, with SignToken
//   - WriteTestCACert / WriteTestCertAndKey: generate temporary CA and leaf certificates for tests
package testutil
