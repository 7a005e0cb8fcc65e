package testutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// NewLocalHTTPServer starts an HTTP server bound to IPv4 loopback only.
// The sandbox blocks IPv6 listeners, so force tcp4 to keep tests runnable.
func NewLocalHTTPServer(tb testing.TB, handler http.Handler) *httptest.Server {
	tb.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("failed to create IPv4 listener: %v", err)
	}

	server := httptest.NewUnstartedServer(handler)
	server.Listener = listener
	server.Start()
	tb.Cleanup(server.Close)

	return server
}

// RoundTripFunc allows inlining http.RoundTripper implementations.
type RoundTripFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls the underlying function.
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// TokenRequest is a token-endpoint call captured by TokenEndpoint.
type TokenRequest struct {
	Method      string
	Path        string
	ContentType string
	Form        url.Values
}

// TokenHandler produces the response for the n-th (zero-based) token request.
type TokenHandler func(n int, req TokenRequest) (*http.Response, error)

// TokenEndpoint simulates an OAuth2 token endpoint without real sockets.
// It records every request's form body and serves responses through a
// custom RoundTripper. It is safe for concurrent use.
type TokenEndpoint struct {
	URL string

	mu       sync.Mutex
	requests []TokenRequest
	handler  TokenHandler
}

// NewTokenEndpoint builds a mock token endpoint. If handler is nil, every
// request receives TokenJSON("mock-access-token", 3600, "").
func NewTokenEndpoint(tb testing.TB, handler TokenHandler) *TokenEndpoint {
	tb.Helper()

	if handler == nil {
		handler = func(int, TokenRequest) (*http.Response, error) {
			return JSONResponse(http.StatusOK, TokenJSON("mock-access-token", 3600, "")), nil
		}
	}

	return &TokenEndpoint{
		URL:     "https://mock-oauth.example.com/token",
		handler: handler,
	}
}

// RoundTrip implements http.RoundTripper.
func (e *TokenEndpoint) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("testutil: invalid form body: %w", err)
	}

	captured := TokenRequest{
		Method:      req.Method,
		Path:        req.URL.Path,
		ContentType: req.Header.Get("Content-Type"),
		Form:        form,
	}

	e.mu.Lock()
	n := len(e.requests)
	e.requests = append(e.requests, captured)
	handler := e.handler
	e.mu.Unlock()

	resp, err := handler(n, captured)
	if resp != nil && resp.Request == nil {
		resp.Request = req
	}
	return resp, err
}

// SetHandler replaces the response handler for subsequent requests.
func (e *TokenEndpoint) SetHandler(handler TokenHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// HTTPClient returns an HTTP client whose transport is the endpoint.
func (e *TokenEndpoint) HTTPClient() *http.Client {
	return &http.Client{Transport: e}
}

// Context returns a context carrying HTTPClient under oauth2.HTTPClient.
func (e *TokenEndpoint) Context() context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, e.HTTPClient())
}

// Requests returns a copy of the captured requests.
func (e *TokenEndpoint) Requests() []TokenRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TokenRequest, len(e.requests))
	copy(out, e.requests)
	return out
}

// Count returns the number of captured requests.
func (e *TokenEndpoint) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

// JSONResponse builds an *http.Response with a JSON body.
func JSONResponse(status int, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// TokenJSON renders a token response body. refreshToken is omitted when empty.
func TokenJSON(accessToken string, expiresIn int, refreshToken string) string {
	payload := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	}
	if refreshToken != "" {
		payload["refresh_token"] = refreshToken
	}
	data, _ := json.Marshal(payload) // map of plain values cannot fail
	return string(data)
}

// ErrorJSON renders an OAuth2 error body.
func ErrorJSON(code, description string) string {
	data, _ := json.Marshal(map[string]string{
		"error":             code,
		"error_description": description,
	})
	return string(data)
}

// WriteTestCACert writes a self-signed CA certificate to the provided path for TLS tests.
func WriteTestCACert(tb testing.TB, path string) {
	tb.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("failed to generate CA key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		Subject:               pkix.Name{CommonName: "test-ca"},
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		tb.Fatalf("failed to create CA certificate: %v", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		tb.Fatalf("failed to write CA certificate: %v", err)
	}
}

// WriteTestCertAndKey writes a self-signed certificate and key to the provided paths.
func WriteTestCertAndKey(tb testing.TB, certPath, keyPath string) {
	tb.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		Subject:      pkix.Name{CommonName: "test-cert"},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		tb.Fatalf("failed to create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		tb.Fatalf("failed to write certificate: %v", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		tb.Fatalf("failed to write key: %v", err)
	}
}

// TestKeyPair holds an RSA key pair for JWT testing.
type TestKeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// GenerateTestKeyPair generates a new RSA key pair for testing.
func GenerateTestKeyPair(tb testing.TB) *TestKeyPair {
	tb.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("failed to generate RSA key pair: %v", err)
	}

	return &TestKeyPair{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
	}
}

// JWTTestSetup contains a key pair and a JWKS server publishing its public key.
type JWTTestSetup struct {
	KeyPair    *TestKeyPair
	JWKSServer *httptest.Server
	Issuer     string
	Audience   string
}

// NewJWTTestSetup creates a key pair and a loopback JWKS server.
func NewJWTTestSetup(tb testing.TB) *JWTTestSetup {
	tb.Helper()

	keyPair := GenerateTestKeyPair(tb)

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": "test-key-1",
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(keyPair.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(keyPair.PublicKey.E)).Bytes()),
			},
		},
	}

	server := NewLocalHTTPServer(tb, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))

	return &JWTTestSetup{
		KeyPair:    keyPair,
		JWKSServer: server,
		Issuer:     "https://auth.example.com",
		Audience:   "token-relay",
	}
}

// SignToken signs caller claims for subject with the setup's key.
// Extra claims override the defaults (iss, aud, sub, exp, iat).
func (s *JWTTestSetup) SignToken(tb testing.TB, subject string, extra jwt.MapClaims) string {
	tb.Helper()

	claims := jwt.MapClaims{
		"iss": s.Issuer,
		"aud": []string{s.Audience},
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	for k, v := range extra {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key-1"

	tokenString, err := token.SignedString(s.KeyPair.PrivateKey)
	if err != nil {
		tb.Fatalf("failed to sign token: %v", err)
	}

	return tokenString
}
