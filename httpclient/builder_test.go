package httpclient

import (
	"crypto/tls"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmmannChristian/go-tokenrelay/internal/testutil"
)

func TestNewBuilder(t *testing.T) {
	b := NewBuilder()

	assert.Equal(t, DefaultTimeout, b.timeout)
	assert.True(t, b.followRedirects)
	assert.Nil(t, b.source)
}

func TestBuilder_Build_Defaults(t *testing.T) {
	client, err := NewBuilder().WithTimeout(5 * time.Second).Build()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, client.Timeout)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, uint16(tls.VersionTLS12), transport.TLSClientConfig.MinVersion)
	assert.Nil(t, transport.TLSClientConfig.RootCAs)
	assert.NotSame(t, http.DefaultTransport, transport)
}

func TestBuilder_Build_TLS(t *testing.T) {
	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.pem")
	certFile := filepath.Join(dir, "client.pem")
	keyFile := filepath.Join(dir, "client-key.pem")
	badCA := filepath.Join(dir, "bad.pem")

	testutil.WriteTestCACert(t, caFile)
	testutil.WriteTestCertAndKey(t, certFile, keyFile)
	require.NoError(t, os.WriteFile(badCA, []byte("not a certificate"), 0o600))

	tests := []struct {
		name      string
		builder   *Builder
		wantErr   string
		wantCerts int
		wantRoots bool
	}{
		{
			name:      "custom CA",
			builder:   NewBuilder().WithTLS(caFile, "", ""),
			wantRoots: true,
		},
		{
			name:      "mutual TLS",
			builder:   NewBuilder().WithTLS(caFile, certFile, keyFile),
			wantRoots: true,
			wantCerts: 1,
		},
		{
			name:    "cert without key",
			builder: NewBuilder().WithTLS("", certFile, ""),
			wantErr: "both TLS cert and key files must be provided",
		},
		{
			name:    "missing CA file",
			builder: NewBuilder().WithTLS(filepath.Join(dir, "absent.pem"), "", ""),
			wantErr: "read CA file",
		},
		{
			name:    "unparseable CA",
			builder: NewBuilder().WithTLS(badCA, "", ""),
			wantErr: "failed to parse CA certificate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := tt.builder.Build()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "httpclient: TLS config failed")
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			cfg := client.Transport.(*http.Transport).TLSClientConfig
			assert.Equal(t, tt.wantRoots, cfg.RootCAs != nil)
			assert.Len(t, cfg.Certificates, tt.wantCerts)
		})
	}
}

func TestBuilder_Build_InsecureSkipVerify(t *testing.T) {
	client, err := NewBuilder().WithInsecureSkipVerify().Build()
	require.NoError(t, err)
	assert.True(t, client.Transport.(*http.Transport).TLSClientConfig.InsecureSkipVerify)
}

func TestBuilder_Build_TokenSourceAndUserAgent(t *testing.T) {
	var gotAuth, gotAgent string
	server := testutil.NewLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))

	client, err := NewBuilder().
		WithTokenSource(staticSource("relay-token")).
		WithUserAgent("tokenrelay/test").
		Build()
	require.NoError(t, err)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "Bearer relay-token", gotAuth)
	assert.Equal(t, "tokenrelay/test", gotAgent)
}

func TestBuilder_Build_UserAgentKeepsExplicitHeader(t *testing.T) {
	var gotAgent string
	rt := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotAgent = req.Header.Get("User-Agent")
		return testutil.JSONResponse(http.StatusOK, "{}"), nil
	})

	client, err := NewBuilder().WithBaseTransport(rt).WithUserAgent("default-agent").Build()
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com", nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "caller-agent")

	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "caller-agent", gotAgent)
}

func TestBuilder_Build_WithoutRedirects(t *testing.T) {
	server := testutil.NewLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	client, err := NewBuilder().WithoutRedirects().Build()
	require.NoError(t, err)

	resp, err := client.Get(server.URL + "/start")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	client, err = NewBuilder().Build()
	require.NoError(t, err)

	resp, err = client.Get(server.URL + "/start")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewHTTPClient(t *testing.T) {
	client := NewHTTPClient(staticSource("x"))

	assert.Equal(t, DefaultTimeout, client.Timeout)
	transport, ok := client.Transport.(*OAuth2Transport)
	require.True(t, ok)
	assert.Equal(t, http.DefaultTransport, transport.Base)
}
