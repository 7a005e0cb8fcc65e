package grpcclient

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/AmmannChristian/go-tokenrelay/internal/testutil"
	"github.com/AmmannChristian/go-tokenrelay/oauth2client"
	"github.com/AmmannChristian/go-tokenrelay/tokenmanager"
	"github.com/AmmannChristian/go-tokenrelay/tokenstore"
)

type exchangerFunc func(ctx context.Context, refreshCredential string) (*oauth2client.Grant, error)

func (f exchangerFunc) Exchange(ctx context.Context, refreshCredential string) (*oauth2client.Grant, error) {
	return f(ctx, refreshCredential)
}

// authRecorder is a server interceptor that remembers the authorization
// metadata of the last call.
type authRecorder struct {
	mu    sync.Mutex
	value []string
	calls int
}

func (r *authRecorder) intercept(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	r.mu.Lock()
	r.value = md.Get("authorization")
	r.calls++
	r.mu.Unlock()
	return handler(ctx, req)
}

func (r *authRecorder) last() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.calls
}

func startHealthServer(t *testing.T) (string, *authRecorder) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	rec := &authRecorder{}
	srv := grpc.NewServer(grpc.UnaryInterceptor(rec.intercept))
	healthpb.RegisterHealthServer(srv, health.NewServer())

	go func() { _ = srv.Serve(l) }()
	t.Cleanup(srv.Stop)

	return l.Addr().String(), rec
}

func newManager(t *testing.T, exchange exchangerFunc) *tokenmanager.Manager {
	t.Helper()
	m := tokenmanager.New(exchange, tokenstore.New(tokenstore.Record{}))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestBuilder_AttachesRelayedToken(t *testing.T) {
	addr, rec := startHealthServer(t)
	manager := newManager(t, func(context.Context, string) (*oauth2client.Grant, error) {
		return &oauth2client.Grant{AccessToken: "downstream-token", ExpiresIn: time.Hour}, nil
	})
	require.NoError(t, manager.Start(context.Background()))

	conn, err := NewBuilder().
		WithAddress(addr).
		WithTokens(manager).
		WithInsecure().
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	auth, calls := rec.last()
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"Bearer downstream-token"}, auth)
}

func TestBuilder_NoTokenAbortsCall(t *testing.T) {
	addr, rec := startHealthServer(t)
	manager := newManager(t, func(context.Context, string) (*oauth2client.Grant, error) {
		return nil, &oauth2client.ProviderRequestError{StatusCode: 401, ErrorCode: "invalid_client", Err: errors.New("invalid_client")}
	})

	conn, err := NewBuilder().WithAddress(addr).WithTokens(manager).WithInsecure().Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "tokenmanager: failed to get token")

	var unavailable *tokenmanager.TokenUnavailableError
	assert.ErrorAs(t, err, &unavailable)

	_, calls := rec.last()
	assert.Zero(t, calls, "the call must not reach the server without a token")
}

func TestBuilder_WithoutTokens(t *testing.T) {
	addr, rec := startHealthServer(t)

	conn, err := NewBuilder().WithAddress(addr).WithInsecure().Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	auth, _ := rec.last()
	assert.Empty(t, auth)
}

func TestBuilder_BuildErrors(t *testing.T) {
	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.crt")
	testutil.WriteTestCACert(t, caFile)

	tests := []struct {
		name    string
		builder *Builder
		wantErr string
	}{
		{
			name:    "no address",
			builder: NewBuilder(),
			wantErr: "grpcclient: server address is required",
		},
		{
			name:    "insecure with TLS",
			builder: NewBuilder().WithAddress("localhost:9090").WithInsecure().WithTLS(caFile, "", "", ""),
			wantErr: "mutually exclusive",
		},
		{
			name:    "missing CA",
			builder: NewBuilder().WithAddress("localhost:9090").WithTLS(filepath.Join(dir, "missing.crt"), "", "", ""),
			wantErr: "read CA file",
		},
		{
			name:    "half a client pair",
			builder: NewBuilder().WithAddress("localhost:9090").WithTLS(caFile, filepath.Join(dir, "client.crt"), "", ""),
			wantErr: "both TLS cert and key files must be provided",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestBuilder_TLSConfig(t *testing.T) {
	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.crt")
	certFile := filepath.Join(dir, "client.crt")
	keyFile := filepath.Join(dir, "client.key")
	testutil.WriteTestCACert(t, caFile)
	testutil.WriteTestCertAndKey(t, certFile, keyFile)

	cfg, err := NewBuilder().WithTLS(caFile, certFile, keyFile, "orders.internal").buildTLSConfig()
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, "orders.internal", cfg.ServerName)

	conn, err := NewBuilder().WithAddress("localhost:9090").WithTLS(caFile, certFile, keyFile, "").Build()
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}

func TestBuilder_WithDialOptions(t *testing.T) {
	b := NewBuilder().WithDialOptions(grpc.WithDisableRetry(), grpc.WithDisableHealthCheck())
	assert.Len(t, b.dialOpts, 2)
}
