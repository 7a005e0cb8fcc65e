package grpcclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// TokenInterceptors supplies the client interceptors that attach a bearer
// token to every call. *tokenmanager.Manager implements it.
type TokenInterceptors interface {
	UnaryClientInterceptor() grpc.UnaryClientInterceptor
	StreamClientInterceptor() grpc.StreamClientInterceptor
}

// Builder constructs gRPC client connections that carry the relayed access
// token. Connections use TLS 1.2+ with system roots unless configured otherwise.
type Builder struct {
	address string
	tokens  TokenInterceptors

	tlsEnabled    bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsServerName string
	plaintext     bool

	dialOpts []grpc.DialOption
}

// NewBuilder creates a new gRPC client builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithAddress sets the server address (e.g., "orders.internal:9090").
func (b *Builder) WithAddress(address string) *Builder {
	b.address = address
	return b
}

// WithTokens attaches the access token held by tokens to every call.
func (b *Builder) WithTokens(tokens TokenInterceptors) *Builder {
	b.tokens = tokens
	return b
}

// WithTLS sets a custom root CA and, optionally, a client certificate pair
// for mTLS. serverName overrides the name used for verification.
func (b *Builder) WithTLS(caFile, certFile, keyFile, serverName string) *Builder {
	b.tlsEnabled = true
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	b.tlsServerName = serverName
	return b
}

// WithInsecure disables transport security. Bearer tokens then travel in
// clear text, so this is only suitable for loopback connections and tests.
func (b *Builder) WithInsecure() *Builder {
	b.plaintext = true
	return b
}

// WithDialOptions adds custom gRPC dial options, applied after the builder's own.
func (b *Builder) WithDialOptions(opts ...grpc.DialOption) *Builder {
	b.dialOpts = append(b.dialOpts, opts...)
	return b
}

// Build creates the client connection. No I/O happens until the first call.
func (b *Builder) Build() (*grpc.ClientConn, error) {
	if b.address == "" {
		return nil, errors.New("grpcclient: server address is required")
	}
	if b.plaintext && b.tlsEnabled {
		return nil, errors.New("grpcclient: WithInsecure and WithTLS are mutually exclusive")
	}

	var opts []grpc.DialOption

	if b.tokens != nil {
		opts = append(opts,
			grpc.WithUnaryInterceptor(b.tokens.UnaryClientInterceptor()),
			grpc.WithStreamInterceptor(b.tokens.StreamClientInterceptor()),
		)
	}

	switch {
	case b.plaintext:
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	case b.tlsEnabled:
		tlsConfig, err := b.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("grpcclient: TLS config failed: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	default:
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	opts = append(opts, b.dialOpts...)

	conn, err := grpc.NewClient(b.address, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcclient: dial failed: %w", err)
	}
	return conn, nil
}

func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: b.tlsServerName,
	}

	if b.tlsCAFile != "" {
		caCert, err := os.ReadFile(b.tlsCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	switch {
	case b.tlsCertFile != "" && b.tlsKeyFile != "":
		cert, err := tls.LoadX509KeyPair(b.tlsCertFile, b.tlsKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	case b.tlsCertFile != "" || b.tlsKeyFile != "":
		return nil, errors.New("both TLS cert and key files must be provided for mTLS")
	}

	return tlsConfig, nil
}
