package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AmmannChristian/go-tokenrelay/httpclient"
	"github.com/AmmannChristian/go-tokenrelay/httpserver"
	"github.com/AmmannChristian/go-tokenrelay/internal/config"
	"github.com/AmmannChristian/go-tokenrelay/internal/logging"
	"github.com/AmmannChristian/go-tokenrelay/internal/metrics"
	"github.com/AmmannChristian/go-tokenrelay/oauth2client"
	"github.com/AmmannChristian/go-tokenrelay/tokenmanager"
	"github.com/AmmannChristian/go-tokenrelay/tokenstore"
)

// ShutdownTimeout bounds graceful shutdown after the run context ends.
const ShutdownTimeout = 15 * time.Second

// App is a fully wired token relay.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	client    *oauth2client.Client
	manager   *tokenmanager.Manager
	validator *httpserver.JWTTokenValidator
	handler   http.Handler
	server    *httpserver.Server

	closeOnce sync.Once
}

type options struct {
	providerTransport http.RoundTripper
	userAgent         string
	runtimeMetrics    bool
}

// Option configures New.
type Option func(*options)

// WithProviderTransport replaces the network transport used to reach the
// token endpoint.
func WithProviderTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.providerTransport = rt
	}
}

// WithUserAgent sets the User-Agent sent to the identity provider.
func WithUserAgent(userAgent string) Option {
	return func(o *options) {
		o.userAgent = userAgent
	}
}

// WithoutRuntimeMetrics omits the Go runtime and process collectors.
func WithoutRuntimeMetrics() Option {
	return func(o *options) {
		o.runtimeMetrics = false
	}
}

// New wires the relay from a validated configuration. Caller authentication,
// when configured, fetches the issuer's key set here.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{userAgent: "go-tokenrelay", runtimeMetrics: true}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(o.runtimeMetrics),
	}

	providerHTTP, err := a.providerHTTPClient(o)
	if err != nil {
		return nil, err
	}

	a.client, err = oauth2client.NewClient(cfg.OAuth2(),
		oauth2client.WithHTTPClient(providerHTTP),
		oauth2client.WithLogger(logging.Subsystem(logger, "oauth2client")),
	)
	if err != nil {
		return nil, err
	}

	store := tokenstore.New(tokenstore.Record{RefreshCredential: cfg.Provider.RefreshToken})
	a.manager = tokenmanager.New(a.client, store,
		tokenmanager.WithRefreshMargin(cfg.Refresh.Margin),
		tokenmanager.WithRefreshTimeout(cfg.Refresh.Timeout),
		tokenmanager.WithCheckInterval(cfg.Refresh.CheckInterval),
		tokenmanager.WithLogger(logging.Subsystem(logger, "tokenmanager")),
		tokenmanager.WithMetrics(a.metrics),
	)

	if err := a.buildHandler(); err != nil {
		return nil, err
	}
	if err := a.buildServer(); err != nil {
		if a.validator != nil {
			a.validator.Close()
		}
		return nil, err
	}

	return a, nil
}

func (a *App) providerHTTPClient(o options) (*http.Client, error) {
	b := httpclient.NewBuilder().
		WithTimeout(a.cfg.Refresh.Timeout).
		WithoutRedirects().
		WithUserAgent(o.userAgent)
	if a.cfg.Provider.CAFile != "" {
		b = b.WithTLS(a.cfg.Provider.CAFile, "", "")
	}
	if o.providerTransport != nil {
		b = b.WithBaseTransport(o.providerTransport)
	}

	client, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("app: provider HTTP client: %w", err)
	}
	return client, nil
}

// buildHandler composes CORS, caller authentication and the relay API, in
// that order, so preflight requests never need a token.
func (a *App) buildHandler() error {
	var h http.Handler = httpserver.NewHandler(a.manager,
		httpserver.WithStatusSource(a.manager),
		httpserver.WithMetricsHandler(a.metrics.Handler()),
		httpserver.WithRequestRecorder(a.metrics),
		httpserver.WithHandlerLogger(logging.Subsystem(a.logger, "http")),
	)

	if auth := a.cfg.CallerAuth; auth.Enabled() {
		builder := httpserver.NewValidatorBuilder(auth.Issuer, auth.Audience).
			WithAuthorityHost(a.cfg.Provider.AuthorityHost).
			WithCAFile(a.cfg.Provider.CAFile).
			WithLogger(logging.Subsystem(a.logger, "callerauth"))
		if auth.JWKSURL != "" {
			builder = builder.WithJWKSURL(auth.JWKSURL)
		}

		validator, err := builder.Build()
		if err != nil {
			return fmt.Errorf("app: caller authentication: %w", err)
		}
		a.validator = validator

		h = httpserver.Middleware(validator,
			httpserver.WithExemptPaths(httpserver.HealthPath, httpserver.MetricsPath),
			httpserver.WithRequiredScopes(auth.Scopes...),
			httpserver.WithMiddlewareLogger(logging.Subsystem(a.logger, "callerauth")),
		)(h)
	}

	a.handler = httpserver.CORS(a.cfg.Server.AllowedOrigins)(h)
	return nil
}

func (a *App) buildServer() error {
	opts := []httpserver.ServerOption{httpserver.WithServerLogger(logging.Subsystem(a.logger, "server"))}

	if a.cfg.TLSEnabled() {
		tlsConfig, err := httpserver.NewTLSConfig(&httpserver.TLSConfig{
			CertFile: a.cfg.Server.TLSCertFile,
			KeyFile:  a.cfg.Server.TLSKeyFile,
			CAFile:   a.cfg.Server.TLSCAFile,
		})
		if err != nil {
			return fmt.Errorf("app: listener TLS: %w", err)
		}
		opts = append(opts, httpserver.WithTLS(tlsConfig))
	}

	a.server = httpserver.NewServer(a.cfg.Addr(), a.handler, opts...)
	return nil
}

// Handler returns the composed HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Manager returns the token lifecycle manager.
func (a *App) Manager() *tokenmanager.Manager {
	return a.manager
}

// Run obtains the first token, then serves on l (or the configured address
// when l is nil) until ctx is done. Startup fails without serving when the
// first exchange fails.
func (a *App) Run(ctx context.Context, l net.Listener) error {
	if err := a.manager.Start(ctx); err != nil {
		a.Close(context.Background())
		return err
	}

	if l == nil {
		var err error
		l, err = net.Listen("tcp", a.cfg.Addr())
		if err != nil {
			a.Close(context.Background())
			return fmt.Errorf("app: listen on %s: %w", a.cfg.Addr(), err)
		}
	}

	snapshot := a.manager.Snapshot()
	a.logger.Info("token relay ready",
		"addr", l.Addr().String(),
		"token_endpoint", a.client.Endpoint(),
		"token_expiry", snapshot.Expiry.UTC().Format(time.RFC3339),
		"caller_auth", a.validator != nil,
		"tls", a.cfg.TLSEnabled(),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(l) }()

	select {
	case err := <-errCh:
		a.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	shutdownErr := a.server.Shutdown(shutdownCtx)
	serveErr := <-errCh
	a.Close(shutdownCtx)

	return errors.Join(shutdownErr, serveErr)
}

// Token performs a single exchange and returns the access token.
func (a *App) Token(ctx context.Context) (string, error) {
	defer a.Close(context.Background())
	return a.manager.GetValidToken(ctx)
}

// Close stops the manager and the caller-auth key refresh. It is safe to
// call more than once.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		if err := a.manager.Shutdown(ctx); err != nil {
			a.logger.Warn("token manager shutdown incomplete", "error", err)
		}
		if a.validator != nil {
			a.validator.Close()
		}
	})
}
