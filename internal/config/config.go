package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/AmmannChristian/go-tokenrelay/internal/logging"
	"github.com/AmmannChristian/go-tokenrelay/oauth2client"
)

// DefaultPort is the listen port when none is configured.
const DefaultPort = 3000

// Config is the complete relay configuration.
type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Server     ServerConfig     `yaml:"server"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Log        LogConfig        `yaml:"log"`
	CallerAuth CallerAuthConfig `yaml:"caller_auth"`
}

// ProviderConfig describes the identity provider and the relay's client registration.
type ProviderConfig struct {
	TenantID      string `yaml:"tenant_id"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	Scope         string `yaml:"scope"`
	TokenEndpoint string `yaml:"token_endpoint"`
	AuthorityHost string `yaml:"authority_host"`
	RefreshToken  string `yaml:"refresh_token"`
	CAFile        string `yaml:"ca_file"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	TLSCertFile    string   `yaml:"tls_cert_file"`
	TLSKeyFile     string   `yaml:"tls_key_file"`
	TLSCAFile      string   `yaml:"tls_ca_file"`
}

// RefreshConfig tunes the token lifecycle.
type RefreshConfig struct {
	Margin        time.Duration `yaml:"margin"`
	Timeout       time.Duration `yaml:"timeout"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// LogConfig selects the log level and handler format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CallerAuthConfig enables bearer-token authentication of relay callers.
// It is disabled when Issuer and JWKSURL are both empty. An empty JWKSURL is
// derived from Issuer, using the Entra ID key layout when Issuer lives on the
// provider's authority host.
type CallerAuthConfig struct {
	Issuer   string   `yaml:"issuer"`
	Audience string   `yaml:"audience"`
	JWKSURL  string   `yaml:"jwks_url"`
	Scopes   []string `yaml:"scopes"`
}

// Default returns a configuration with every optional setting filled in.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: DefaultPort},
		Refresh: RefreshConfig{
			Margin:        5 * time.Minute,
			Timeout:       10 * time.Second,
			CheckInterval: time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Enabled reports whether caller authentication is configured.
func (c CallerAuthConfig) Enabled() bool {
	return c.Issuer != "" || c.JWKSURL != ""
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Server.Port))
}

// TLSEnabled reports whether the listener serves TLS.
func (c *Config) TLSEnabled() bool {
	return c.Server.TLSCertFile != "" && c.Server.TLSKeyFile != ""
}

// OAuth2 returns the provider client configuration.
func (c *Config) OAuth2() oauth2client.Config {
	return oauth2client.Config{
		TenantID:      c.Provider.TenantID,
		ClientID:      c.Provider.ClientID,
		ClientSecret:  c.Provider.ClientSecret,
		Scope:         c.Provider.Scope,
		TokenURL:      c.Provider.TokenEndpoint,
		AuthorityHost: c.Provider.AuthorityHost,
	}
}

// Validate checks that the configuration is complete and consistent. Missing
// required settings are reported by their environment variable names.
func (c *Config) Validate() error {
	var missing []string
	for _, field := range c.OAuth2().Missing() {
		missing = append(missing, envNameFor[field])
	}

	var problems []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		problems = append(problems, errors.New("both TLS_CERT_FILE and TLS_KEY_FILE must be set to serve TLS"))
	}
	if c.Refresh.Margin < 0 {
		problems = append(problems, fmt.Errorf("refresh margin %s is negative", c.Refresh.Margin))
	}
	if c.Refresh.Timeout <= 0 {
		problems = append(problems, fmt.Errorf("refresh timeout %s must be positive", c.Refresh.Timeout))
	}
	if c.Refresh.CheckInterval <= 0 {
		problems = append(problems, fmt.Errorf("check interval %s must be positive", c.Refresh.CheckInterval))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		problems = append(problems, err)
	}
	if c.CallerAuth.Enabled() {
		if c.CallerAuth.Issuer == "" {
			missing = append(missing, EnvCallerAuthIssuer)
		}
		if c.CallerAuth.Audience == "" {
			missing = append(missing, EnvCallerAuthAudience)
		}
	}

	if len(missing) == 0 && len(problems) == 0 {
		return nil
	}
	return &ConfigurationError{Missing: missing, Err: errors.Join(problems...)}
}

// ConfigurationError reports an incomplete or inconsistent configuration.
// It is fatal at startup.
type ConfigurationError struct {
	Missing []string
	Err     error
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		parts = append(parts, strings.ReplaceAll(e.Err.Error(), "\n", "; "))
	}
	return "config: " + strings.Join(parts, "; ")
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
