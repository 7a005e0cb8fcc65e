package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvTenantID           = "TENANT_ID"
	EnvClientID           = "CLIENT_ID"
	EnvClientSecret       = "CLIENT_SECRET"
	EnvScope              = "SCOPE"
	EnvRefreshToken       = "REFRESH_TOKEN"
	EnvTokenEndpoint      = "TOKEN_ENDPOINT"
	EnvAuthorityHost      = "AUTHORITY_HOST"
	EnvProviderCAFile     = "PROVIDER_CA_FILE"
	EnvPort               = "PORT"
	EnvAllowedOrigins     = "ALLOWED_ORIGINS"
	EnvTLSCertFile        = "TLS_CERT_FILE"
	EnvTLSKeyFile         = "TLS_KEY_FILE"
	EnvTLSCAFile          = "TLS_CA_FILE"
	EnvRefreshMargin      = "REFRESH_MARGIN"
	EnvRefreshTimeout     = "REFRESH_TIMEOUT"
	EnvCheckInterval      = "CHECK_INTERVAL"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogFormat          = "LOG_FORMAT"
	EnvCallerAuthIssuer   = "CALLER_AUTH_ISSUER"
	EnvCallerAuthAudience = "CALLER_AUTH_AUDIENCE"
	EnvCallerAuthJWKSURL  = "CALLER_AUTH_JWKS_URL"
	EnvCallerAuthScopes   = "CALLER_AUTH_SCOPES"
)

// envNameFor maps oauth2client.Config field names to their variables.
var envNameFor = map[string]string{
	"tenant_id":     EnvTenantID,
	"client_id":     EnvClientID,
	"client_secret": EnvClientSecret,
	"scope":         EnvScope,
}

// LookupFunc resolves one environment variable.
type LookupFunc func(key string) (string, bool)

// Sources lists where Load reads settings from. Later sources override
// earlier ones: defaults, ConfigFile, EnvFile, then the process environment.
type Sources struct {
	ConfigFile string     // optional YAML file
	EnvFile    string     // optional dotenv file, skipped when it does not exist
	Lookup     LookupFunc // defaults to os.LookupEnv
}

// Load assembles the configuration from src. It does not validate; callers
// apply command-line overrides first and then call Validate.
func Load(src Sources) (*Config, error) {
	cfg := Default()

	if src.ConfigFile != "" {
		if err := loadFile(&cfg, src.ConfigFile); err != nil {
			return nil, err
		}
	}

	if src.EnvFile != "" {
		values, err := godotenv.Read(src.EnvFile)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: read env file %s: %w", src.EnvFile, err)
			}
		} else if err := applyEnv(&cfg, mapLookup(values)); err != nil {
			return nil, err
		}
	}

	lookup := src.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// applyEnv overlays every non-empty variable found by lookup.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	textVars := []struct {
		key string
		dst *string
	}{
		{EnvTenantID, &cfg.Provider.TenantID},
		{EnvClientID, &cfg.Provider.ClientID},
		{EnvClientSecret, &cfg.Provider.ClientSecret},
		{EnvScope, &cfg.Provider.Scope},
		{EnvRefreshToken, &cfg.Provider.RefreshToken},
		{EnvTokenEndpoint, &cfg.Provider.TokenEndpoint},
		{EnvAuthorityHost, &cfg.Provider.AuthorityHost},
		{EnvProviderCAFile, &cfg.Provider.CAFile},
		{EnvTLSCertFile, &cfg.Server.TLSCertFile},
		{EnvTLSKeyFile, &cfg.Server.TLSKeyFile},
		{EnvTLSCAFile, &cfg.Server.TLSCAFile},
		{EnvLogLevel, &cfg.Log.Level},
		{EnvLogFormat, &cfg.Log.Format},
		{EnvCallerAuthIssuer, &cfg.CallerAuth.Issuer},
		{EnvCallerAuthAudience, &cfg.CallerAuth.Audience},
		{EnvCallerAuthJWKSURL, &cfg.CallerAuth.JWKSURL},
	}
	for _, s := range textVars {
		if v, ok := get(s.key); ok {
			*s.dst = v
		}
	}

	if v, ok := get(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigurationError{Err: fmt.Errorf("%s: %w", EnvPort, err)}
		}
		cfg.Server.Port = port
	}

	if v, ok := get(EnvAllowedOrigins); ok {
		cfg.Server.AllowedOrigins = SplitList(v)
	}
	if v, ok := get(EnvCallerAuthScopes); ok {
		cfg.CallerAuth.Scopes = SplitList(v)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvRefreshMargin, &cfg.Refresh.Margin},
		{EnvRefreshTimeout, &cfg.Refresh.Timeout},
		{EnvCheckInterval, &cfg.Refresh.CheckInterval},
	}
	for _, d := range durations {
		v, ok := get(d.key)
		if !ok {
			continue
		}
		parsed, err := ParseDuration(v)
		if err != nil {
			return &ConfigurationError{Err: fmt.Errorf("%s: %w", d.key, err)}
		}
		*d.dst = parsed
	}

	return nil
}

// ParseDuration accepts Go duration syntax ("5m", "90s") or a bare number of seconds.
func ParseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// SplitList splits a comma or whitespace separated list, dropping empty entries.
func SplitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
