package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AmmannChristian/go-tokenrelay/internal/config"
	"github.com/AmmannChristian/go-tokenrelay/internal/logging"
	"github.com/AmmannChristian/go-tokenrelay/tokenmanager"
)

// Exit codes.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeConfig indicates missing or invalid configuration.
	ExitCodeConfig = 2
	// ExitCodeNoToken indicates the identity provider did not issue a token at startup.
	ExitCodeNoToken = 3
)

type rootFlags struct {
	configFile string
	envFile    string
	port       int
	logLevel   string
	logFormat  string
}

func newRootCmd(version string) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "tokenrelay",
		Short: "Relay a continuously refreshed OAuth2 access token over HTTP",
		Long: `tokenrelay obtains an access token from an OAuth2 identity provider,
keeps it fresh ahead of expiry and hands it to local callers on GET /get-token.

Configuration is read from defaults, an optional YAML file, an optional .env
file, the environment and finally command-line flags, each overriding the last.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(`{{printf "tokenrelay version %s\n" .Version}}`)

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "path to a YAML configuration file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "path to a dotenv file; skipped when missing")
	pf.IntVar(&flags.port, "port", config.DefaultPort, "listen port")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")

	cmd.AddCommand(
		newServeCmd(flags),
		newTokenCmd(flags),
		newVersionCmd(),
	)

	return cmd
}

// loadConfig resolves the configuration for cmd. Flags override the other
// sources only when set explicitly.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(config.Sources{
		ConfigFile: flags.configFile,
		EnvFile:    flags.envFile,
	})
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = flags.port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = flags.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.Init(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

// execute runs cmd with args and maps the result to an exit code.
func execute(cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return ExitCodeSuccess
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitCodeConfig
	}

	var unavailable *tokenmanager.TokenUnavailableError
	if errors.As(err, &unavailable) {
		return ExitCodeNoToken
	}

	return ExitCodeError
}
