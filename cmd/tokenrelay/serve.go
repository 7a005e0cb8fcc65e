package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AmmannChristian/go-tokenrelay/internal/app"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Obtain a token and serve it until interrupted",
		Long: `serve performs the first token exchange and exits non-zero if it fails.
Afterwards the token is refreshed in the background and served on
GET /get-token until SIGINT or SIGTERM, followed by a graceful shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			relay, err := app.New(cfg, logger, app.WithUserAgent("go-tokenrelay/"+cmd.Root().Version))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := relay.Run(ctx, nil); err != nil {
				return err
			}
			logger.Info("token relay stopped")
			return nil
		},
	}
}
