package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AmmannChristian/go-tokenrelay/internal/app"
)

func newTokenCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Perform one exchange and print the access token",
		Long: `token runs the same bootstrap as serve, exchanges credentials once and
prints the resulting access token to stdout. It is meant for debugging the
provider configuration.`,
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

			relay, err := app.New(cfg, logger,
				app.WithUserAgent("go-tokenrelay/"+cmd.Root().Version),
				app.WithoutRuntimeMetrics(),
			)
			if err != nil {
				return err
			}

			token, err := relay.Token(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
