package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleettag/services/tagger/internal/config"
)

func newEnginesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List the engines the portal reports as connected",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx, opts.configPath)
			if err != nil {
				return err
			}
			creds, err := cfg.CredentialsValue()
			if err != nil {
				return err
			}
			client, err := newPortalClient(cfg, creds)
			if err != nil {
				return err
			}
			engines, err := client.ConnectedEngines(ctx)
			if err != nil {
				return err
			}
			for _, e := range engines {
				fmt.Fprintln(cmd.OutOrStdout(), e)
			}
			return nil
		},
	}
}
