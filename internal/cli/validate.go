package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			source := cfg.Source
			if source == "" {
				source = "defaults and environment"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK (%s)\n", source)
			fmt.Fprintf(out, "  endpoint: %s%s\n", cfg.Endpoint.BaseURL, cfg.Endpoint.StreamPath)
			fmt.Fprintf(out, "  ui: %s\n", cfg.UI.Mode)
			fmt.Fprintf(out, "  relay: %s\n", cfg.Relay.Addr)
			fmt.Fprintf(out, "  mock: %s\n", cfg.Mock.Addr)
			return nil
		},
	}
}
