package cli

import (
	"signally/channel"

	"github.com/spf13/cobra"
)

func newLineupCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "lineup",
		Short: "Print the M3U lineup of transmitting channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := e.app.Supervisor.Recover(ctx); err != nil {
				return err
			}
			channels, err := e.app.Registry.LoadAll(ctx)
			if err != nil {
				return err
			}
			return channel.WriteLineup(cmd.OutOrStdout(), channels, e.app.Config.HLSBaseURL)
		},
	}
}
