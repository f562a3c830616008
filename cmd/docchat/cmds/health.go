package cmds

import (
	"github.com/spf13/cobra"
)

func newHealthCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the service is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := g.Gateway()
			if err != nil {
				return err
			}
			doc, err := gw.Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
}
