package commands

import (
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <processing-id>",
		Short: "Show the state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := opts.client().status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			status, _ := body["status"].(string)
			printStatusLine(cmd.ErrOrStderr(), args[0], status)
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}
