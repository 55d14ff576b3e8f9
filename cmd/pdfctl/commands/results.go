package commands

import (
	"github.com/spf13/cobra"
)

func newResultsCommand(opts *rootOptions) *cobra.Command {
	var markdownOnly bool

	cmd := &cobra.Command{
		Use:   "results <processing-id>",
		Short: "Print the result of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := opts.client().results(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if markdownOnly {
				markdown, _ := body["markdown"].(string)
				_, err := cmd.OutOrStdout().Write([]byte(markdown + "\n"))
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().BoolVar(&markdownOnly, "markdown", false, "print only the markdown rendition")
	return cmd
}
