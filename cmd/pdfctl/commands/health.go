package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show API and dependency health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := opts.client().health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			status, _ := body["status"].(string)
			printStatusLine(out, "status", status)
			if components, ok := body["components"].(map[string]any); ok {
				for name, state := range components {
					fmt.Fprintf(out, "  %s: %v\n", name, state)
				}
			}
			if status != "healthy" {
				return fmt.Errorf("api is %s", status)
			}
			return nil
		},
	}
}
