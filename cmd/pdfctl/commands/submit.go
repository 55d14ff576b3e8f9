package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

type submitOptions struct {
	parser       string
	wait         bool
	pollInterval time.Duration
	waitTimeout  time.Duration
}

func newSubmitCommand(opts *rootOptions) *cobra.Command {
	submitOpts := &submitOptions{}

	cmd := &cobra.Command{
		Use:   "submit <file.pdf>",
		Short: "Upload a PDF for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			upload, err := client.submit(cmd.Context(), args[0], submitOpts.parser)
			if err != nil {
				return err
			}
			id, _ := upload["processing_id"].(string)
			if !submitOpts.wait {
				return printJSON(cmd.OutOrStdout(), upload)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "queued %s\n", id)

			final, err := waitForJob(cmd.Context(), client, id, submitOpts)
			if err != nil {
				return err
			}
			status, _ := final["status"].(string)
			printStatusLine(cmd.ErrOrStderr(), id, status)
			if status != "completed" {
				reason, _ := final["error"].(string)
				return fmt.Errorf("job %s failed: %s", id, reason)
			}

			results, err := client.results(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&submitOpts.parser, "parser", "", "parser to use: pypdf, gemini_flash or mistral")
	cmd.Flags().BoolVar(&submitOpts.wait, "wait", false, "poll until the job finishes and print its results")
	cmd.Flags().DurationVar(&submitOpts.pollInterval, "interval", 2*time.Second, "poll interval with --wait")
	cmd.Flags().DurationVar(&submitOpts.waitTimeout, "wait-timeout", 5*time.Minute, "give up waiting after this long")
	return cmd
}

// waitForJob polls the status endpoint until the job is completed or failed.
func waitForJob(ctx context.Context, client *apiClient, id string, opts *submitOptions) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.waitTimeout)
	defer cancel()

	indicator := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	indicator.Writer = os.Stderr
	indicator.Suffix = " waiting for " + id
	indicator.Start()
	defer indicator.Stop()

	ticker := time.NewTicker(opts.pollInterval)
	defer ticker.Stop()
	for {
		body, err := client.status(ctx, id)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if err == nil {
			status, _ := body["status"].(string)
			indicator.Lock()
			indicator.Suffix = fmt.Sprintf(" %s: %s", id, status)
			indicator.Unlock()
			if status == "completed" || status == "failed" {
				return body, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for job %s", id)
		case <-ticker.C:
		}
	}
}
