// Package commands implements pdfctl, a command line client for the PDF
// processing API.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	apiURL  string
	timeout time.Duration
	noColor bool
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.apiURL, &http.Client{Timeout: o.timeout})
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	defaultURL := os.Getenv("API_BASE_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8000"
	}

	root := &cobra.Command{
		Use:           "pdfctl",
		Short:         "Submit PDFs to the processing API and inspect their jobs",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", defaultURL, "base URL of the API (default $API_BASE_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "per-request timeout")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newHealthCommand(opts),
		newSubmitCommand(opts),
		newStatusCommand(opts),
		newResultsCommand(opts),
	)
	return root
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func statusColor(status string) *color.Color {
	switch status {
	case "completed", "healthy":
		return color.New(color.FgGreen, color.Bold)
	case "failed", "unhealthy":
		return color.New(color.FgRed, color.Bold)
	case "processing":
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func printStatusLine(w io.Writer, label, status string) {
	fmt.Fprintf(w, "%s: ", label)
	statusColor(status).Fprintln(w, status)
}
