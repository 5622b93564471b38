package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/quote-api/pkg/quoteclient"
)

type options struct {
	apiURL  string
	token   string
	timeout time.Duration
	json    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "quotectl",
		Short: "Operate the quote API",
		Long: `quotectl inspects and manages the quote API's fallback queue.

Available commands:
  queue - list, remove and retry undelivered quotes
  quote - look up a quote with its public token
  token - issue an admin token for the API`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("QUOTECTL_API_URL", "http://localhost:8080"), "Base URL of the quote API")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("QUOTECTL_TOKEN"), "Admin bearer token (or set QUOTECTL_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON")

	rootCmd.AddCommand(newQueueCmd(opts))
	rootCmd.AddCommand(newQuoteCmd(opts))
	rootCmd.AddCommand(newTokenCmd())
	return rootCmd
}

func (o *options) client() *quoteclient.Client {
	return quoteclient.New(o.apiURL, o.token, nil)
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
