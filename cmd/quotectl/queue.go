package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/quote-api/pkg/quoteclient"
)

func newQueueCmd(opts *options) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the fallback queue",
	}

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List every queued quote, dead letters included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			list, err := opts.client().ListPending(ctx)
			if err != nil {
				return err
			}
			return printList(cmd, opts, list)
		},
	}

	deadCmd := &cobra.Command{
		Use:   "dead",
		Short: "List quotes that used up their retry budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			list, err := opts.client().ListDeadLetters(ctx)
			if err != nil {
				return err
			}
			return printList(cmd, opts, list)
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <correlation-id>...",
		Short: "Remove entries from the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			client := opts.client()
			for _, id := range args {
				removed, err := client.RemovePending(ctx, id)
				if err != nil {
					return fmt.Errorf("remove %s: %w", id, err)
				}
				if removed {
					printf(cmd, "removed %s\n", id)
				} else {
					printf(cmd, "%s was not queued\n", id)
				}
			}
			return nil
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Run one retry pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			result, err := opts.client().RunRetryPass(ctx)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printf(cmd, "attempted=%d delivered=%d failed=%d skipped=%d dead_lettered=%d retryable=%d\n",
				result.Attempted, result.Delivered, result.Failed, result.Skipped, result.DeadLettered, result.Retryable)
			return nil
		},
	}

	queueCmd.AddCommand(pendingCmd, deadCmd, removeCmd, retryCmd)
	return queueCmd
}

func printList(cmd *cobra.Command, opts *options, list *quoteclient.PendingList) error {
	if opts.json {
		return printJSON(cmd.OutOrStdout(), list)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CORRELATION ID\tQUOTE ID\tEMAIL\tRETRIES\tLAST RETRY\tDEAD\tLAST ERROR")
	for _, e := range list.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%t\t%s\n",
			e.CorrelationID, e.QuoteID, e.Email, e.RetryCount, list.MaxRetries, formatTime(e.LastRetryAt), e.DeadLettered, e.LastError)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printf(cmd, "%d entries\n", list.Count)
	return nil
}
