package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQuoteCmd(opts *options) *cobra.Command {
	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Look up quotes",
	}

	var publicToken string
	getCmd := &cobra.Command{
		Use:   "get <quote-id>",
		Short: "Show a quote using its public token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if publicToken == "" {
				return fmt.Errorf("--public-token is required")
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			q, err := opts.client().GetQuote(ctx, args[0], publicToken)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), q)
			}

			printf(cmd, "ID:         %s\n", q.ID)
			printf(cmd, "Status:     %s\n", q.Status)
			printf(cmd, "Created:    %s\n", q.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			printf(cmd, "Name:       %s\n", q.Name)
			printf(cmd, "Email:      %s\n", q.Email)
			printf(cmd, "Phone:      %s\n", q.Phone)
			printf(cmd, "Product:    %s (%s)\n", q.ProductName, q.SKU)
			printf(cmd, "Material:   %s\n", q.Material)
			printf(cmd, "Dimensions: %s\n", q.Dimensions)
			printf(cmd, "Notes:      %s\n", q.Notes)
			for _, img := range q.Images {
				printf(cmd, "Image:      %s\n", img.SecureURL)
			}
			return nil
		},
	}
	getCmd.Flags().StringVar(&publicToken, "public-token", "", "Public token returned when the quote was submitted")

	quoteCmd.AddCommand(getCmd)
	return quoteCmd
}
