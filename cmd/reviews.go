package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var reviewsLimit int

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List pending human-review items",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		items, err := st.ListPendingReviews(ctx, reviewsLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	},
}

func init() {
	reviewsCmd.Flags().IntVar(&reviewsLimit, "limit", 50, "maximum items to list")
	rootCmd.AddCommand(reviewsCmd)
}
