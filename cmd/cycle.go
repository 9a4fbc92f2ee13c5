package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one full monitoring cycle",
	Long:  "Fetches structured sources and RSS feeds, verifies escalated items, re-resolves governing requirements, detects material changes, and sweeps calendar patterns.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cycle"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initMonitor(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Cycle.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "cycle run")
		}

		zap.L().Info("cycle finished",
			zap.Int("sources_fetched", stats.SourcesFetched),
			zap.Int("alerts_created", stats.AlertsCreated),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}
