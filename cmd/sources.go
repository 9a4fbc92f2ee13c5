package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/laborwatch/compliance-cli/internal/model"
)

// sourceStatus is the operator-facing view of one structured source.
type sourceStatus struct {
	SourceKey           string     `json:"source_key"`
	Domain              string     `json:"domain,omitempty"`
	URL                 string     `json:"url"`
	Format              string     `json:"format"`
	Active              bool       `json:"active"`
	CircuitOpen         bool       `json:"circuit_open"`
	CircuitOpenUntil    *time.Time `json:"circuit_open_until,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFetchedAt       *time.Time `json:"last_fetched_at,omitempty"`
	PendingReview       bool       `json:"pending_initial_review"`
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List structured sources and their circuit-breaker state",
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

		sources, err := st.ListStructuredSources(ctx)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		out := make([]sourceStatus, 0, len(sources))
		for _, s := range sources {
			out = append(out, sourceStatusFrom(s, now))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func sourceStatusFrom(s model.StructuredSource, now time.Time) sourceStatus {
	return sourceStatus{
		SourceKey:           s.SourceKey,
		Domain:              s.Domain,
		URL:                 s.URL,
		Format:              string(s.Format),
		Active:              s.Active,
		CircuitOpen:         s.CircuitOpen(now),
		CircuitOpenUntil:    s.CircuitOpenUntil,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastFetchedAt:       s.LastFetchedAt,
		PendingReview:       s.RequiresInitialReview && s.LastFetchedAt == nil,
	}
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
