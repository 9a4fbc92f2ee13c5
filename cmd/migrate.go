package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/laborwatch/compliance-cli/internal/model"
)

var migrateRulesPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
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

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver))

		if migrateRulesPath == "" {
			return nil
		}
		rules, err := loadPreemptionRules(migrateRulesPath)
		if err != nil {
			return err
		}
		if err := st.SeedPreemptionRules(ctx, rules); err != nil {
			return eris.Wrap(err, "seed preemption rules")
		}
		zap.L().Info("preemption rules seeded", zap.Int("rules", len(rules)))
		return nil
	},
}

func loadPreemptionRules(path string) ([]model.PreemptionRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read preemption rules %s", path)
	}
	var doc struct {
		Rules []struct {
			State               string `yaml:"state"`
			Category            string `yaml:"category"`
			AllowsLocalOverride bool   `yaml:"allows_local_override"`
		} `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "parse preemption rules %s", path)
	}
	rules := make([]model.PreemptionRule, 0, len(doc.Rules))
	for _, r := range doc.Rules {
		if r.State == "" || r.Category == "" {
			return nil, eris.Errorf("preemption rule missing state or category in %s", path)
		}
		rules = append(rules, model.PreemptionRule{
			State:               r.State,
			Category:            r.Category,
			AllowsLocalOverride: r.AllowsLocalOverride,
		})
	}
	return rules, nil
}

func init() {
	migrateCmd.Flags().StringVar(&migrateRulesPath, "rules", "", "optional preemption rules YAML to seed after migrating")
	rootCmd.AddCommand(migrateCmd)
}
