package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linden-group/costmatch-cli/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with the data-driven rule files",
}

// rulesValidateCmd performs the same fail-fast validation the pipeline does
// at startup, for use in CI before a rule change ships.
var rulesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configured rule files",
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := rules.Load(cfg.Rules.ClassifierPath, cfg.Rules.RiskPath)
		if err != nil {
			return err
		}

		fmt.Printf("classifier: %d curated, %d structural, %d keyword rules (sentinel %q)\n",
			len(set.Classifier.Curated),
			len(set.Classifier.Structural),
			len(set.Classifier.Keywords),
			set.Classifier.UnknownCode,
		)
		fmt.Printf("risk: %d predicates enabled\n", len(set.Risk.Rules))
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}
