package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/linden-group/costmatch-cli/internal/model"
	"github.com/linden-group/costmatch-cli/internal/store"
)

var (
	resultsTenant   string
	resultsItem     string
	resultsDecision string
	resultsLimit    int
)

// resultsCmd feeds the review workflow: reviewers pull manual-review rows,
// complete with the flags and scores that deferred them.
var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List match results from the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		results, err := st.ListMatchResults(ctx, store.ResultFilter{
			TenantID: resultsTenant,
			ItemID:   resultsItem,
			Decision: model.Decision(resultsDecision),
			Limit:    resultsLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

func init() {
	resultsCmd.Flags().StringVar(&resultsTenant, "tenant", "", "tenant id (required)")
	resultsCmd.Flags().StringVar(&resultsItem, "item", "", "filter by item id")
	resultsCmd.Flags().StringVar(&resultsDecision, "decision", "", "filter by decision (auto-accepted|manual-review|rejected)")
	resultsCmd.Flags().IntVar(&resultsLimit, "limit", 100, "max rows")
	_ = resultsCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(resultsCmd)
}
