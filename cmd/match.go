package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/linden-group/costmatch-cli/internal/model"
)

var (
	matchFile  string
	matchActor string
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match a single item against the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(matchFile)
		if err != nil {
			return eris.Wrapf(err, "read item file %s", matchFile)
		}
		var item model.Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return eris.Wrapf(err, "parse item file %s", matchFile)
		}
		if item.TenantID == "" {
			return eris.New("item is missing tenant_id")
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.Matcher.MatchOne(ctx, &item, matchActor)
		if err != nil {
			return eris.Wrap(err, "match item")
		}

		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal result")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchFile, "file", "", "JSON file holding the item (required)")
	matchCmd.Flags().StringVar(&matchActor, "actor", "costmatch", "actor identity recorded on the result")
	_ = matchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(matchCmd)
}
