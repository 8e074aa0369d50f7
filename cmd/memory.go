package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	memTenant     string
	memKey        string
	memAt         string
	memPricedItem string
	memActor      string
	memReason     string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the mapping memory",
}

var memoryLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Show the active mapping for a canonical key",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		entry, err := st.ActiveMapping(ctx, memTenant, memKey)
		if err != nil {
			return err
		}
		if entry == nil {
			fmt.Println("no active mapping")
			return nil
		}
		return printJSON(entry)
	},
}

var memoryAsOfCmd = &cobra.Command{
	Use:   "asof",
	Short: "Show the mapping valid at a past timestamp",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ts, err := time.Parse(time.RFC3339, memAt)
		if err != nil {
			return eris.Wrapf(err, "parse --at %q (want RFC3339)", memAt)
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		entry, err := st.MappingAsOf(ctx, memTenant, memKey, ts)
		if err != nil {
			return err
		}
		if entry == nil {
			fmt.Println("no mapping at that time")
			return nil
		}
		return printJSON(entry)
	},
}

var memoryHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the full mapping history for a canonical key",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		entries, err := st.MappingHistory(ctx, memTenant, memKey)
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

// memoryApproveCmd is the manual-review approval path: a human reviewer
// writes a mapping through the same contract the auto path uses.
var memoryApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Write a mapping on behalf of a human reviewer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		// Reject unknown catalog references before touching the memory.
		if _, err := st.GetPricedItem(ctx, memPricedItem); err != nil {
			return err
		}

		entry, err := st.WriteMapping(ctx, memTenant, memKey, memPricedItem, memActor, memReason)
		if err != nil {
			return eris.Wrap(err, "write mapping")
		}

		zap.L().Info("mapping approved",
			zap.String("tenant", memTenant),
			zap.String("key", memKey),
			zap.String("priced_item", memPricedItem),
			zap.String("actor", memActor),
		)
		return printJSON(entry)
	},
}

func init() {
	memoryCmd.PersistentFlags().StringVar(&memTenant, "tenant", "", "tenant id (required)")
	memoryCmd.PersistentFlags().StringVar(&memKey, "key", "", "canonical key (required)")
	_ = memoryCmd.MarkPersistentFlagRequired("tenant")
	_ = memoryCmd.MarkPersistentFlagRequired("key")

	memoryAsOfCmd.Flags().StringVar(&memAt, "at", "", "timestamp, RFC3339 (required)")
	_ = memoryAsOfCmd.MarkFlagRequired("at")

	memoryApproveCmd.Flags().StringVar(&memPricedItem, "priced-item", "", "priced item id (required)")
	memoryApproveCmd.Flags().StringVar(&memActor, "actor", "", "reviewer identity (required)")
	memoryApproveCmd.Flags().StringVar(&memReason, "reason", "", "approval reason (required)")
	_ = memoryApproveCmd.MarkFlagRequired("priced-item")
	_ = memoryApproveCmd.MarkFlagRequired("actor")
	_ = memoryApproveCmd.MarkFlagRequired("reason")

	memoryCmd.AddCommand(memoryLookupCmd, memoryAsOfCmd, memoryHistoryCmd, memoryApproveCmd)
	rootCmd.AddCommand(memoryCmd)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	fmt.Println(string(out))
	return nil
}
