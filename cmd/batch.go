package main

import (
	"bufio"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/linden-group/costmatch-cli/internal/match"
	"github.com/linden-group/costmatch-cli/internal/model"
)

var (
	batchFile        string
	batchActor       string
	batchConcurrency int
	batchLimit       int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Match a batch of items concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		items, err := readItems(batchFile)
		if err != nil {
			return err
		}
		if batchLimit > 0 && len(items) > batchLimit {
			items = items[:batchLimit]
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}

		_, err = match.ProcessBatch(ctx, e.Store, e.Matcher, items, concurrency, batchActor)
		return err
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "JSON-lines file of items (required)")
	batchCmd.Flags().StringVar(&batchActor, "actor", "costmatch", "actor identity recorded on results")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "worker count (default from config)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of items to process")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// readItems decodes one Item per line.
func readItems(path string) ([]model.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: open %s", path)
	}
	defer f.Close()

	var items []model.Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var item model.Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, eris.Wrapf(err, "batch: %s line %d", path, line)
		}
		if item.TenantID == "" {
			return nil, eris.Errorf("batch: %s line %d: missing tenant_id", path, line)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "batch: read %s", path)
	}
	return items, nil
}
