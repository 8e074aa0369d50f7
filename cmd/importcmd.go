package main

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linden-group/costmatch-cli/internal/model"
)

var (
	importFile   string
	importTenant string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a priced-item catalog feed (JSON lines)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		items, err := readPricedItems(importFile, importTenant)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			zap.L().Info("import: feed is empty", zap.String("file", importFile))
			return nil
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		n, err := st.UpsertPricedItems(ctx, items)
		if err != nil {
			return eris.Wrap(err, "import: upsert catalog")
		}

		zap.L().Info("import complete",
			zap.String("file", importFile),
			zap.Int("items", n),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "JSON-lines catalog feed (required)")
	importCmd.Flags().StringVar(&importTenant, "tenant", "", "tenant to assign when feed rows omit tenant_id")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

// readPricedItems decodes one PricedItem per line. Feed parsing proper
// (spreadsheets, vendor formats) happens upstream; this expects the
// ingestion layer's normalized output.
func readPricedItems(path, defaultTenant string) ([]model.PricedItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "import: open %s", path)
	}
	defer f.Close()

	var items []model.PricedItem
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var pi model.PricedItem
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, eris.Wrapf(err, "import: %s line %d", path, line)
		}
		if pi.TenantID == "" {
			pi.TenantID = defaultTenant
		}
		if pi.TenantID == "" {
			return nil, eris.Errorf("import: %s line %d: missing tenant_id and no --tenant given", path, line)
		}
		if pi.ClassificationCode == "" {
			return nil, eris.Errorf("import: %s line %d: missing classification_code", path, line)
		}
		items = append(items, pi)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "import: read %s", path)
	}
	return items, nil
}
