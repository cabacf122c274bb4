package main

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"transcript-pii-redactor/internal/config"
	"transcript-pii-redactor/internal/pii"
)

type entityRow struct {
	Type   string `json:"type"`
	Label  string `json:"label"`
	Source string `json:"source"`
}

func newEntitiesCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List the enabled entity types and their token labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rows := entityRows(cfg)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.Type, r.Label, r.Source})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Entity", "Label", "Source"}, table, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print as JSON")
	return cmd
}

// entityRows lists the configured entities without contacting any backend.
func entityRows(cfg *config.Config) []entityRow {
	entities := cfg.Entities
	if len(entities) == 0 {
		entities = pii.DetectableEntities
	}
	table := cfg.PlaceholderTable()
	rows := make([]entityRow, 0, len(entities))
	for _, e := range entities {
		source := cfg.Detector
		if slices.Contains(patternEntities, e) {
			source = config.DetectorPatterns
		}
		rows = append(rows, entityRow{Type: e, Label: table.Label(e), Source: source})
	}
	return rows
}
