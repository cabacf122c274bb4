package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"transcript-pii-redactor/internal/audit"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.AuditLog == "" {
				return errors.New("no audit log configured (set audit_log or AUDIT_LOG)")
			}
			records, err := audit.New(cfg.AuditLog).History()
			if err != nil {
				return err
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			if records == nil {
				records = []audit.Record{}
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderAudit(records))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many records (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print as JSON")
	return cmd
}

func renderAudit(records []audit.Record) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.Timestamp.Local().Format(time.DateTime),
			r.DocumentID,
			string(r.Status),
			r.Policy,
			strconv.Itoa(r.EntityCount),
			strconv.Itoa(r.Persons),
			strconv.Itoa(r.Residual),
		})
	}
	return renderTable(
		[]string{"Time", "Document", "Status", "Policy", "Entities", "Persons", "Residual"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}
