package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"transcript-pii-redactor/internal/audit"
	"transcript-pii-redactor/internal/batch"
	"transcript-pii-redactor/internal/pii"
)

type redactOptions struct {
	outputDir       string
	suffix          string
	noResidual      bool
	writeUnredacted bool
	jsonOutput      bool
}

func newRedactCommand(ctx *commandContext) *cobra.Command {
	var opts redactOptions
	cmd := &cobra.Command{
		Use:   "redact <file|dir|glob|->...",
		Short: "Redact transcripts; - reads stdin and writes stdout",
		Long: `Redact transcripts.

Each input file is written as <name><suffix><ext> next to the input, or into
--output-dir. Directories are searched recursively for *.txt files and glob
patterns may use ** to match across directories. A single - redacts stdin
to stdout.

Documents that could not be redacted are never written unless
--write-unredacted is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close() //nolint:errcheck // read-mostly cache, nothing to flush

			if len(args) == 1 && args[0] == "-" {
				return redactStdin(cmd, rt, opts)
			}
			return redactFiles(cmd, rt, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "Write redacted files into this directory")
	cmd.Flags().StringVar(&opts.suffix, "suffix", ".redacted", "Suffix inserted before the file extension of outputs")
	cmd.Flags().BoolVar(&opts.noResidual, "no-residual", false, "Skip the post-redaction residual scan")
	cmd.Flags().BoolVar(&opts.writeUnredacted, "write-unredacted", false, "Write documents that passed through unredacted")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}

func redactStdin(cmd *cobra.Command, rt *runtime, opts redactOptions) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	ctx := pii.WithDocumentID(cmd.Context(), "stdin")
	res, err := rt.engine.Redact(ctx, string(data))
	if err != nil {
		rt.appendAudit(ctx, audit.NewRunID(), []report{{Document: "stdin", Status: res.Status, Error: err.Error(), result: res}})
		return err
	}
	rep := report{Document: "stdin", Status: res.Status, result: res}
	rep.Residual = rt.residualScan(ctx, "stdin", res, opts)
	rt.appendAudit(ctx, audit.NewRunID(), []report{rep})

	if !res.Redacted() && !opts.writeUnredacted {
		return fmt.Errorf("document not redacted (%s): %s", res.Status, res.Reason)
	}
	_, err = io.WriteString(cmd.OutOrStdout(), res.Text)
	return err
}

// report is the per-document line of a redact run.
type report struct {
	Document string         `json:"document"`
	Output   string         `json:"output,omitempty"`
	Status   pii.Status     `json:"status,omitempty"`
	Entities int            `json:"entities"`
	Persons  int            `json:"persons"`
	Labels   map[string]int `json:"labels,omitempty"`
	Residual int            `json:"residual"`
	Error    string         `json:"error,omitempty"`

	result pii.Result
}

func redactFiles(cmd *cobra.Command, rt *runtime, args []string, opts redactOptions) error {
	ctx := cmd.Context()
	paths, err := expandInputs(args, opts.suffix)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no input files matched")
	}

	docs := make([]batch.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		docs = append(docs, batch.Document{ID: p, Text: string(data)})
	}
	if opts.outputDir != "" {
		if err := os.MkdirAll(opts.outputDir, 0o700); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	pool := batch.New(rt.engine, rt.cfg.Workers)
	rt.log.Infof("redact_start", "%d documents, %d workers, backend %s", len(docs), pool.Workers(), rt.backend)
	outcomes := pool.Run(ctx, docs)
	if err := ctx.Err(); err != nil {
		return err
	}

	reports := make([]report, 0, len(outcomes))
	var writeErrs []error
	for _, o := range outcomes {
		rep := report{
			Document: o.ID,
			Status:   o.Result.Status,
			Entities: o.Result.Count,
			Persons:  o.Result.Persons,
			Labels:   o.Result.Labels,
			result:   o.Result,
		}
		if o.Err != nil {
			rep.Error = o.Err.Error()
			reports = append(reports, rep)
			continue
		}
		rep.Residual = rt.residualScan(ctx, o.ID, o.Result, opts)
		if o.Result.Redacted() || opts.writeUnredacted {
			out := outputPath(o.ID, opts.outputDir, opts.suffix)
			// Tokens keep the original values, so outputs are owner-only.
			if err := os.WriteFile(out, []byte(o.Result.Text), 0o600); err != nil {
				writeErrs = append(writeErrs, fmt.Errorf("write %s: %w", out, err))
			} else {
				rep.Output = out
			}
		} else {
			rt.log.Warnf("redact_skip", "%s not written: %s", o.ID, o.Result.Status)
		}
		reports = append(reports, rep)
	}
	rt.appendAudit(ctx, audit.NewRunID(), reports)

	summary := batch.Summarize(outcomes)
	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), renderReports(reports))
		fmt.Fprintln(cmd.OutOrStdout(), summaryLine(summary))
	}

	if summary.Refused > 0 {
		writeErrs = append(writeErrs, fmt.Errorf("%d of %d documents refused", summary.Refused, summary.Documents))
	}
	return errors.Join(writeErrs...)
}

// residualScan re-checks redacted output and warns about anything left behind.
func (rt *runtime) residualScan(ctx context.Context, docID string, res pii.Result, opts redactOptions) int {
	if !res.Redacted() || opts.noResidual {
		return 0
	}
	hits, err := pii.ResidualScan(ctx, res.Text, rt.engine.Language(), rt.residual)
	if err != nil {
		rt.log.Warnf("residual", "%s: scan failed: %v", docID, err)
		return 0
	}
	rt.metrics.RecordResidual(len(hits))
	if len(hits) > 0 {
		labels := make([]string, 0, len(hits))
		for _, h := range hits {
			labels = append(labels, h.EntityType)
		}
		rt.log.Warnf("residual", "%s: %d possible entities remain after redaction (%s)",
			docID, len(hits), strings.Join(labels, ","))
	}
	return len(hits)
}

func (rt *runtime) appendAudit(ctx context.Context, runID string, reports []report) {
	if rt.audit == nil {
		return
	}
	records := make([]audit.Record, 0, len(reports))
	for _, r := range reports {
		res := r.result
		if r.Error != "" {
			res.Reason = r.Error
		}
		records = append(records, audit.NewRecord(runID, r.Document, rt.engine.Policy(), res, r.Residual))
	}
	// Runs even after cancellation so refused documents are still recorded.
	if err := rt.audit.Append(context.WithoutCancel(ctx), records...); err != nil {
		rt.log.Errorf("audit", "append failed: %v", err)
	}
}

// expandInputs resolves files, directories and ** globs into a sorted,
// de-duplicated file list. Files that already carry the output suffix are
// skipped so reruns do not redact their own output.
func expandInputs(args []string, suffix string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if isOutput(p, suffix) {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, arg := range args {
		if strings.ContainsAny(arg, "*?[{") {
			matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("glob %s: %w", arg, err)
			}
			for _, m := range matches {
				add(m)
			}
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(arg), "**/*.txt", doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", arg, err)
		}
		for _, m := range matches {
			add(filepath.Join(arg, filepath.FromSlash(m)))
		}
	}
	slices.Sort(out)
	return out, nil
}

func isOutput(path, suffix string) bool {
	if suffix == "" {
		return false
	}
	base := filepath.Base(path)
	return strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), suffix)
}

// outputPath inserts suffix before the extension: call.txt -> call.redacted.txt.
func outputPath(input, outputDir, suffix string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext) + suffix + ext
	if outputDir == "" {
		return filepath.Join(filepath.Dir(input), name)
	}
	return filepath.Join(outputDir, name)
}

func renderReports(reports []report) string {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		status := string(r.Status)
		if r.Error != "" {
			status = "refused"
		}
		output := r.Output
		if output == "" {
			output = "-"
		}
		rows = append(rows, []string{
			r.Document,
			status,
			strconv.Itoa(r.Entities),
			strconv.Itoa(r.Persons),
			strconv.Itoa(r.Residual),
			output,
		})
	}
	return renderTable(
		[]string{"Document", "Status", "Entities", "Persons", "Residual", "Output"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

func summaryLine(s batch.Summary) string {
	return fmt.Sprintf("%d documents: %d redacted, %d unavailable, %d failed, %d refused; %d entities",
		s.Documents, s.Redacted, s.Unavailable, s.Failed, s.Refused, s.Entities)
}
