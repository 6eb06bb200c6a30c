package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/internal/aggregate"
	"github.com/yairfalse/vahti/internal/emitter"
	"github.com/yairfalse/vahti/internal/filter"
	"github.com/yairfalse/vahti/pkg/finding"
)

var (
	summarizeProvider   string
	summarizeSeverities []string
	summarizeStatuses   []string
	summarizeFrameworks []string
	summarizeQuery      string
	summarizeTop        int
	summarizeRedact     bool
)

// summarizeCmd represents the summarize command
var summarizeCmd = &cobra.Command{
	Use:   "summarize FILE",
	Short: "Filter findings and print dashboard views",
	Long: `Normalize scanner output, optionally filter it, and print the summary,
severity and service groups, top failed controls and framework coverage.

Filters combine with AND; values within one filter combine with OR.`,
	Example: `  vahti summarize scan.json                          # All findings
  vahti summarize --severity critical,high scan.json  # Only severe findings
  vahti summarize --status FAIL --query s3 scan.json  # Failing S3 findings
  vahti summarize --framework cis_2.0_aws scan.json   # One framework
  vahti summarize --top 10 scan.json                  # Ten top failed controls`,
	Args: cobra.ExactArgs(1),
	RunE: runSummarize,
}

func init() {
	rootCmd.AddCommand(summarizeCmd)

	summarizeCmd.Flags().StringVarP(&summarizeProvider, "provider", "p", "", "Provider for findings lacking one (aws, gcp, azure)")
	summarizeCmd.Flags().StringSliceVar(&summarizeSeverities, "severity", nil, "Keep findings with these severities")
	summarizeCmd.Flags().StringSliceVar(&summarizeStatuses, "status", nil, "Keep findings with these statuses")
	summarizeCmd.Flags().StringSliceVar(&summarizeFrameworks, "framework", nil, "Keep findings referencing these frameworks")
	summarizeCmd.Flags().StringVarP(&summarizeQuery, "query", "q", "", "Keep findings whose check id, title, service or resource contains the text")
	summarizeCmd.Flags().IntVar(&summarizeTop, "top", 0, "Number of top failed controls (default from config)")
	summarizeCmd.Flags().BoolVar(&summarizeRedact, "redact", false, "Mask account and resource identifiers")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	pred, err := buildPredicate()
	if err != nil {
		return err
	}
	if summarizeTop < 0 {
		return fmt.Errorf("--top must not be negative")
	}
	top := summarizeTop
	if top == 0 {
		top = cfg.Report.TopControls
	}

	report, err := readReport(cmd, args[0], summarizeProvider)
	if err != nil {
		return err
	}
	report.Findings = filter.New(pred).Apply(report.Findings)

	out := emitter.NewJSONEmitter(cmd.OutOrStdout(), summarizeRedact)
	defer func() { _ = out.Close() }()
	return out.Emit(cmd.Context(), emitter.Result{
		Report: report,
		Views:  aggregate.Build(report.Findings, top),
	})
}

func buildPredicate() (filter.Predicate, error) {
	pred := filter.Predicate{
		Frameworks:  summarizeFrameworks,
		SearchQuery: summarizeQuery,
	}
	for _, raw := range summarizeSeverities {
		s, ok := finding.ParseSeverity(raw)
		if !ok {
			return filter.Predicate{}, fmt.Errorf("unknown severity %q", raw)
		}
		pred.Severities = append(pred.Severities, s)
	}
	for _, raw := range summarizeStatuses {
		s, ok := finding.ParseStatus(raw)
		if !ok {
			return filter.Predicate{}, fmt.Errorf("unknown status %q", raw)
		}
		pred.Statuses = append(pred.Statuses, s)
	}
	return pred, nil
}
