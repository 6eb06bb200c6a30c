package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/internal/normalizer"
	"github.com/yairfalse/vahti/internal/redact"
	"github.com/yairfalse/vahti/pkg/finding"
)

var (
	normalizeProvider string
	normalizeRedact   bool
)

// normalizeCmd represents the normalize command
var normalizeCmd = &cobra.Command{
	Use:   "normalize FILE",
	Short: "Normalize raw scanner output into canonical findings",
	Long: `Read raw scanner JSON (a list of findings or an object with a findings
member) and print the normalized report. Use - to read from stdin.`,
	Example: `  vahti normalize prowler-output.json             # Provider read from the records
  vahti normalize --provider gcp scan.json          # Provider hint for records lacking one
  cat scan.json | vahti normalize -                 # Read from stdin`,
	Args: cobra.ExactArgs(1),
	RunE: runNormalize,
}

func init() {
	rootCmd.AddCommand(normalizeCmd)

	normalizeCmd.Flags().StringVarP(&normalizeProvider, "provider", "p", "", "Provider for findings lacking one (aws, gcp, azure)")
	normalizeCmd.Flags().BoolVar(&normalizeRedact, "redact", false, "Mask account and resource identifiers")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	report, err := readReport(cmd, args[0], normalizeProvider)
	if err != nil {
		return err
	}
	if normalizeRedact {
		report = redact.Report(report)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// readReport reads and normalizes scanner output from path, or stdin
// for "-".
func readReport(cmd *cobra.Command, path, provider string) (finding.Report, error) {
	hint := cfg.DefaultProvider()
	if provider != "" {
		p, ok := finding.ParseProvider(provider)
		if !ok {
			return finding.Report{}, fmt.Errorf("unknown provider %q", provider)
		}
		hint = p
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return finding.Report{}, fmt.Errorf("read input: %w", err)
	}

	_, catalog, err := loadFrameworks(cfg.Frameworks)
	if err != nil {
		return finding.Report{}, err
	}
	n := normalizer.New(
		normalizer.WithCatalog(catalog),
		normalizer.WithDefaultTool(cfg.Normalizer.DefaultTool),
		normalizer.WithLogger(log.Logger),
	)

	report, err := n.Decode(data, hint)
	if err != nil {
		return finding.Report{}, fmt.Errorf("normalize %s: %w", path, err)
	}
	log.Debug().
		Str("tool", report.Tool).
		Str("provider", string(report.Provider)).
		Int("findings", len(report.Findings)).
		Msg("report normalized")
	return report, nil
}
