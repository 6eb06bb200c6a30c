package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/pkg/finding"
)

// frameworksCmd represents the frameworks command
var frameworksCmd = &cobra.Command{
	Use:   "frameworks",
	Short: "Look up compliance framework labels",
}

var frameworksListCmd = &cobra.Command{
	Use:   "list PROVIDER",
	Short: "List the framework labels a provider supports",
	Example: `  vahti frameworks list aws
  vahti frameworks list azure`,
	Args: cobra.ExactArgs(1),
	RunE: runFrameworksList,
}

var frameworksResolveCmd = &cobra.Command{
	Use:   "resolve PROVIDER LABEL...",
	Short: "Resolve framework labels to scanner compliance identifiers",
	Long: `Resolve framework labels to the compliance identifiers passed to the
scanner. Labels match ignoring case and repeated whitespace. Exits with an
error when none of the labels is supported, so a scan is never started
without a framework.`,
	Example: `  vahti frameworks resolve aws "SOC 2" "CIS AWS Foundations"
  vahti frameworks resolve gcp "ISO 27001"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runFrameworksResolve,
}

func init() {
	rootCmd.AddCommand(frameworksCmd)
	frameworksCmd.AddCommand(frameworksListCmd, frameworksResolveCmd)
}

func parseProviderArg(raw string) (finding.Provider, error) {
	p, ok := finding.ParseProvider(raw)
	if !ok {
		return "", fmt.Errorf("unknown provider %q (want aws, gcp or azure)", raw)
	}
	return p, nil
}

func runFrameworksList(cmd *cobra.Command, args []string) error {
	p, err := parseProviderArg(args[0])
	if err != nil {
		return err
	}
	mapper, _, err := loadFrameworks(cfg.Frameworks)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, label := range mapper.Labels(p) {
		id, _ := mapper.Resolve(p, label)
		fmt.Fprintf(out, "%-45s %s\n", label, id)
	}
	return nil
}

func runFrameworksResolve(cmd *cobra.Command, args []string) error {
	p, err := parseProviderArg(args[0])
	if err != nil {
		return err
	}
	mapper, _, err := loadFrameworks(cfg.Frameworks)
	if err != nil {
		return err
	}

	sel, err := mapper.Select(p, args[1:])
	out := cmd.OutOrStdout()
	for _, id := range sel.IDs {
		fmt.Fprintln(out, id)
	}
	if len(sel.Unsupported) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "unsupported: %s\n", strings.Join(sel.Unsupported, ", "))
	}
	return err
}
