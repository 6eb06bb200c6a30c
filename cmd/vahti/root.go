package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/internal/config"
	"github.com/yairfalse/vahti/internal/framework"
)

var (
	version    = "0.1.0"
	configPath string
	debug      bool

	// cfg is loaded before any subcommand runs.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "vahti",
		Short: "Security finding normalizer",
		Long: `Vahti - security finding normalizer

Vahti turns raw cloud security scanner output into one canonical finding
model, maps human framework labels to scanner compliance identifiers,
and computes dashboard views over the normalized findings.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Vahti {{.Version}} - security finding normalizer
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func setup(cmd *cobra.Command, _ []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()})

	if configPath == "" {
		cfg = config.Default()
		return nil
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg = loaded
	return nil
}

// loadFrameworks returns the label mapper and compliance catalog, built
// from configured files or the built-in tables.
func loadFrameworks(fc config.FrameworksConfig) (*framework.Mapper, *framework.Catalog, error) {
	mapper := framework.Default()
	if fc.LabelsFile != "" {
		table, err := framework.LoadTableFile(fc.LabelsFile)
		if err != nil {
			return nil, nil, err
		}
		mapper = framework.NewMapper(table)
	}

	catalog := framework.DefaultCatalog()
	if fc.MappingsDir != "" {
		mappings, err := framework.LoadDir(fc.MappingsDir)
		if err != nil {
			return nil, nil, err
		}
		catalog, err = framework.NewCatalog(mappings...)
		if err != nil {
			return nil, nil, err
		}
	}
	return mapper, catalog, nil
}
