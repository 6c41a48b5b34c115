// Package cmd defines and implements the CLI commands for the docpipe
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/config"
	"github.com/apiharbor/docpipe/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docpipe",
		Short: "Turns API documentation sites into structured API definitions.",
		Long: `docpipe crawls API documentation, parses OpenAPI specs where they
exist, extracts endpoint definitions from prose where they don't, and
generates callable action definitions from the result.

'serve' runs the HTTP job service; 'harvest' runs one acquisition
in-process and prints the result.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHarvestCmd())

	return cmd
}

// bootstrap loads configuration and builds the shared logger.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
