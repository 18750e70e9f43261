package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"corpus-builder/pkg/builder"
	"corpus-builder/pkg/config"
	"corpus-builder/pkg/domain"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "corpusbuilder",
	Short: "Build deduplicated text corpora from news discovery",
	Long: `corpusbuilder incrementally builds a text corpus. Each run discovers article URLs,
skips the ones already stored, fetches and extracts the rest, and records the run
in the corpus manifest.

Configuration is read from --config, CORPUS_BUILDER_CONFIG, or ./corpusbuilder.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrConfig):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

// openBuilder loads the config and wires a builder. The caller must close the resources.
func openBuilder(ctx context.Context) (*builder.Builder, *builder.Resources, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, config.Config{}, err
	}
	b, res, err := builder.FromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, config.Config{}, err
	}
	return b, res, cfg, nil
}
