package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"corpus-builder/pkg/builder"
	"corpus-builder/pkg/config"
	"corpus-builder/pkg/db"
	"corpus-builder/pkg/domain"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the corpus manifest and document count",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := builder.OpenStore(ctx, cfg.Corpus)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				log.Printf("Failed to close corpus store: %v", err)
			}
		}()

		manifest, err := store.LoadManifest(ctx)
		if err != nil {
			return err
		}
		count, err := store.DocumentCount(ctx)
		if err != nil {
			return err
		}
		printStatus(os.Stdout, cfg.Corpus, manifest, count)

		if cfg.Corpus.Backend == config.BackendSupabase && cfg.Corpus.Supabase.Key != "" {
			printRESTCount(ctx, cfg.Corpus)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printStatus(w io.Writer, corpusCfg config.CorpusConfig, m *domain.Manifest, count int) {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(w, "%s %s (%s backend)\n", bold("Corpus:"), corpusCfg.Name, corpusCfg.Backend)
	fmt.Fprintf(w, "  Documents: %d\n", count)
	if m == nil {
		fmt.Fprintf(w, "  %s\n", color.YellowString("No manifest yet; the first run must provide params"))
		return
	}

	fmt.Fprintf(w, "  Source:    %s\n", m.Source)
	fmt.Fprintf(w, "  Params:    %s to %s, keywords [%s]\n", m.Params.DateFrom, m.Params.DateTo, strings.Join(m.Params.Keywords, ", "))
	fmt.Fprintf(w, "  Runs:      %d\n", len(m.History))
	if m.DocCount != count {
		fmt.Fprintf(w, "  %s\n", color.YellowString("Manifest doc_count is %d", m.DocCount))
	}
	if len(m.History) == 0 {
		return
	}

	last := m.History[len(m.History)-1]
	fmt.Fprintf(w, "  Last run:  %s (%s, %s)\n", last.RunAt.Format(time.RFC3339), last.ProcessingMode, last.Outcome)
	fmt.Fprintf(w, "             %d discovered, %d added, %d duplicates, %d failed\n",
		last.Discovered, last.Added, last.SkippedDuplicate, last.Failed)
	if last.Interrupted {
		fmt.Fprintf(w, "             %s\n", color.RedString("interrupted"))
	}
}

func printRESTCount(ctx context.Context, corpusCfg config.CorpusConfig) {
	client := db.NewSupabaseClient(corpusCfg.Supabase.SupabaseClientConfig())
	if err := client.Connect(ctx); err != nil {
		log.Printf("Supabase REST check skipped: %v", err)
		return
	}
	defer client.Close()

	n, err := client.CorpusTableRowCount(corpusCfg.Name)
	if err != nil {
		log.Printf("Supabase REST check failed: %v", err)
		return
	}
	fmt.Printf("  REST rows: %d\n", n)
}
