package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"corpus-builder/pkg/builder"
	"corpus-builder/pkg/config"
	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/replication"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Copy a Mongo corpus into the configured SQL corpus",
	Long: `Copy the documents, index and manifest of a Mongo-backed corpus into the
configured postgres or supabase corpus. Documents already in the target are
skipped, so the command can be repeated.

Examples:
  corpusbuilder replicate --mongo-uri mongodb://localhost:27017
  corpusbuilder replicate --mongo-uri mongodb://localhost:27017 --workers 10 --batch-size 200`,
	RunE: runReplicate,
}

func init() {
	replicateCmd.Flags().String("mongo-uri", "", "Source MongoDB connection string (default: corpus.mongo_uri)")
	replicateCmd.Flags().String("mongo-database", "", "Source MongoDB database (default: corpus.mongo_database)")
	replicateCmd.Flags().Int("batch-size", replication.DefaultBatchSize, "Documents per insert batch")
	replicateCmd.Flags().Int("workers", replication.DefaultWorkers, "Parallel insert workers")
	rootCmd.AddCommand(replicateCmd)
}

func runReplicate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	source, err := replicationSource(cmd, cfg.Corpus)
	if err != nil {
		return err
	}
	if cfg.Corpus.Backend != config.BackendPostgres && cfg.Corpus.Backend != config.BackendSupabase {
		return fmt.Errorf("%w: replication needs a postgres or supabase corpus backend, got %q", domain.ErrConfig, cfg.Corpus.Backend)
	}

	mongo, err := builder.OpenMongo(ctx, source)
	if err != nil {
		return err
	}
	defer func() {
		if err := mongo.Close(context.Background()); err != nil {
			log.Printf("Failed to close mongo: %v", err)
		}
	}()

	target, closeTarget, err := builder.OpenSQLCorpus(ctx, cfg.Corpus)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeTarget(); err != nil {
			log.Printf("Failed to close target database: %v", err)
		}
	}()

	batchSize, _ := cmd.Flags().GetInt("batch-size")
	workers, _ := cmd.Flags().GetInt("workers")
	r, err := replication.NewReplicator(replication.Config{
		Source:    mongo,
		Target:    target,
		BatchSize: batchSize,
		Workers:   workers,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	stats, err := r.Replicate(ctx)
	if err != nil {
		return fmt.Errorf("replication failed: %w", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Replicated corpus %s: %d documents read, %d inserted", green("✓"), cfg.Corpus.Name, stats.Processed, stats.Inserted)
	if stats.ManifestCopied {
		fmt.Print(", manifest copied")
	}
	fmt.Printf(" (%s)\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// replicationSource is the Mongo corpus with the configured name, located by flags or config.
func replicationSource(cmd *cobra.Command, corpusCfg config.CorpusConfig) (config.CorpusConfig, error) {
	src := corpusCfg
	src.Backend = config.BackendMongo
	if uri, _ := cmd.Flags().GetString("mongo-uri"); uri != "" {
		src.MongoURI = uri
	}
	if name, _ := cmd.Flags().GetString("mongo-database"); name != "" {
		src.MongoDatabase = name
	}
	if src.MongoURI == "" {
		return config.CorpusConfig{}, fmt.Errorf("%w: --mongo-uri or corpus.mongo_uri is required", domain.ErrConfig)
	}
	return src, nil
}
