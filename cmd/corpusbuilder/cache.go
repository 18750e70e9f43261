package main

import (
	"fmt"
	"log"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the discovery search cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show search cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, res, _, err := openBuilder(ctx)
		if err != nil {
			return err
		}
		defer closeResources(res)

		stats, err := b.CacheStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Path:     %s\n", stats.Path)
		fmt.Printf("Searches: %d\n", stats.Entries)
		fmt.Printf("Stories:  %d\n", stats.Stories)
		if stats.Oldest != nil {
			fmt.Printf("Oldest:   %s\n", stats.Oldest.Format(time.RFC3339))
		}
		if stats.Newest != nil {
			fmt.Printf("Newest:   %s\n", stats.Newest.Format(time.RFC3339))
		}
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached searches, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, res, _, err := openBuilder(ctx)
		if err != nil {
			return err
		}
		defer closeResources(res)

		entries, err := b.ListCachedSearches(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No cached searches")
			return nil
		}
		for _, e := range entries {
			fmt.Println(e.String())
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached searches",
	Long: `Remove cached searches. With --older-than only entries older than the given
age are removed, otherwise the whole cache is cleared.

Examples:
  corpusbuilder cache clear
  corpusbuilder cache clear --older-than 72h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan < 0 {
			return fmt.Errorf("--older-than must not be negative")
		}

		ctx := cmd.Context()
		b, res, _, err := openBuilder(ctx)
		if err != nil {
			return err
		}
		defer closeResources(res)

		n, err := b.ClearSearchCache(ctx, olderThan)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Removed %d cached search(es)\n", green("✓"), n)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().Duration("older-than", 0, "Only remove entries older than this age")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func closeResources(res interface{ Close() error }) {
	if err := res.Close(); err != nil {
		log.Printf("Failed to close resources: %v", err)
	}
}
