package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/urls"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// maxFailuresShown caps the failures printed in the run summary.
const maxFailuresShown = 5

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one incremental build",
	Long: `Run one incremental build of the configured corpus.

The first run of a corpus needs params, either in the config file or from flags.
Later runs reuse the params stored in the manifest; flags override them for this run
and the override is persisted.

Examples:
  corpusbuilder run --date-from 2024-01-01 --date-to 2024-01-31 --keywords climate,flood
  corpusbuilder run --extra '{"collection_id": 34412234, "max_stories": 200}'
  corpusbuilder run --urls-file urls.txt --sequential`,
	RunE: runBuild,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("date-from", "", "First day to discover, YYYY-MM-DD")
	cmd.Flags().String("date-to", "", "Last day to discover, YYYY-MM-DD")
	cmd.Flags().StringSlice("keywords", nil, "Keywords to search for (comma separated)")
	cmd.Flags().String("extra", "", "Extra params as a JSON object; replaces the stored extra")
	cmd.Flags().String("urls-file", "", "File of URLs to process instead of querying discovery")
	cmd.Flags().Bool("sequential", false, "Process URLs one at a time")
	cmd.Flags().Bool("json", false, "Print the run result as JSON")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, res, cfg, err := openBuilder(ctx)
	if err != nil {
		return err
	}
	defer closeResources(res)

	params, base, err := runParams(ctx, b, cfg.Params)
	if err != nil {
		return err
	}
	override, err := overrideFromFlags(cmd, base)
	if err != nil {
		return err
	}

	result, runErr := b.Run(ctx, params, override)
	if result != nil {
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
		} else {
			printSummary(os.Stdout, b.Name(), result)
		}
	}
	return runErr
}

type manifestLoader interface {
	LoadManifest(ctx context.Context) (*domain.Manifest, error)
}

// runParams picks the params a run starts from. The config params only seed the first
// run; once a manifest exists its stored params win. base is the extra that partial
// flag overrides are laid over.
func runParams(ctx context.Context, store manifestLoader, cfgParams *domain.BuilderParams) (*domain.BuilderParams, *domain.Extra, error) {
	m, err := store.LoadManifest(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load manifest: %w", err)
	}
	if m != nil {
		extra := m.Params.Extra
		return nil, &extra, nil
	}
	if cfgParams == nil {
		return nil, nil, nil
	}
	extra := cfgParams.Extra
	return cfgParams, &extra, nil
}

// overrideFromFlags builds the per-run override. base is the extra the flags start from
// when only some extra fields are given on the command line.
func overrideFromFlags(cmd *cobra.Command, base *domain.Extra) (*domain.Override, error) {
	flags := cmd.Flags()
	o := &domain.Override{}
	changed := false

	for _, name := range []string{"date-from", "date-to"} {
		if !flags.Changed(name) {
			continue
		}
		raw, _ := flags.GetString(name)
		d, err := domain.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: --%s: %v", domain.ErrInvalidParams, name, err)
		}
		if name == "date-from" {
			o.DateFrom = &d
		} else {
			o.DateTo = &d
		}
		changed = true
	}

	if flags.Changed("keywords") {
		kw, _ := flags.GetStringSlice("keywords")
		cleaned := make([]string, 0, len(kw))
		for _, k := range kw {
			if k = strings.TrimSpace(k); k != "" {
				cleaned = append(cleaned, k)
			}
		}
		o.Keywords = &cleaned
		changed = true
	}

	var extra *domain.Extra
	withExtra := func() *domain.Extra {
		if extra == nil {
			extra = &domain.Extra{}
			if base != nil {
				*extra = *base
			}
		}
		return extra
	}

	if flags.Changed("extra") {
		raw, _ := flags.GetString("extra")
		var parsed domain.Extra
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			if errors.Is(err, domain.ErrConfig) {
				return nil, fmt.Errorf("--extra: %w", err)
			}
			return nil, fmt.Errorf("%w: --extra: %v", domain.ErrInvalidParams, err)
		}
		extra = &parsed
	}
	if flags.Changed("urls-file") {
		path, _ := flags.GetString("urls-file")
		list, err := urls.ReadURLFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: --urls-file: %v", domain.ErrInvalidParams, err)
		}
		withExtra().TestURLs = list
	}
	if flags.Changed("sequential") {
		seq, _ := flags.GetBool("sequential")
		concurrent := !seq
		withExtra().UseConcurrentProcessing = &concurrent
	}
	if extra != nil {
		o.Extra = extra
		changed = true
	}

	if !changed {
		return nil, nil
	}
	return o, nil
}

func printSummary(w io.Writer, name string, r *domain.RunResult) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", bold("Corpus:"), name)
	fmt.Fprintf(w, "  Discovered:       %d\n", r.Discovered)
	fmt.Fprintf(w, "  Added:            %s\n", green(r.Added))
	fmt.Fprintf(w, "  Duplicates:       %d\n", r.SkippedDuplicate)
	fmt.Fprintf(w, "  Too short:        %s\n", yellow(r.SkippedQuality))
	fmt.Fprintf(w, "  No text:          %s\n", yellow(r.SkippedTextExtraction))
	fmt.Fprintf(w, "  Failed:           %s\n", red(r.Failed))
	fmt.Fprintf(w, "  Total documents:  %d\n", r.TotalDocs)
	if r.Outcome == domain.OutcomeFellBackToSequential {
		fmt.Fprintf(w, "  %s\n", yellow("Concurrent processing failed; the run fell back to sequential processing"))
	}

	if len(r.FailedDetails) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", bold("Failures:"))
	for i, f := range r.FailedDetails {
		if i == maxFailuresShown {
			fmt.Fprintf(w, "  ... and %d more\n", len(r.FailedDetails)-maxFailuresShown)
			break
		}
		fmt.Fprintf(w, "  %s %s: %s\n", red("✗"), f.URL, f.Error)
	}
}
