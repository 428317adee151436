package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/simstat/internal/observability"
	"github.com/3leaps/simstat/pkg/crawler"
	"github.com/3leaps/simstat/pkg/jobstate"
	"github.com/3leaps/simstat/pkg/manifest"
	"github.com/3leaps/simstat/pkg/output"
	"github.com/3leaps/simstat/pkg/provider"
	"github.com/3leaps/simstat/pkg/publish"
)

var scanCmd = &cobra.Command{
	Use:   "scan [root]",
	Short: "Scan job directories and report their state",
	Long: `Scan every job directory under root and emit one status record per job.

The root holds group directories which hold job directories (use --depth 1
when jobs sit directly under the root). A job directory is any directory
containing the configuration card. Jobs whose files cannot be read are
reported as diagnostics; only an unreadable root fails the scan.

Examples:
  simstat scan /scratch/sims
  simstat scan /scratch/sims -i wing -i tail -x old --format table
  simstat scan /scratch/sims --sort remaining --output file:/srv/www/status.json --format json
  simstat scan --manifest monitor.yaml --output s3://dashboards/hpc/latest.jsonl
  simstat scan --manifest monitor.yaml --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

var (
	scanFlagSet scanFlags
	scanFormat  string
	scanSort    string
	scanReverse bool
	scanOutput  string
	scanDryRun  bool
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanFlagSet.register(scanCmd)
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format: jsonl, json or table (default jsonl)")
	scanCmd.Flags().StringVarP(&scanSort, "sort", "s", "", "Sort by name, remaining, code or percent (default name)")
	scanCmd.Flags().BoolVarP(&scanReverse, "reverse", "r", false, "Reverse the sort order")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Destination: stdout, file:<path> or s3://bucket/key")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Validate the plan and print it without scanning")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := buildManifest(cmd, args, &scanFlagSet)
	if err != nil {
		observability.CLILogger.Error("Invalid scan configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid scan configuration", err)
	}

	fl := cmd.Flags()
	if fl.Changed("format") {
		m.Report.Format = scanFormat
	}
	if fl.Changed("sort") {
		m.Report.Sort = scanSort
	}
	if fl.Changed("reverse") {
		m.Report.Reverse = scanReverse
	}
	if fl.Changed("output") {
		m.Publish.Destination = scanOutput
	}

	format, err := output.ParseFormat(m.Report.Format)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --format", err)
	}
	cmp, ok := jobstate.ComparatorFor(m.Report.Sort)
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "Invalid --sort", fmt.Errorf("unknown sort key %q", m.Report.Sort))
	}
	if m.Report.Reverse {
		cmp = jobstate.Reverse(cmp)
	}
	dest, err := publish.ParseDestination(m.Publish.Destination)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output", err)
	}
	if dest.Kind != publish.KindStdout && isReadOnly() {
		return exitError(foundry.ExitInvalidArgument, "Publishing disabled",
			fmt.Errorf("readonly mode: refusing to write %s", dest))
	}

	if scanDryRun {
		return showScanPlan(m, format, dest)
	}

	return executeScan(ctx, m, format, cmp, dest)
}

// showScanPlan displays what would be scanned without scanning.
func showScanPlan(m *manifest.Manifest, format output.Format, dest publish.Destination) error {
	fmt.Println("=== Scan Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Root:        %s\n", m.Root)
	fmt.Printf("Depth:       %d\n", m.Scan.Depth)
	if len(m.Scan.Groups) > 0 {
		fmt.Printf("Groups:      %v\n", m.Scan.Groups)
	}
	fmt.Println()
	fmt.Println("Terms:")
	if len(m.Match.Includes) == 0 {
		fmt.Println("  Include:   (all)")
	}
	for _, t := range m.Match.Includes {
		fmt.Printf("  Include:   %s\n", t)
	}
	for _, t := range m.Match.Excludes {
		fmt.Printf("  Exclude:   %s\n", t)
	}
	fmt.Println()
	fmt.Printf("Files:       config=%s progress=*%s* output=%s\n", m.Files.Config, m.Files.Progress, m.Files.Output)
	fmt.Printf("Workers:     %d\n", m.Scan.Workers)
	if m.Scan.RateLimit > 0 {
		fmt.Printf("Rate Limit:  %.1f groups/s\n", m.Scan.RateLimit)
	}
	fmt.Printf("Timezone:    %s\n", m.Scan.Timezone)
	fmt.Printf("Format:      %s (sort %s, reverse %v)\n", format, m.Report.Sort, m.Report.Reverse)
	fmt.Printf("Output:      %s\n", dest)
	fmt.Println()
	fmt.Println("Plan validated successfully. Remove --dry-run to scan.")
	return nil
}

// executeScan runs one scan and publishes the rendering.
func executeScan(ctx context.Context, m *manifest.Manifest, format output.Format, cmp jobstate.Comparator, dest publish.Destination) error {
	scanID := uuid.New().String()

	pub, err := publish.New(ctx, dest, publish.Options{
		Region:         m.Publish.Region,
		Endpoint:       m.Publish.Endpoint,
		Profile:        m.Publish.Profile,
		ForcePathStyle: m.Publish.ForcePathStyle,
	})
	if err != nil {
		observability.CLILogger.Error("Failed to open destination", zap.String("destination", dest.String()), zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open destination", err)
	}
	defer func() { _ = pub.Close() }()

	c, err := newCrawler(m)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid scan configuration", err)
	}

	observability.CLILogger.Info("Starting scan",
		zap.String("scan_id", scanID),
		zap.String("root", m.Root),
		zap.Int("workers", m.Scan.Workers))

	set, err := c.Run(ctx)
	if err != nil {
		if errors.Is(err, crawler.ErrRootUnreadable) {
			observability.CLILogger.Error("Scan root unreadable", zap.String("root", m.Root), zap.Error(err))
			return exitError(foundry.ExitFileNotFound, "Scan root unreadable", err)
		}
		if ctx.Err() != nil {
			records := 0
			if set != nil {
				records = len(set.Records)
			}
			observability.CLILogger.Warn("Scan cancelled",
				zap.String("scan_id", scanID),
				zap.Int("records", records))
			return exitError(foundry.ExitSignalInt, "Scan cancelled", err)
		}
		return exitError(foundry.ExitFileReadError, "Scan failed", err)
	}

	set.Sort(cmp)

	var buf bytes.Buffer
	snap := output.Snapshot{
		ScanID:   scanID,
		Set:      set,
		Includes: m.Match.Includes,
		Excludes: m.Match.Excludes,
	}
	if err := output.Render(ctx, &buf, format, snap); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to render snapshot", err)
	}
	if err := pub.Publish(ctx, buf.Bytes(), format.ContentType()); err != nil {
		observability.CLILogger.Error("Failed to publish snapshot",
			zap.String("destination", dest.String()),
			zap.Bool("access_denied", provider.IsAccessDenied(err)),
			zap.Error(err))
		if provider.IsTransient(err) {
			return exitError(foundry.ExitExternalServiceUnavailable, "Destination unavailable", err)
		}
		return exitError(foundry.ExitFileWriteError, "Failed to publish snapshot", err)
	}

	observability.CLILogger.Info("Scan completed",
		zap.String("scan_id", scanID),
		zap.Int64("groups", set.Summary.Groups),
		zap.Int64("jobs", set.Summary.JobsFound),
		zap.Int64("records", set.Summary.Records),
		zap.Int64("partial", set.Summary.Partial),
		zap.Int64("failed", set.Summary.Failed),
		zap.Duration("duration", set.Summary.Duration),
		zap.String("destination", dest.String()))

	if dest.Kind != publish.KindStdout {
		fmt.Fprintf(os.Stderr, "Elapsed time was %.1f seconds\n", set.Summary.Duration.Seconds())
	}
	return nil
}
