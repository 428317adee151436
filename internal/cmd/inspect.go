package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/simstat/internal/config"
	"github.com/3leaps/simstat/internal/observability"
	"github.com/3leaps/simstat/pkg/crawler"
	"github.com/3leaps/simstat/pkg/jobstate"
	"github.com/3leaps/simstat/pkg/manifest"
	"github.com/3leaps/simstat/pkg/output"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <jobdir>",
	Short: "Show the inferred state of one job directory",
	Long: `Inspect a single job directory and print everything inferred about it,
including the problems found while reading its files.

The group defaults to the name of the job directory's parent.

Examples:
  simstat inspect /scratch/sims/aero/wing_v3
  simstat inspect ./wing_v3 --json
  simstat inspect ./wing_v3 --timezone Europe/Paris`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectGroup    string
	inspectTimezone string
	inspectJSON     bool
)

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectGroup, "group", "g", "", "Group name to report (default: parent directory name)")
	inspectCmd.Flags().StringVar(&inspectTimezone, "timezone", "", "IANA zone job timestamps were written in (default Local)")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
}

// inspectResult is the JSON output structure for inspect.
type inspectResult struct {
	Job         *output.JobRecord    `json:"job"`
	Diagnostics []crawler.Diagnostic `json:"diagnostics"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job directory", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		observability.CLILogger.Error("Job directory not found", zap.String("dir", dir), zap.Error(err))
		return exitError(foundry.ExitFileNotFound, "Job directory not found", err)
	}
	if !info.IsDir() {
		return exitError(foundry.ExitInvalidArgument, "Not a directory", fmt.Errorf("%s is not a directory", dir))
	}

	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	m := manifestFromConfig(cfg)
	m.Root = filepath.Dir(dir)
	if cmd.Flags().Changed("timezone") {
		m.Scan.Timezone = inspectTimezone
	}
	m.ApplyDefaults()
	crawlCfg, err := m.CrawlerConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid scan configuration", err)
	}

	group := inspectGroup
	if !cmd.Flags().Changed("group") {
		group = filepath.Base(filepath.Dir(dir))
	}

	record, diags := crawler.NewBuilder(crawlCfg).Build(dir, group)

	observability.CLILogger.Debug("Inspected job",
		zap.String("dir", dir),
		zap.String("group", group),
		zap.Bool("record", record != nil),
		zap.Int("diagnostics", len(diags)))

	if inspectJSON {
		err = writeInspectJSON(cmd.OutOrStdout(), record, diags)
	} else {
		err = writeInspectText(cmd.OutOrStdout(), m, record, diags)
	}
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	if record == nil {
		return exitError(foundry.ExitFileReadError, "No status could be inferred",
			fmt.Errorf("%s: no readable progress log", dir))
	}
	return nil
}

func writeInspectJSON(w io.Writer, record *jobstate.Record, diags []crawler.Diagnostic) error {
	res := inspectResult{Diagnostics: diags}
	if res.Diagnostics == nil {
		res.Diagnostics = []crawler.Diagnostic{}
	}
	if record != nil {
		res.Job = output.NewJobRecord(*record)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func writeInspectText(w io.Writer, m *manifest.Manifest, record *jobstate.Record, diags []crawler.Diagnostic) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if record != nil {
		code := "-"
		if record.HPCCode != 0 {
			code = fmt.Sprintf("%d", record.HPCCode)
		}
		duration := "n/a"
		if record.Duration != nil {
			duration = fmt.Sprintf("%g", *record.Duration)
		}
		rows := [][2]string{
			{"Job", record.JobName},
			{"Group", record.Group},
			{"Directory", record.Directory},
			{"HPC code", code},
			{"Description", record.Description},
			{"Status", string(record.Status)},
			{"Progress", fmt.Sprintf("%s (%g of %s)", jobstate.FormatPercent(record.Percent), record.Timestep, duration)},
			{"Started", record.StartTime.Format("2006-01-02 15:04:05")},
			{"Sampled", record.SampleTime.Format("2006-01-02 15:04:05")},
			{"Elapsed", jobstate.FormatDuration(record.Elapsed)},
			{"Remaining", jobstate.FormatRemaining(record.Remaining)},
			{"End", jobstate.FormatEnd(*record)},
			{"Timezone", m.Scan.Timezone},
		}
		for _, row := range rows {
			if _, err := fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
				return err
			}
		}
	} else {
		if _, err := fmt.Fprintln(tw, "No status could be inferred."); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(diags) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "\n%d problem(s):\n", len(diags)); err != nil {
		return err
	}
	for _, d := range diags {
		if _, err := fmt.Fprintf(w, "  [%s] %s: %s\n", d.Severity, d.Stage, d.Reason); err != nil {
			return err
		}
	}
	return nil
}
