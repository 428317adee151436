// Package output provides JSONL output for scan results.
//
// Output is structured as typed record envelopes containing job records,
// diagnostics, and a final summary. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/simstat/pkg/crawler"
	"github.com/3leaps/simstat/pkg/jobstate"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: simstat.<type>.v<version>
const (
	// TypeJob identifies job status records.
	TypeJob = "simstat.job.v1"

	// TypeDiagnostic identifies per-job or per-group failure records.
	TypeDiagnostic = "simstat.diagnostic.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "simstat.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// The type field determines how to interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "simstat.job.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// ScanID is the correlation ID for one scan.
	ScanID string `json:"scan_id"`

	// Root is the scanned directory.
	Root string `json:"root"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload for one job.
//
// Machine fields (nanoseconds, nullable floats) sit beside the
// HH:MM:SS renderings used in tables so consumers never reformat.
type JobRecord struct {
	JobName     string          `json:"job_name"`
	Group       string          `json:"group,omitempty"`
	Directory   string          `json:"directory"`
	HPCCode     int64           `json:"hpc_code"`
	Description string          `json:"description"`
	Status      jobstate.Status `json:"status"`

	// Percent is null when the expected duration is unknown.
	Percent      *float64 `json:"percent"`
	PercentHuman string   `json:"percent_human"`

	Duration *float64 `json:"duration"`
	Timestep float64  `json:"timestep"`

	StartTime  time.Time  `json:"start_time"`
	SampleTime time.Time  `json:"sample_time"`
	EndTime    *time.Time `json:"end_time"`
	EndReason  string     `json:"end_reason,omitempty"`
	EndHuman   string     `json:"end_human"`

	Elapsed      time.Duration `json:"elapsed_ns"`
	ElapsedHuman string        `json:"elapsed"`

	// RemainingState is finite, unbounded, unknown, complete or canceled.
	// Remaining is set only when the state is finite.
	RemainingState jobstate.RemainingState `json:"remaining_state"`
	Remaining      *time.Duration          `json:"remaining_ns"`
	RemainingHuman string                  `json:"remaining"`

	Partial  bool     `json:"partial"`
	Problems []string `json:"problems,omitempty"`
}

// NewJobRecord converts a job record into its output payload.
func NewJobRecord(r jobstate.Record) *JobRecord {
	jr := &JobRecord{
		JobName:        r.JobName,
		Group:          r.Group,
		Directory:      r.Directory,
		HPCCode:        r.HPCCode,
		Description:    r.Description,
		Status:         r.Status,
		Percent:        r.Percent,
		PercentHuman:   jobstate.FormatPercent(r.Percent),
		Duration:       r.Duration,
		Timestep:       r.Timestep,
		StartTime:      r.StartTime,
		SampleTime:     r.SampleTime,
		EndTime:        r.EndTime,
		EndReason:      r.EndReason,
		EndHuman:       jobstate.FormatEnd(r),
		Elapsed:        r.Elapsed,
		ElapsedHuman:   jobstate.FormatDuration(r.Elapsed),
		RemainingState: r.Remaining.State,
		RemainingHuman: jobstate.FormatRemaining(r.Remaining),
		Partial:        r.Partial,
		Problems:       r.Problems,
	}
	if r.Remaining.Finite() {
		d := r.Remaining.Duration
		jr.Remaining = &d
	}
	return jr
}

// DiagnosticRecord is the data payload for a job or group that could not
// be fully evaluated.
type DiagnosticRecord = crawler.Diagnostic

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	// Groups is the number of top-level directories scanned.
	Groups int64 `json:"groups"`

	// JobsFound is the number of job directories discovered.
	JobsFound int64 `json:"jobs_found"`

	// Records is the number of job records emitted.
	Records int64 `json:"records"`

	// Partial is the number of records with degraded fields.
	Partial int64 `json:"partial"`

	// Failed is the number of jobs with no record.
	Failed int64 `json:"failed"`

	// Warnings is the number of warning diagnostics.
	Warnings int64 `json:"warnings"`

	// ByStatus counts records per status.
	ByStatus map[jobstate.Status]int64 `json:"by_status"`

	// Duration is the total scan duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Includes and Excludes are the search terms in effect.
	Includes []string `json:"includes,omitempty"`
	Excludes []string `json:"excludes,omitempty"`
}

// NewSummaryRecord converts a scan summary into its output payload.
func NewSummaryRecord(s crawler.Summary) *SummaryRecord {
	return &SummaryRecord{
		Groups:        s.Groups,
		JobsFound:     s.JobsFound,
		Records:       s.Records,
		Partial:       s.Partial,
		Failed:        s.Failed,
		Warnings:      s.Warnings,
		ByStatus:      s.ByStatus,
		Duration:      s.Duration,
		DurationHuman: s.Duration.Round(time.Millisecond).String(),
	}
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
