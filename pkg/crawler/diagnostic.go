package crawler

import (
	"cmp"
	"slices"
	"time"

	"github.com/3leaps/simstat/pkg/joberr"
	"github.com/3leaps/simstat/pkg/jobstate"
)

// Diagnostic stages identify which step of a job inspection failed.
const (
	StageDiscover = "discover"
	StageConfig   = "config"
	StageProgress = "progress"
	StageOutput   = "output"
	StageClassify = "classify"
)

// Severity levels for diagnostics.
const (
	// SeverityError means no record was produced for the path.
	SeverityError = "error"

	// SeverityWarning means a record was produced with degraded fields.
	SeverityWarning = "warning"
)

// Diagnostic describes one per-job or per-group failure.
//
// Diagnostics are values: a failed job never aborts the scan, it yields a
// Diagnostic instead so operators can see which jobs need attention.
type Diagnostic struct {
	// Path is the job or group directory involved.
	Path string `json:"path"`

	// Group is the top-level directory, if known.
	Group string `json:"group,omitempty"`

	// JobName is the job directory name, empty for group failures.
	JobName string `json:"job_name,omitempty"`

	// Stage is the inspection step that failed.
	Stage string `json:"stage"`

	// Kind is the error class: io, extraction, parse or internal.
	Kind string `json:"kind"`

	// Severity is SeverityError or SeverityWarning.
	Severity string `json:"severity"`

	// Reason is a human-readable description.
	Reason string `json:"reason"`
}

func newDiagnostic(path, group, job, stage, severity string, err error) Diagnostic {
	return Diagnostic{
		Path:     path,
		Group:    group,
		JobName:  job,
		Stage:    stage,
		Kind:     joberr.KindOf(err),
		Severity: severity,
		Reason:   err.Error(),
	}
}

// Summary contains aggregate statistics from a completed scan.
type Summary struct {
	// Groups is the number of top-level directories scanned.
	Groups int64 `json:"groups"`

	// JobsFound is the number of job directories discovered.
	JobsFound int64 `json:"jobs_found"`

	// Records is the number of records built.
	Records int64 `json:"records"`

	// Partial is the number of records with degraded fields.
	Partial int64 `json:"partial"`

	// Failed is the number of error diagnostics (no record produced).
	Failed int64 `json:"failed"`

	// Warnings is the number of warning diagnostics.
	Warnings int64 `json:"warnings"`

	// ByStatus counts records per status.
	ByStatus map[jobstate.Status]int64 `json:"by_status"`

	// Duration is the wall time the scan took.
	Duration time.Duration `json:"duration_ns"`
}

// JobSet is the result of one aggregation pass.
//
// Record order is not significant; sort with a jobstate comparator.
type JobSet struct {
	Root        string            `json:"root"`
	Records     []jobstate.Record `json:"records"`
	Diagnostics []Diagnostic      `json:"diagnostics"`
	Summary     Summary           `json:"summary"`
}

// Sort orders the records in place with a stable sort.
func (s *JobSet) Sort(c jobstate.Comparator) {
	slices.SortStableFunc(s.Records, c)
}

// Errors returns the diagnostics for jobs that produced no record.
func (s *JobSet) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range s.Diagnostics {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Find returns the record for a job directory path.
func (s *JobSet) Find(dir string) (jobstate.Record, bool) {
	for _, r := range s.Records {
		if r.Directory == dir {
			return r, true
		}
	}
	return jobstate.Record{}, false
}

func summarize(records []jobstate.Record, diags []Diagnostic) Summary {
	sum := Summary{
		Records:  int64(len(records)),
		ByStatus: make(map[jobstate.Status]int64),
	}
	for _, r := range records {
		sum.ByStatus[r.Status]++
		if r.Partial {
			sum.Partial++
		}
	}
	for _, d := range diags {
		if d.Severity == SeverityError {
			sum.Failed++
		} else {
			sum.Warnings++
		}
	}
	return sum
}

func sortDiagnostics(diags []Diagnostic) {
	slices.SortStableFunc(diags, func(a, b Diagnostic) int {
		if c := cmp.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return cmp.Compare(a.Stage, b.Stage)
	})
}
