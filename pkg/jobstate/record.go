// Package jobstate turns extracted job facts into a status record.
//
// Evaluate is a pure function: the same inputs always produce the same
// Record, and nothing in a Record depends on when it was computed. All
// times come from the job's own artifacts.
package jobstate

import (
	"time"
)

// Status is the lifecycle state of a job within one snapshot.
type Status string

// Job statuses. COMPLETED and CANCELED are terminal.
const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal reports whether the status is COMPLETED or CANCELED.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// RemainingState qualifies a Remaining value.
type RemainingState string

// Remaining states. Only RemainingFinite carries a meaningful duration.
const (
	RemainingFinite    RemainingState = "finite"
	RemainingUnbounded RemainingState = "unbounded"
	RemainingUnknown   RemainingState = "unknown"
	RemainingComplete  RemainingState = "complete"
	RemainingCanceled  RemainingState = "canceled"
)

// Remaining is the extrapolated wall-clock time left for a job.
type Remaining struct {
	State    RemainingState `json:"state"`
	Duration time.Duration  `json:"duration_ns,omitempty"`
}

// Finite reports whether Duration is meaningful.
func (r Remaining) Finite() bool {
	return r.State == RemainingFinite
}

// End reasons recorded alongside EndTime.
const (
	EndReasonETA      = "eta"
	EndReasonComplete = "complete"
	EndReasonCanceled = "canceled"
)

// Record is an immutable status snapshot for one job directory.
type Record struct {
	// HPCCode is the scheduler job id; 0 when no output file was found.
	HPCCode int64 `json:"hpc_code"`

	// JobName is the leaf name of the job directory.
	JobName string `json:"job_name"`

	// Group is the top-level directory the job was discovered under.
	Group string `json:"group,omitempty"`

	// Directory is the job directory path.
	Directory string `json:"directory"`

	// Description is the configuration description or its placeholder.
	Description string `json:"description"`

	Status Status `json:"status"`

	// Percent is simulated progress. Nil when the target duration is
	// unknown for a non-completed job. Values over 100 are preserved.
	Percent *float64 `json:"percent"`

	// Duration is the target simulated time, nil when unavailable.
	Duration *float64 `json:"duration"`

	// Timestep is the latest simulated time.
	Timestep float64 `json:"timestep"`

	StartTime  time.Time `json:"start_time"`
	SampleTime time.Time `json:"sample_time"`

	// EndTime is the ETA, completion or cancellation time. Nil when it
	// cannot be determined.
	EndTime *time.Time `json:"end_time"`

	// EndReason explains EndTime. For an unparseable cancellation time it
	// holds the raw scheduler text.
	EndReason string `json:"end_reason,omitempty"`

	// Elapsed is SampleTime minus StartTime.
	Elapsed time.Duration `json:"elapsed_ns"`

	Remaining Remaining `json:"remaining"`

	// Partial is set when any fact could not be extracted.
	Partial bool `json:"partial"`

	// Problems lists the non-fatal extraction failures.
	Problems []string `json:"problems,omitempty"`
}
