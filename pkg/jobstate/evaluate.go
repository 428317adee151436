package jobstate

import (
	"fmt"
	"math"
	"time"

	"github.com/3leaps/simstat/pkg/card"
	"github.com/3leaps/simstat/pkg/progress"
	"github.com/3leaps/simstat/pkg/schedout"
)

// Inputs are the facts gathered for one job directory.
//
// Sample is mandatory: without progress data neither percent nor elapsed
// time can be computed, so callers must not evaluate a job whose progress
// log could not be read. Every other fact may carry an error instead.
type Inputs struct {
	JobName   string
	Group     string
	Directory string
	HPCCode   int64

	Description    string
	DescriptionErr error

	Duration    float64
	DurationErr error

	Sample progress.Sample

	Classification    schedout.Classification
	ClassificationErr error
}

// Evaluate derives the status record for one job.
//
// Precedence: a scheduler cancellation wins over a completion marker, and
// a job with neither is RUNNING. For a running job the remaining time is a
// single linear extrapolation of simulated progress over elapsed wall time.
func Evaluate(in Inputs) Record {
	r := Record{
		HPCCode:     in.HPCCode,
		JobName:     in.JobName,
		Group:       in.Group,
		Directory:   in.Directory,
		Description: in.Description,
		Timestep:    in.Sample.Timestep,
		StartTime:   in.Sample.Start,
		SampleTime:  in.Sample.Current,
		Elapsed:     in.Sample.Elapsed(),
	}

	if in.DescriptionErr != nil {
		r.Description = card.DescriptionPlaceholder
		r.addProblem(in.DescriptionErr)
	}

	var percent *float64
	switch {
	case in.DurationErr != nil:
		r.addProblem(in.DurationErr)
	case in.Duration <= 0 || !finite(in.Duration):
		r.addProblem(fmt.Errorf("duration: target duration %v is not positive", in.Duration))
	default:
		d := in.Duration
		r.Duration = &d
		p := in.Sample.Timestep / d * 100
		if finite(p) {
			percent = &p
		} else {
			r.addProblem(fmt.Errorf("progress: simulated time %v is not finite", in.Sample.Timestep))
		}
	}

	if in.ClassificationErr != nil {
		r.addProblem(in.ClassificationErr)
	}
	if r.Elapsed < 0 {
		r.addProblem(fmt.Errorf("progress: sample time %s precedes start time %s",
			r.SampleTime.Format(time.RFC3339), r.StartTime.Format(time.RFC3339)))
	}

	c := in.Classification
	switch {
	case c.Canceled:
		r.Status = StatusCanceled
		r.Percent = percent
		r.Remaining = Remaining{State: RemainingCanceled}
		if c.CanceledAt != nil {
			t := *c.CanceledAt
			r.EndTime = &t
			r.EndReason = EndReasonCanceled
		} else {
			r.EndReason = c.CancelRaw
			r.addProblem(fmt.Errorf("output: cancellation time %q is not parseable", c.CancelRaw))
		}

	case c.Completed:
		full := 100.0
		end := r.SampleTime
		r.Status = StatusCompleted
		r.Percent = &full
		r.Remaining = Remaining{State: RemainingComplete}
		r.EndTime = &end
		r.EndReason = EndReasonComplete

	default:
		r.Status = StatusRunning
		r.Percent = percent
		r.Remaining = extrapolate(r.Elapsed, percent)
		if r.Remaining.Finite() {
			end := r.SampleTime.Add(r.Remaining.Duration)
			r.EndTime = &end
			r.EndReason = EndReasonETA
		}
	}

	r.Partial = len(r.Problems) > 0
	return r
}

// extrapolate projects the remaining wall time assuming a constant
// simulated-time rate: remaining = elapsed / fraction - elapsed.
func extrapolate(elapsed time.Duration, percent *float64) Remaining {
	if percent == nil {
		return Remaining{State: RemainingUnknown}
	}

	fraction := *percent / 100
	if fraction <= 0 {
		return Remaining{State: RemainingUnbounded}
	}

	total := float64(elapsed) / fraction
	if !finite(total) || math.Abs(total) >= math.MaxInt64 {
		return Remaining{State: RemainingUnbounded}
	}

	return Remaining{
		State:    RemainingFinite,
		Duration: time.Duration(total) - elapsed,
	}
}

func (r *Record) addProblem(err error) {
	r.Problems = append(r.Problems, err.Error())
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
