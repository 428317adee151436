package jobstate

import (
	"cmp"
	"strings"
)

// Comparator orders two records for slices.SortFunc.
type Comparator func(a, b Record) int

// ByJobName orders by job name, then group.
func ByJobName(a, b Record) int {
	if c := strings.Compare(a.JobName, b.JobName); c != 0 {
		return c
	}
	return strings.Compare(a.Group, b.Group)
}

// ByHPCCode orders by scheduler id, then job name.
func ByHPCCode(a, b Record) int {
	if c := cmp.Compare(a.HPCCode, b.HPCCode); c != 0 {
		return c
	}
	return ByJobName(a, b)
}

// ByRemaining puts running jobs with the least time left first, followed
// by jobs whose remaining time cannot be projected, then canceled and
// completed jobs.
func ByRemaining(a, b Record) int {
	if c := cmp.Compare(remainingRank(a.Remaining.State), remainingRank(b.Remaining.State)); c != 0 {
		return c
	}
	if a.Remaining.Finite() {
		if c := cmp.Compare(a.Remaining.Duration, b.Remaining.Duration); c != 0 {
			return c
		}
	}
	return ByJobName(a, b)
}

// ByPercent orders by percent complete, highest first. Records without a
// percent sort last.
func ByPercent(a, b Record) int {
	switch {
	case a.Percent == nil && b.Percent == nil:
		return ByJobName(a, b)
	case a.Percent == nil:
		return 1
	case b.Percent == nil:
		return -1
	}
	if c := cmp.Compare(*b.Percent, *a.Percent); c != 0 {
		return c
	}
	return ByJobName(a, b)
}

// Reverse inverts a comparator.
func Reverse(c Comparator) Comparator {
	return func(a, b Record) int { return c(b, a) }
}

// ComparatorFor resolves a sort key name. Unknown keys return nil, false.
func ComparatorFor(key string) (Comparator, bool) {
	switch strings.ToLower(key) {
	case "", "name", "job", "job_name":
		return ByJobName, true
	case "remaining", "eta":
		return ByRemaining, true
	case "code", "hpc", "hpc_code":
		return ByHPCCode, true
	case "percent", "progress":
		return ByPercent, true
	default:
		return nil, false
	}
}

func remainingRank(s RemainingState) int {
	switch s {
	case RemainingFinite:
		return 0
	case RemainingUnbounded:
		return 1
	case RemainingUnknown:
		return 2
	case RemainingCanceled:
		return 3
	case RemainingComplete:
		return 4
	default:
		return 5
	}
}
