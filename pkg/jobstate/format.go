package jobstate

import (
	"fmt"
	"time"
)

// FormatDuration renders d as HH:MM:SS with unbounded hours, truncated to
// whole seconds.
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, secs/3600, (secs/60)%60, secs%60)
}

// FormatPercent renders a percent with one decimal, or "n/a".
func FormatPercent(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *p)
}

// FormatRemaining renders the remaining column of a status table.
func FormatRemaining(r Remaining) string {
	switch r.State {
	case RemainingFinite:
		return FormatDuration(r.Duration)
	case RemainingComplete:
		return "COMPLETE"
	case RemainingCanceled:
		return "CANCELED"
	case RemainingUnbounded:
		return "UNBOUNDED"
	default:
		return "UNKNOWN"
	}
}

// FormatEnd renders the end column: a timestamp, or the end reason when
// no time is known.
func FormatEnd(r Record) string {
	if r.EndTime != nil {
		return r.EndTime.Format("2006-01-02 15:04:05")
	}
	if r.EndReason != "" {
		return r.EndReason
	}
	return "-"
}
