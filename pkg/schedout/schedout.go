// Package schedout classifies a job from the tail of its scheduler output
// file (the "<name>.o<jobid>" file written by the batch scheduler).
package schedout

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/simstat/pkg/joberr"
	"github.com/3leaps/simstat/pkg/lines"
)

// TailLines is how many trailing lines are inspected for markers.
const TailLines = 15

// CancelTimeLayout is the layout of the timestamp that opens the text
// after "CANCELLED AT".
const CancelTimeLayout = "2006-01-02T15:04:05"

// DefaultPattern matches scheduler output file names and captures the job id.
var DefaultPattern = regexp.MustCompile(`\.o(\d+)$`)

var (
	completionMarker = "Total Computation Time:"
	numericToken     = regexp.MustCompile(`^\s*[+-]?(?:0|[1-9]\d*)(?:\.\d*)?(?:[eE][+-]?\d+)?`)
	cancelPattern    = regexp.MustCompile(`slurmstepd: error: \*\*\* (.*)ON compute(.*) CANCELLED AT (.*) \*\*\*`)
	cancelTimestamp  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
)

// Classification is the evidence found in an output file tail.
//
// Completion and cancellation are detected independently; the caller
// decides precedence. Neither being set means the job is still running.
type Classification struct {
	// Completed is set when a "Total Computation Time:" line is present
	// and the first token after the marker is numeric.
	Completed bool

	// Canceled is set when a scheduler cancellation line is present.
	Canceled bool

	// CanceledAt is the parsed cancellation time, nil if unparseable.
	CanceledAt *time.Time

	// CancelRaw is the text after "CANCELLED AT" as it appeared, such as
	// "2024-03-01T09:00:00 DUE TO TIME LIMIT".
	CancelRaw string
}

// Locate finds the scheduler output file in dir with the numerically
// largest job id suffix. The suffix is returned as the HPC code.
//
// A nil pattern uses DefaultPattern; the pattern's first capture group
// must be the numeric id.
func Locate(dir string, pattern *regexp.Regexp) (string, int64, error) {
	if pattern == nil {
		pattern = DefaultPattern
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, joberr.IO("output", dir, err)
	}

	var (
		best string
		code int64 = -1
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if len(m) < 2 {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if id > code {
			best, code = e.Name(), id
		}
	}

	if best == "" {
		return "", 0, joberr.Extraction("output", dir, "no scheduler output file matching %q", pattern.String())
	}
	return filepath.Join(dir, best), code, nil
}

// Classify reads the last TailLines lines of the output file at path.
// Cancellation times are interpreted in loc (UTC when nil).
func Classify(path string, loc *time.Location) (*Classification, error) {
	tail, err := lines.LastN(path, TailLines)
	if err != nil {
		return nil, err
	}
	c := ClassifyLines(tail, loc)
	return &c, nil
}

// ClassifyLines applies the completion and cancellation rules to lines.
func ClassifyLines(tail []string, loc *time.Location) Classification {
	if loc == nil {
		loc = time.UTC
	}

	var c Classification
	for _, line := range tail {
		if !c.Completed {
			if i := strings.Index(line, completionMarker); i >= 0 && numericToken.MatchString(line[i+len(completionMarker):]) {
				c.Completed = true
			}
		}

		if !c.Canceled {
			if m := cancelPattern.FindStringSubmatch(line); m != nil {
				c.Canceled = true
				c.CancelRaw = strings.TrimSpace(m[3])
				if tok := cancelTimestamp.FindString(c.CancelRaw); tok != "" {
					if ts, err := time.ParseInLocation(CancelTimeLayout, tok, loc); err == nil {
						c.CanceledAt = &ts
					}
				}
			}
		}
	}
	return c
}
