// Package card extracts job facts from a simulation configuration file
// (the "velodyne card").
//
// Two facts are read from the head of the file: a free-text description
// delimited by a "Problem Title" line and the next "Title" line, and the
// target simulated duration from the "Termination time" line.
package card

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/3leaps/simstat/pkg/joberr"
	"github.com/3leaps/simstat/pkg/lines"
)

// DefaultFileName is the configuration file every job directory carries.
const DefaultFileName = "velodyne.card"

// Scan windows, in lines.
const (
	DescriptionWindow = 25
	DurationWindow    = 250
)

// DescriptionPlaceholder replaces a description that could not be extracted.
const DescriptionPlaceholder = `Description not found in first 25 lines of velodyne.card. ` +
	`Method looks for line including "Problem Title" and ends with line including "Title".`

const (
	startMarker    = "problem title"
	endMarker      = "title"
	durationMarker = "termination time"
)

var (
	durationPattern = regexp.MustCompile(`\d+\.?\d*`)
	stripChars      = strings.NewReplacer("!", "", "*", "", "\t", "", "\n", "", "-", "")
)

// Facts holds everything extracted from one configuration file.
// A failed extraction leaves the zero value and records the error.
type Facts struct {
	Description    string
	DescriptionErr error

	Duration    float64
	DurationErr error
}

// Extract reads both facts from the configuration file at path.
//
// Errors are returned in Facts rather than aborting, since a job with an
// unreadable description still has useful progress data.
func Extract(path string) Facts {
	head, err := lines.FirstN(path, DurationWindow)
	if err != nil {
		return Facts{DescriptionErr: err, DurationErr: err}
	}

	descHead := head
	if len(descHead) > DescriptionWindow+1 {
		descHead = descHead[:DescriptionWindow+1]
	}

	var f Facts
	f.Description, f.DescriptionErr = DescriptionFromLines(path, descHead)
	f.Duration, f.DurationErr = DurationFromLines(path, head)
	return f
}

// ExtractDescription returns the description block from the first 25 lines.
//
// Capture starts after the first line containing "problem title" and stops
// at the next line containing "title" (both case-insensitive). A closing
// marker is required; an unterminated or empty block is an extraction error.
func ExtractDescription(path string) (string, error) {
	head, err := lines.FirstN(path, DescriptionWindow)
	if err != nil {
		return "", err
	}
	return DescriptionFromLines(path, head)
}

// DescriptionFromLines applies the description rules to pre-read lines.
func DescriptionFromLines(path string, head []string) (string, error) {
	var (
		b          strings.Builder
		capturing  bool
		terminated bool
	)

	for _, line := range head {
		lower := strings.ToLower(line)
		if capturing {
			if strings.Contains(lower, endMarker) {
				terminated = true
				break
			}
			b.WriteString(line)
		}
		if strings.Contains(lower, startMarker) {
			capturing = true
			b.Reset()
		}
	}

	if !capturing {
		return "", joberr.Extraction("description", path, "no %q line in first %d lines", "Problem Title", DescriptionWindow)
	}
	if !terminated {
		return "", joberr.Extraction("description", path, "no closing %q line in first %d lines", "Title", DescriptionWindow)
	}

	desc := strings.TrimLeft(stripChars.Replace(b.String()), " ")
	if desc == "" {
		return "", joberr.Extraction("description", path, "description block is empty")
	}
	return desc, nil
}

// ExtractDuration returns the target simulated time from the first 250 lines.
//
// The first number on the first line containing "termination time" is
// rounded to 5 decimal places. A missing line, a line without a number or
// a zero duration are extraction errors.
func ExtractDuration(path string) (float64, error) {
	head, err := lines.FirstN(path, DurationWindow)
	if err != nil {
		return 0, err
	}
	return DurationFromLines(path, head)
}

// DurationFromLines applies the duration rules to pre-read lines.
func DurationFromLines(path string, head []string) (float64, error) {
	for _, line := range head {
		if !strings.Contains(strings.ToLower(line), durationMarker) {
			continue
		}

		token := durationPattern.FindString(line)
		if token == "" {
			return 0, joberr.Extraction("duration", path, "no number on termination time line %q", line)
		}
		v, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return 0, joberr.Extraction("duration", path, "termination time %q: %v", token, err)
		}

		v = roundTo(v, 5)
		if v == 0 {
			return 0, joberr.Extraction("duration", path, "termination time is zero")
		}
		return v, nil
	}
	return 0, joberr.Extraction("duration", path, "no %q line in first %d lines", "Termination time", DurationWindow)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
