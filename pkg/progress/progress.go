// Package progress samples a job's progress log.
//
// The simulation appends one whitespace-delimited row per report:
//
//	2024/03/01, 08:00:00, <col>, <simulated time>, ...
//
// The first data row (line 2) carries the wall-clock start time; the most
// recent row carries the current wall-clock time and simulated time.
package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/simstat/pkg/joberr"
	"github.com/3leaps/simstat/pkg/lines"
)

// DefaultPattern is the filename substring that identifies progress logs.
const DefaultPattern = "status.timestep"

// TimestampLayout is the wall-clock layout used in progress rows.
const TimestampLayout = "2006/01/02 15:04:05"

// tailLines is how many trailing lines are read to find the latest
// non-blank row.
const tailLines = 4

// Sample is one point-in-time reading of a progress log.
type Sample struct {
	// File is the progress log that was read.
	File string

	// Start is the wall-clock time of the first data row.
	Start time.Time

	// Current is the wall-clock time of the most recent row.
	Current time.Time

	// Timestep is the simulated time reached at Current.
	Timestep float64
}

// Elapsed returns Current minus Start.
func (s *Sample) Elapsed() time.Duration {
	return s.Current.Sub(s.Start)
}

// Options configures SampleDir.
type Options struct {
	// Pattern is the filename substring to match. Default: DefaultPattern.
	Pattern string

	// Location interprets the timestamps. Default: time.UTC.
	Location *time.Location
}

// Locate returns the lexicographically greatest regular file in dir whose
// name contains pattern.
//
// Zero-padded sequence numbers in the file names make the greatest name the
// most recent log.
func Locate(dir, pattern string) (string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", joberr.IO("progress", dir, err)
	}

	best := ""
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.Contains(e.Name(), pattern) {
			continue
		}
		if e.Name() > best {
			best = e.Name()
		}
	}
	if best == "" {
		return "", joberr.Parse("progress", dir, "no file matching %q", pattern)
	}
	return filepath.Join(dir, best), nil
}

// Read samples the progress log at path.
//
// It fails with a parse error when the file has fewer than two lines or a
// timestamp or simulated-time field cannot be parsed, and with an IO error
// when the file cannot be read.
func Read(path string, loc *time.Location) (*Sample, error) {
	if loc == nil {
		loc = time.UTC
	}

	head, err := lines.FirstN(path, 1)
	if err != nil {
		return nil, err
	}
	if len(head) < 2 {
		return nil, joberr.Parse("progress", path, "expected at least 2 lines, found %d", len(head))
	}

	tail, err := lines.LastN(path, tailLines)
	if err != nil {
		return nil, err
	}
	last := lastNonBlank(tail)

	start, err := parseTimestamp(head[1], loc)
	if err != nil {
		return nil, joberr.Parse("progress", path, "start row: %v", err)
	}

	current, err := parseTimestamp(last, loc)
	if err != nil {
		return nil, joberr.Parse("progress", path, "last row: %v", err)
	}

	fields := strings.Fields(last)
	if len(fields) < 4 {
		return nil, joberr.Parse("progress", path, "last row has %d fields, want at least 4", len(fields))
	}
	timestep, err := strconv.ParseFloat(strings.ReplaceAll(fields[3], ",", ""), 64)
	if err != nil {
		return nil, joberr.Parse("progress", path, "simulated time %q: %v", fields[3], err)
	}

	return &Sample{
		File:     path,
		Start:    start,
		Current:  current,
		Timestep: timestep,
	}, nil
}

// SampleDir locates and reads the newest progress log in dir.
func SampleDir(dir string, opts Options) (*Sample, error) {
	path, err := Locate(dir, opts.Pattern)
	if err != nil {
		return nil, err
	}
	return Read(path, opts.Location)
}

// parseTimestamp reads fields 0 and 1 of a row as a wall-clock time.
func parseTimestamp(row string, loc *time.Location) (time.Time, error) {
	fields := strings.Fields(row)
	if len(fields) < 2 {
		return time.Time{}, fmt.Errorf("row %q has no timestamp", row)
	}
	raw := strings.ReplaceAll(fields[0]+" "+fields[1], ",", "")
	ts, err := time.ParseInLocation(TimestampLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", raw, err)
	}
	return ts, nil
}

func lastNonBlank(rows []string) string {
	for i := len(rows) - 1; i >= 0; i-- {
		if strings.TrimSpace(rows[i]) != "" {
			return rows[i]
		}
	}
	return ""
}
