package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/3leaps/simstat/pkg/crawler"
	"github.com/3leaps/simstat/pkg/jobstate"
)

// Format selects how a snapshot is rendered.
type Format string

// Supported formats.
const (
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// ParseFormat validates a format name. Empty means jsonl.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSONL, nil
	case FormatJSONL, FormatJSON, FormatTable:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want jsonl, json or table)", s)
	}
}

// ContentType returns the MIME type used when publishing a rendering.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatTable:
		return "text/plain; charset=utf-8"
	default:
		return "application/x-ndjson"
	}
}

// Snapshot is one scan result ready for rendering.
type Snapshot struct {
	ScanID   string
	Set      *crawler.JobSet
	Includes []string
	Excludes []string
}

func (s Snapshot) summary() *SummaryRecord {
	sum := NewSummaryRecord(s.Set.Summary)
	sum.Includes = s.Includes
	sum.Excludes = s.Excludes
	return sum
}

// Document is the single-object JSON rendering of a snapshot.
type Document struct {
	ScanID      string             `json:"scan_id"`
	Root        string             `json:"root"`
	Jobs        []*JobRecord       `json:"jobs"`
	Diagnostics []DiagnosticRecord `json:"diagnostics"`
	Summary     *SummaryRecord     `json:"summary"`
}

// NewDocument builds the JSON document for a snapshot. Records keep the
// order of the JobSet.
func NewDocument(s Snapshot) *Document {
	doc := &Document{
		ScanID:      s.ScanID,
		Root:        s.Set.Root,
		Jobs:        make([]*JobRecord, 0, len(s.Set.Records)),
		Diagnostics: make([]DiagnosticRecord, 0, len(s.Set.Diagnostics)),
		Summary:     s.summary(),
	}
	for _, r := range s.Set.Records {
		doc.Jobs = append(doc.Jobs, NewJobRecord(r))
	}
	doc.Diagnostics = append(doc.Diagnostics, s.Set.Diagnostics...)
	return doc
}

// WriteJobSet emits every job, then every diagnostic, then the summary.
func WriteJobSet(ctx context.Context, w Writer, s Snapshot) error {
	for _, r := range s.Set.Records {
		if err := w.WriteJob(ctx, NewJobRecord(r)); err != nil {
			return err
		}
	}
	for i := range s.Set.Diagnostics {
		if err := w.WriteDiagnostic(ctx, &s.Set.Diagnostics[i]); err != nil {
			return err
		}
	}
	return w.WriteSummary(ctx, s.summary())
}

// Render writes the snapshot to out in the given format.
func Render(ctx context.Context, out io.Writer, f Format, s Snapshot) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(NewDocument(s)); err != nil {
			return &WriteError{Op: "encode", Err: err}
		}
		return nil
	case FormatTable:
		return WriteTable(out, s.Set)
	default:
		w := NewJSONLWriter(out, s.ScanID, s.Set.Root)
		defer func() { _ = w.Close() }()
		return WriteJobSet(ctx, w, s)
	}
}

// WriteTable renders the status table followed by a diagnostics block.
func WriteTable(out io.Writer, set *crawler.JobSet) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(tw, "HPC CODE\tJOB\tDESCRIPTION\tSTATUS\tPERCENT\tELAPSED\tREMAINING\tEND")
	for _, r := range set.Records {
		code := "-"
		if r.HPCCode != 0 {
			code = fmt.Sprintf("%d", r.HPCCode)
		}
		name := r.JobName
		if r.Partial {
			name += " *"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			code,
			name,
			truncate(r.Description, 40),
			r.Status,
			jobstate.FormatPercent(r.Percent),
			jobstate.FormatDuration(r.Elapsed),
			jobstate.FormatRemaining(r.Remaining),
			jobstate.FormatEnd(r),
		)
	}
	if err := tw.Flush(); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	sum := set.Summary
	if _, err := fmt.Fprintf(out, "\n%d jobs (%d partial), %d failed, %d warnings\n",
		sum.Records, sum.Partial, sum.Failed, sum.Warnings); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	if len(set.Diagnostics) == 0 {
		return nil
	}
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "\nSEVERITY\tSTAGE\tPATH\tREASON")
	for _, d := range set.Diagnostics {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Severity, d.Stage, d.Path, d.Reason)
	}
	if err := tw.Flush(); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
