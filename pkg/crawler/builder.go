package crawler

import (
	"path/filepath"
	"strings"

	"github.com/3leaps/simstat/pkg/card"
	"github.com/3leaps/simstat/pkg/joberr"
	"github.com/3leaps/simstat/pkg/jobstate"
	"github.com/3leaps/simstat/pkg/progress"
	"github.com/3leaps/simstat/pkg/schedout"
)

// Builder inspects a single job directory.
//
// Build never fails: every extraction, parse or IO error is turned into a
// Diagnostic. A record is produced whenever the progress log is readable.
type Builder struct {
	config Config
}

// NewBuilder creates a Builder. Zero-valued Config fields take defaults.
func NewBuilder(cfg Config) *Builder {
	return &Builder{config: cfg.withDefaults()}
}

// Build inspects dir and returns its record, or nil when the job has no
// usable progress data. group is the top-level directory name, if any.
func (b *Builder) Build(dir, group string) (*jobstate.Record, []Diagnostic) {
	name := filepath.Base(dir)
	var diags []Diagnostic
	warn := func(stage string, err error) {
		diags = append(diags, newDiagnostic(dir, group, name, stage, SeverityWarning, err))
	}

	facts := card.Extract(filepath.Join(dir, b.config.ConfigFile))
	if facts.DescriptionErr != nil {
		warn(StageConfig, facts.DescriptionErr)
	}
	if facts.DurationErr != nil {
		warn(StageConfig, facts.DurationErr)
	}

	sample, err := progress.SampleDir(dir, progress.Options{
		Pattern:  b.config.ProgressPattern,
		Location: b.config.Location,
	})
	if err != nil {
		diags = append(diags, newDiagnostic(dir, group, name, StageProgress, SeverityError, err))
		return nil, diags
	}
	if sample.Elapsed() < 0 {
		warn(StageProgress, joberr.Parse("progress", sample.File, "sample time precedes start time"))
	}

	in := jobstate.Inputs{
		JobName:        name,
		Group:          group,
		Directory:      dir,
		Description:    facts.Description,
		DescriptionErr: facts.DescriptionErr,
		Duration:       facts.Duration,
		DurationErr:    facts.DurationErr,
		Sample:         *sample,
	}

	outPath, code, err := schedout.Locate(dir, b.config.OutputPattern)
	if err != nil {
		warn(StageOutput, err)
		in.ClassificationErr = err
	} else {
		in.HPCCode = code
		cls, err := schedout.Classify(outPath, b.config.Location)
		if err != nil {
			warn(StageOutput, err)
			in.ClassificationErr = err
		} else {
			in.Classification = *cls
			if cls.Canceled && cls.CanceledAt == nil {
				warn(StageClassify, joberr.Parse("classify", outPath,
					"cancellation time %q does not match %s", cls.CancelRaw, schedout.CancelTimeLayout))
			}
		}
	}

	rec := jobstate.Evaluate(in)
	return &rec, diags
}

// IsJobDir reports whether the directory listing contains the
// configuration file. Any file whose name contains the configured name
// qualifies.
func (b *Builder) IsJobDir(names []string) bool {
	for _, n := range names {
		if strings.Contains(n, b.config.ConfigFile) {
			return true
		}
	}
	return false
}
