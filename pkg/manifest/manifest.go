// Package manifest provides loading and validation of simstat monitor
// manifests.
//
// A monitor manifest is a YAML or JSON file that configures one scan of a
// simulation job tree: the root, which jobs to select, how job files are
// named, how the snapshot is rendered, and where it is published.
//
// Manifests are validated against a JSON Schema before use. The schema
// enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	root: /scratch/sims
//	scan:
//	  workers: 8
//	  timezone: America/Denver
//	match:
//	  includes: [lattice, beam]
//	  excludes: [old]
//	report:
//	  format: jsonl
//	  sort: remaining
//	publish:
//	  destination: s3://sim-dashboards/status/latest.jsonl
//	  region: us-west-2
package manifest

import (
	"fmt"
	"regexp"
	"time"

	"github.com/3leaps/simstat/pkg/card"
	"github.com/3leaps/simstat/pkg/crawler"
	"github.com/3leaps/simstat/pkg/match"
	"github.com/3leaps/simstat/pkg/progress"
)

// Manifest represents a validated monitor manifest.
//
// Version and Root are required. Everything else is optional with
// defaults applied during loading.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Root is the directory to scan.
	Root string `json:"root" yaml:"root"`

	Scan    ScanConfig    `json:"scan,omitempty" yaml:"scan,omitempty"`
	Match   MatchConfig   `json:"match,omitempty" yaml:"match,omitempty"`
	Files   FilesConfig   `json:"files,omitempty" yaml:"files,omitempty"`
	Report  ReportConfig  `json:"report,omitempty" yaml:"report,omitempty"`
	Publish PublishConfig `json:"publish,omitempty" yaml:"publish,omitempty"`
}

// ScanConfig configures the directory walk.
type ScanConfig struct {
	// Depth is 2 for root/group/job trees and 1 for root/job trees.
	// Default: 2.
	Depth int `json:"depth,omitempty" yaml:"depth,omitempty"`

	// Workers is the number of group tasks run in parallel.
	// Range: 1-64. Default: 4.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// RateLimit is the maximum group tasks started per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// Groups restricts the scan to these top-level directories. Optional.
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`

	// Timezone names the IANA zone job timestamps were written in.
	// Default: "Local".
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// MatchConfig selects job directories by name.
type MatchConfig struct {
	// Includes: a job directory must contain at least one. Empty means all.
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`

	// Excludes: a job directory must contain none.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`

	IncludeHidden bool `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty"`
	IgnoreCase    bool `json:"ignore_case,omitempty" yaml:"ignore_case,omitempty"`
}

// FilesConfig names the job artifacts.
type FilesConfig struct {
	// Config is the configuration file name. Default: velodyne.card.
	Config string `json:"config,omitempty" yaml:"config,omitempty"`

	// Progress is the progress log name substring. Default: status.timestep.
	Progress string `json:"progress,omitempty" yaml:"progress,omitempty"`

	// Output is a regular expression for scheduler output files whose first
	// capture group is the job id. Default: \.o(\d+)$.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// ReportConfig configures rendering.
type ReportConfig struct {
	// Format is jsonl, json or table. Default: jsonl.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Sort is the record order key. Default: name.
	Sort string `json:"sort,omitempty" yaml:"sort,omitempty"`

	Reverse bool `json:"reverse,omitempty" yaml:"reverse,omitempty"`
}

// PublishConfig configures where the snapshot is written.
type PublishConfig struct {
	// Destination is "stdout", "file:/path" or "s3://bucket/key".
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Region, Endpoint, Profile and ForcePathStyle apply to s3 destinations.
	Region         string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Profile        string `json:"profile,omitempty" yaml:"profile,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	DefaultDepth       = 2
	DefaultWorkers     = 4
	DefaultTimezone    = "Local"
	DefaultOutputRegex = `\.o(\d+)$`
	DefaultFormat      = "jsonl"
	DefaultSort        = "name"
	DefaultDestination = "stdout"
)

// ApplyDefaults fills in default values for optional fields.
func (m *Manifest) ApplyDefaults() {
	if m.Scan.Depth == 0 {
		m.Scan.Depth = DefaultDepth
	}
	if m.Scan.Workers == 0 {
		m.Scan.Workers = DefaultWorkers
	}
	// RateLimit: 0 is a valid value (unlimited), so no default needed
	if m.Scan.Timezone == "" {
		m.Scan.Timezone = DefaultTimezone
	}

	if m.Files.Config == "" {
		m.Files.Config = card.DefaultFileName
	}
	if m.Files.Progress == "" {
		m.Files.Progress = progress.DefaultPattern
	}
	if m.Files.Output == "" {
		m.Files.Output = DefaultOutputRegex
	}

	if m.Report.Format == "" {
		m.Report.Format = DefaultFormat
	}
	if m.Report.Sort == "" {
		m.Report.Sort = DefaultSort
	}

	if m.Publish.Destination == "" {
		m.Publish.Destination = DefaultDestination
	}
}

// CrawlerConfig converts the scan and files sections into a crawler
// configuration. It fails when the output pattern or timezone is invalid.
func (m *Manifest) CrawlerConfig() (crawler.Config, error) {
	cfg := crawler.DefaultConfig()
	cfg.Depth = m.Scan.Depth
	cfg.Concurrency = m.Scan.Workers
	cfg.RateLimit = m.Scan.RateLimit
	cfg.ConfigFile = m.Files.Config
	cfg.ProgressPattern = m.Files.Progress

	if m.Files.Output != "" {
		re, err := regexp.Compile(m.Files.Output)
		if err != nil {
			return cfg, fmt.Errorf("files.output: %w", err)
		}
		if re.NumSubexp() < 1 {
			return cfg, fmt.Errorf("files.output: pattern %q has no capture group for the job id", m.Files.Output)
		}
		cfg.OutputPattern = re
	}

	if m.Scan.Timezone != "" {
		loc, err := time.LoadLocation(m.Scan.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("scan.timezone: %w", err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

// MatcherConfig converts the match section into a matcher configuration.
func (m *Manifest) MatcherConfig() match.Config {
	return match.Config{
		Includes:      m.Match.Includes,
		Excludes:      m.Match.Excludes,
		IncludeHidden: m.Match.IncludeHidden,
		IgnoreCase:    m.Match.IgnoreCase,
	}
}
