// Package crawler scans a tree of simulation job directories and builds a
// status record for every job it finds.
//
// The scan has two levels:
//   - Groups: top-level directories under the root, one task each
//   - Jobs: subdirectories of a group that pass the search terms and hold
//     a configuration file
//
// At depth 1 the root itself is the only group and every job directory under
// it is its own task.
//
// Tasks run on a bounded pool. Each task is independent and reports
// its records and diagnostics over a channel to a single collector, so a
// malformed job or an unreadable group never aborts the scan.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/simstat/pkg/card"
	"github.com/3leaps/simstat/pkg/joberr"
	"github.com/3leaps/simstat/pkg/jobstate"
	"github.com/3leaps/simstat/pkg/match"
	"github.com/3leaps/simstat/pkg/progress"
	"github.com/3leaps/simstat/pkg/schedout"
)

// Config configures crawler behavior.
type Config struct {
	// Concurrency is the number of group tasks run in parallel.
	// Default: 4
	Concurrency int

	// RateLimit is the maximum number of group tasks started per second.
	// Zero means unlimited. Useful on shared parallel filesystems.
	// Default: 0
	RateLimit float64

	// Depth is 2 when the root holds groups of jobs and 1 when the root
	// holds jobs directly.
	// Default: 2
	Depth int

	// ConfigFile is the file name that marks a job directory.
	// Default: velodyne.card
	ConfigFile string

	// ProgressPattern is the progress log file name substring.
	// Default: status.timestep
	ProgressPattern string

	// OutputPattern matches scheduler output file names; the first capture
	// group is the job id.
	// Default: \.o(\d+)$
	OutputPattern *regexp.Regexp

	// Location interprets the naive timestamps in job files.
	// Default: time.UTC
	Location *time.Location
}

// DefaultConfig returns the default crawler configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:     4,
		RateLimit:       0,
		Depth:           2,
		ConfigFile:      card.DefaultFileName,
		ProgressPattern: progress.DefaultPattern,
		OutputPattern:   schedout.DefaultPattern,
		Location:        time.UTC,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.Depth != 1 {
		c.Depth = def.Depth
	}
	if c.ConfigFile == "" {
		c.ConfigFile = def.ConfigFile
	}
	if c.ProgressPattern == "" {
		c.ProgressPattern = def.ProgressPattern
	}
	if c.OutputPattern == nil {
		c.OutputPattern = def.OutputPattern
	}
	if c.Location == nil {
		c.Location = def.Location
	}
	return c
}

// ErrRootUnreadable is returned by Run when the scan root cannot be listed.
var ErrRootUnreadable = errors.New("scan root unreadable")

// Crawler executes one scan of a job tree.
//
// Crawler is safe for single use only. Create a new Crawler for each scan.
type Crawler struct {
	root    string
	matcher *match.Matcher
	builder *Builder
	config  Config
	logger  *zap.Logger
	groups  []string

	// build is the per-job step; replaced in tests.
	build func(dir, group string) (*jobstate.Record, []Diagnostic)

	// Rate limiter (nil if unlimited)
	limiter *rate.Limiter

	// Atomic counters for stats
	groupsScanned atomic.Int64
	jobsFound     atomic.Int64
}

// group is one unit of work for the pool. When job is set the task builds
// only that entry of path instead of listing it.
type group struct {
	name string
	path string
	job  string
}

// groupResult is what a task hands to the collector.
type groupResult struct {
	records     []jobstate.Record
	diagnostics []Diagnostic
}

// New creates a new crawler.
//
// Parameters:
//   - root: Directory to scan
//   - m: Search terms selecting job directories by name (nil matches all)
//   - cfg: Crawler configuration (use DefaultConfig() as base)
func New(root string, m *match.Matcher, cfg Config) *Crawler {
	cfg = cfg.withDefaults()
	if m == nil {
		m = match.MatchAll()
	}

	c := &Crawler{
		root:    root,
		matcher: m,
		builder: NewBuilder(cfg),
		config:  cfg,
		logger:  zap.NewNop(),
	}
	c.build = c.builder.Build

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return c
}

// WithLogger sets the logger. Returns the crawler for method chaining.
func (c *Crawler) WithLogger(l *zap.Logger) *Crawler {
	if l != nil {
		c.logger = l
	}
	return c
}

// WithGroups restricts the scan to the named top-level directories.
// Repeated names are scanned once.
func (c *Crawler) WithGroups(names []string) *Crawler {
	c.groups = nil
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		c.groups = append(c.groups, name)
	}
	return c
}

// Config returns the effective configuration.
func (c *Crawler) Config() Config {
	return c.config
}

// Run executes the scan and returns the collected JobSet.
//
// Run blocks until every started task has finished. Only failure to list
// the root is fatal. When ctx is cancelled no new tasks are started, the
// running ones finish, and the partial JobSet is returned with ctx.Err().
func (c *Crawler) Run(ctx context.Context) (*JobSet, error) {
	startTime := time.Now()

	groups, err := c.discoverGroups()
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Scan starting",
		zap.String("root", c.root),
		zap.Int("groups", len(groups)),
		zap.Int("concurrency", c.config.Concurrency))

	results := make(chan groupResult, c.config.Concurrency)
	var wg sync.WaitGroup

	go func() {
		defer close(results)
		c.runTasks(ctx, groups, results, &wg)
		wg.Wait()
	}()

	set := &JobSet{Root: c.root}
	for res := range results {
		set.Records = append(set.Records, res.records...)
		set.Diagnostics = append(set.Diagnostics, res.diagnostics...)
	}
	sortDiagnostics(set.Diagnostics)

	set.Summary = summarize(set.Records, set.Diagnostics)
	set.Summary.Groups = c.groupsScanned.Load()
	set.Summary.JobsFound = c.jobsFound.Load()
	set.Summary.Duration = time.Since(startTime)

	c.logger.Debug("Scan finished",
		zap.String("root", c.root),
		zap.Int64("records", set.Summary.Records),
		zap.Int64("failed", set.Summary.Failed),
		zap.Duration("duration", set.Summary.Duration))

	if err := ctx.Err(); err != nil {
		return set, err
	}
	return set, nil
}

// runTasks launches one task per group with bounded concurrency.
func (c *Crawler) runTasks(ctx context.Context, groups []group, out chan<- groupResult, wg *sync.WaitGroup) {
	sem := make(chan struct{}, c.config.Concurrency)

	for _, g := range groups {
		// Acquire a slot or bail on cancellation.
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			return
		}

		if err := c.waitForRateLimit(ctx); err != nil {
			<-sem
			return
		}

		wg.Add(1)
		go func(g group) {
			defer wg.Done()
			defer func() { <-sem }()
			out <- c.runGroup(ctx, g)
		}(g)
	}
}

// waitForRateLimit blocks until the rate limiter allows a task start.
// Returns immediately if rate limiting is disabled.
func (c *Crawler) waitForRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// discoverGroups lists the top-level directories. This is the only fatal
// failure point of a scan.
func (c *Crawler) discoverGroups() ([]group, error) {
	info, err := os.Stat(c.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootUnreadable, joberr.IO("scan", c.root, err))
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootUnreadable, c.root)
	}

	if c.config.Depth == 1 {
		return c.discoverJobs()
	}

	if len(c.groups) > 0 {
		groups := make([]group, 0, len(c.groups))
		for _, name := range c.groups {
			groups = append(groups, group{name: name, path: filepath.Join(c.root, name)})
		}
		return groups, nil
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootUnreadable, joberr.IO("scan", c.root, err))
	}

	var groups []group
	for _, e := range entries {
		if match.IsHidden(e.Name()) || !isDir(c.root, e) {
			continue
		}
		groups = append(groups, group{name: e.Name(), path: filepath.Join(c.root, e.Name())})
	}
	return groups, nil
}

// discoverJobs lists the root as the single group of a depth-1 scan and
// returns one task per candidate job directory.
func (c *Crawler) discoverJobs() ([]group, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootUnreadable, joberr.IO("scan", c.root, err))
	}
	c.groupsScanned.Add(1)

	var tasks []group
	for _, e := range entries {
		if !c.matcher.Match(e.Name()) || !isDir(c.root, e) {
			continue
		}
		tasks = append(tasks, group{path: c.root, job: e.Name()})
	}
	return tasks, nil
}

// runGroup builds every job in one group. Panics are converted into a
// group diagnostic so one bad task cannot take down the pool.
func (c *Crawler) runGroup(ctx context.Context, g group) (res groupResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Group task panicked",
				zap.String("group", g.path),
				zap.Any("panic", r))
			path := g.path
			if g.job != "" {
				path = filepath.Join(g.path, g.job)
			}
			res.diagnostics = append(res.diagnostics,
				newDiagnostic(path, g.name, g.job, StageDiscover, SeverityError, fmt.Errorf("panic: %v", r)))
		}
	}()

	if g.job != "" {
		c.buildJob(g, g.job, &res)
		return res
	}

	c.groupsScanned.Add(1)
	entries, err := os.ReadDir(g.path)
	if err != nil {
		c.logger.Warn("Group unreadable", zap.String("group", g.path), zap.Error(err))
		res.diagnostics = append(res.diagnostics,
			newDiagnostic(g.path, g.name, "", StageDiscover, SeverityError, joberr.IO("scan", g.path, err)))
		return res
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return res
		}
		if !c.matcher.Match(e.Name()) || !isDir(g.path, e) {
			continue
		}
		c.buildJob(g, e.Name(), &res)
	}
	return res
}

// buildJob builds the record for g.path/name when it holds a job.
func (c *Crawler) buildJob(g group, name string, res *groupResult) {
	dir := filepath.Join(g.path, name)
	names, err := listNames(dir)
	if err != nil {
		res.diagnostics = append(res.diagnostics,
			newDiagnostic(dir, g.name, name, StageDiscover, SeverityError, joberr.IO("scan", dir, err)))
		return
	}
	if !c.builder.IsJobDir(names) {
		return
	}

	c.jobsFound.Add(1)
	rec, diags := c.build(dir, g.name)
	if rec != nil {
		res.records = append(res.records, *rec)
	}
	res.diagnostics = append(res.diagnostics, diags...)

	for _, d := range diags {
		if d.Severity == SeverityError {
			c.logger.Warn("Job skipped",
				zap.String("job", dir),
				zap.String("stage", d.Stage),
				zap.String("reason", d.Reason))
		}
	}
}

// isDir follows symlinks when deciding whether an entry is a directory.
func isDir(parent string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && info.IsDir()
}

func listNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() || e.Type()&os.ModeSymlink != 0 {
			names = append(names, e.Name())
		}
	}
	return slices.Clip(names), nil
}
