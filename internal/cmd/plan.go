package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/simstat/internal/config"
	"github.com/3leaps/simstat/internal/observability"
	"github.com/3leaps/simstat/pkg/crawler"
	"github.com/3leaps/simstat/pkg/manifest"
	"github.com/3leaps/simstat/pkg/match"
)

// scanFlags are the flags shared by scan and serve.
type scanFlags struct {
	manifestPath string
	includes     []string
	excludes     []string
	groups       []string
	ignoreCase   bool
	workers      int
	rateLimit    float64
	depth        int
	timezone     string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.manifestPath, "manifest", "m", "", "Monitor manifest (YAML or JSON)")
	fl.StringSliceVarP(&f.includes, "include", "i", nil, "Job name term; a job must match at least one (repeatable)")
	fl.StringSliceVarP(&f.excludes, "exclude", "x", nil, "Job name term; matching jobs are skipped (repeatable)")
	fl.StringSliceVar(&f.groups, "group", nil, "Only scan these top-level directories (repeatable)")
	fl.BoolVar(&f.ignoreCase, "ignore-case", false, "Match terms case-insensitively")
	fl.IntVarP(&f.workers, "workers", "w", 0, "Parallel group scans (default from config: 4)")
	fl.Float64Var(&f.rateLimit, "rate-limit", 0, "Max group scans started per second (0 = unlimited)")
	fl.IntVar(&f.depth, "depth", 0, "2 for root/group/job trees, 1 for root/job trees")
	fl.StringVar(&f.timezone, "timezone", "", "IANA zone job timestamps were written in (default Local)")
}

// buildManifest resolves the scan plan. A --manifest file replaces the
// loaded configuration; explicit flags and the root argument override
// either. The result is validated against the manifest schema.
func buildManifest(cmd *cobra.Command, args []string, f *scanFlags) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	if f.manifestPath != "" {
		loaded, err := manifest.Load(f.manifestPath)
		if err != nil {
			return nil, fmt.Errorf("load manifest %s: %w", f.manifestPath, err)
		}
		m = loaded
	} else {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return nil, err
		}
		m = manifestFromConfig(cfg)
	}

	fl := cmd.Flags()
	if len(args) > 0 {
		m.Root = args[0]
	}
	if fl.Changed("include") {
		m.Match.Includes = f.includes
	}
	if fl.Changed("exclude") {
		m.Match.Excludes = f.excludes
	}
	if fl.Changed("group") {
		m.Scan.Groups = f.groups
	}
	if fl.Changed("ignore-case") {
		m.Match.IgnoreCase = f.ignoreCase
	}
	if fl.Changed("workers") {
		m.Scan.Workers = f.workers
	}
	if fl.Changed("rate-limit") {
		m.Scan.RateLimit = f.rateLimit
	}
	if fl.Changed("depth") {
		m.Scan.Depth = f.depth
	}
	if fl.Changed("timezone") {
		m.Scan.Timezone = f.timezone
	}

	if m.Root != "" {
		if abs, err := filepath.Abs(m.Root); err == nil {
			m.Root = abs
		}
	}

	m.ApplyDefaults()
	if err := manifest.Validate(m); err != nil {
		return nil, err
	}
	if _, err := m.CrawlerConfig(); err != nil {
		return nil, err
	}
	return m, nil
}

// manifestFromConfig expresses the runtime configuration as a manifest.
func manifestFromConfig(cfg *config.Config) *manifest.Manifest {
	return &manifest.Manifest{
		Version: manifest.DefaultVersion,
		Root:    cfg.Root,
		Scan: manifest.ScanConfig{
			Depth:     cfg.Depth,
			Workers:   cfg.Workers,
			RateLimit: cfg.RateLimit,
			Timezone:  cfg.Timezone,
		},
		Match: manifest.MatchConfig{
			Includes:   cfg.Terms.Include,
			Excludes:   cfg.Terms.Exclude,
			IgnoreCase: cfg.Terms.IgnoreCase,
		},
		Files: manifest.FilesConfig{
			Config:   cfg.Files.Config,
			Progress: cfg.Files.Progress,
			Output:   cfg.Files.OutputRegex,
		},
		Publish: manifest.PublishConfig{
			Destination:    cfg.Publish.Destination,
			Region:         cfg.Publish.Region,
			Endpoint:       cfg.Publish.Endpoint,
			Profile:        cfg.Publish.Profile,
			ForcePathStyle: cfg.Publish.ForcePathStyle,
		},
	}
}

// newCrawler builds a crawler for m.
func newCrawler(m *manifest.Manifest) (*crawler.Crawler, error) {
	matcher, err := match.New(m.MatcherConfig())
	if err != nil {
		return nil, err
	}
	cfg, err := m.CrawlerConfig()
	if err != nil {
		return nil, err
	}

	c := crawler.New(m.Root, matcher, cfg).
		WithLogger(observability.CLILogger.Named("crawler"))
	if len(m.Scan.Groups) > 0 {
		c = c.WithGroups(m.Scan.Groups)
	}

	observability.CLILogger.Debug("Scan plan",
		zap.String("root", m.Root),
		zap.Int("depth", cfg.Depth),
		zap.Int("workers", cfg.Concurrency),
		zap.Float64("rate_limit", cfg.RateLimit),
		zap.Strings("includes", matcher.IncludeTerms()),
		zap.Strings("excludes", matcher.ExcludeTerms()),
		zap.String("timezone", cfg.Location.String()))
	return c, nil
}
