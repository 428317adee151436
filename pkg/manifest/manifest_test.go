package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifestYAML() string {
	return `version: "1.0"
root: /scratch/sims
`
}

func validManifestJSON() string {
	return `{
  "version": "1.0",
  "root": "/scratch/sims"
}`
}

func fullManifestYAML() string {
	return `$schema: https://schemas.3leaps.dev/simstat/v1.0.0/monitor-manifest.schema.json
version: "1.0"
root: /scratch/sims
scan:
  depth: 1
  workers: 8
  rate_limit: 2.5
  groups: [groupA, groupB]
  timezone: America/Denver
match:
  includes: [lattice, "beam-*"]
  excludes: [old]
  include_hidden: true
  ignore_case: true
files:
  config: deck.card
  progress: progress.log
  output: '\.out\.(\d+)$'
report:
  format: table
  sort: remaining
  reverse: true
publish:
  destination: s3://sim-dashboards/status/latest.jsonl
  region: us-west-2
  endpoint: http://localhost:9000
  profile: hpc
  force_path_style: true
`
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		filename    string
		wantErr     bool
		errContains string
		validate    func(t *testing.T, m *Manifest)
	}{
		{
			name:     "minimal YAML manifest",
			content:  validManifestYAML(),
			filename: "monitor.yaml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "1.0", m.Version)
				assert.Equal(t, "/scratch/sims", m.Root)
				assert.Equal(t, DefaultDepth, m.Scan.Depth)
				assert.Equal(t, DefaultWorkers, m.Scan.Workers)
				assert.Equal(t, DefaultTimezone, m.Scan.Timezone)
				assert.Equal(t, "velodyne.card", m.Files.Config)
				assert.Equal(t, "status.timestep", m.Files.Progress)
				assert.Equal(t, DefaultOutputRegex, m.Files.Output)
				assert.Equal(t, DefaultFormat, m.Report.Format)
				assert.Equal(t, DefaultSort, m.Report.Sort)
				assert.Equal(t, DefaultDestination, m.Publish.Destination)
			},
		},
		{
			name:     "minimal JSON manifest",
			content:  validManifestJSON(),
			filename: "monitor.json",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "/scratch/sims", m.Root)
			},
		},
		{
			name:     "full manifest",
			content:  fullManifestYAML(),
			filename: "full.yml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, 1, m.Scan.Depth)
				assert.Equal(t, 8, m.Scan.Workers)
				assert.Equal(t, 2.5, m.Scan.RateLimit)
				assert.Equal(t, []string{"groupA", "groupB"}, m.Scan.Groups)
				assert.Equal(t, []string{"lattice", "beam-*"}, m.Match.Includes)
				assert.True(t, m.Match.IgnoreCase)
				assert.Equal(t, "deck.card", m.Files.Config)
				assert.Equal(t, "table", m.Report.Format)
				assert.True(t, m.Report.Reverse)
				assert.Equal(t, "s3://sim-dashboards/status/latest.jsonl", m.Publish.Destination)
				assert.True(t, m.Publish.ForcePathStyle)
			},
		},
		{
			name:     "missing root",
			content:  `version: "1.0"`,
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "wrong version",
			content:  "version: \"2.0\"\nroot: /x\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "unknown top-level field",
			content:  validManifestYAML() + "bogus: true\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "unknown nested field",
			content:  validManifestYAML() + "scan:\n  threads: 4\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "workers out of range",
			content:  validManifestYAML() + "scan:\n  workers: 0\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "bad format",
			content:  validManifestYAML() + "report:\n  format: csv\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:     "bad destination",
			content:  validManifestYAML() + "publish:\n  destination: ftp://host/file\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:        "output pattern without capture group",
			content:     validManifestYAML() + "files:\n  output: '\\.o\\d+$'\n",
			filename:    "m.yaml",
			wantErr:     true,
			errContains: "capture group",
		},
		{
			name:        "invalid output pattern",
			content:     validManifestYAML() + "files:\n  output: '(['\n",
			filename:    "m.yaml",
			wantErr:     true,
			errContains: "files.output",
		},
		{
			name:        "unknown timezone",
			content:     validManifestYAML() + "scan:\n  timezone: Mars/Olympus\n",
			filename:    "m.yaml",
			wantErr:     true,
			errContains: "scan.timezone",
		},
		{
			name:     "invalid YAML",
			content:  "version: [\n",
			filename: "m.yaml",
			wantErr:  true,
		},
		{
			name:        "empty file",
			content:     "",
			filename:    "m.yaml",
			wantErr:     true,
			errContains: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.filename)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			m, err := Load(path)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, m)
			}
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := Load("/nonexistent/path/monitor.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("permission denied", func(t *testing.T) {
		if os.Getuid() == 0 {
			t.Skip("skipping permission test when running as root")
		}

		path := filepath.Join(t.TempDir(), "noperm.yaml")
		require.NoError(t, os.WriteFile(path, []byte(validManifestYAML()), 0o000))
		t.Cleanup(func() {
			_ = os.Chmod(path, 0o644)
		})

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission")
	})
}

func TestLoadFromBytes(t *testing.T) {
	t.Run("auto-detect YAML", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestYAML()), "")
		require.NoError(t, err)
		assert.Equal(t, "/scratch/sims", m.Root)
	})

	t.Run("auto-detect JSON", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestJSON()), "")
		require.NoError(t, err)
		assert.Equal(t, "/scratch/sims", m.Root)
	})

	t.Run("unknown extension tries both", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestYAML()), "monitor.txt")
		require.NoError(t, err)
		assert.Equal(t, "/scratch/sims", m.Root)
	})
}

func TestLoadFromReader(t *testing.T) {
	m, err := LoadFromReader(strings.NewReader(validManifestYAML()), "monitor.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/scratch/sims", m.Root)
}

func TestApplyDefaults(t *testing.T) {
	t.Run("preserves explicit values", func(t *testing.T) {
		m := &Manifest{
			Version: "1.0",
			Root:    "/x",
			Scan:    ScanConfig{Depth: 1, Workers: 16, Timezone: "UTC"},
			Report:  ReportConfig{Format: "json", Sort: "percent"},
			Publish: PublishConfig{Destination: "file:/tmp/out.jsonl"},
		}

		m.ApplyDefaults()

		assert.Equal(t, 1, m.Scan.Depth)
		assert.Equal(t, 16, m.Scan.Workers)
		assert.Equal(t, "UTC", m.Scan.Timezone)
		assert.Equal(t, "json", m.Report.Format)
		assert.Equal(t, "percent", m.Report.Sort)
		assert.Equal(t, "file:/tmp/out.jsonl", m.Publish.Destination)
	})

	t.Run("zero rate limit is valid", func(t *testing.T) {
		m := &Manifest{}
		m.ApplyDefaults()
		assert.Equal(t, 0.0, m.Scan.RateLimit)
	})
}

func TestCrawlerConfig(t *testing.T) {
	m, err := LoadFromBytes([]byte(fullManifestYAML()), "full.yaml")
	require.NoError(t, err)

	cfg, err := m.CrawlerConfig()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Depth)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.Equal(t, "deck.card", cfg.ConfigFile)
	assert.Equal(t, "progress.log", cfg.ProgressPattern)
	assert.Equal(t, []string{"run.out.77", "77"}, cfg.OutputPattern.FindStringSubmatch("run.out.77"))

	denver, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)
	assert.Equal(t, denver.String(), cfg.Location.String())

	mc := m.MatcherConfig()
	assert.Equal(t, []string{"lattice", "beam-*"}, mc.Includes)
	assert.Equal(t, []string{"old"}, mc.Excludes)
	assert.True(t, mc.IncludeHidden)
	assert.True(t, mc.IgnoreCase)
}

func TestValidationErrors(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{{Path: "/version", Message: "required"}}
		assert.Contains(t, errs.Error(), "/version")
		assert.Contains(t, errs.Error(), "required")
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Path: "/version", Message: "required"},
			{Path: "/scan/workers", Message: "must be >= 1"},
		}
		errStr := errs.Error()
		assert.Contains(t, errStr, "2 errors")
		assert.Contains(t, errStr, "/scan/workers")
	})

	t.Run("empty path", func(t *testing.T) {
		errs := ValidationErrors{{Message: "root error"}}
		assert.Equal(t, "root error", errs.Error())
	})

	t.Run("unwrap returns ErrValidationFailed", func(t *testing.T) {
		errs := ValidationErrors{{Path: "/x", Message: "bad"}}
		assert.True(t, errors.Is(errs, ErrValidationFailed))
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid manifest passes", func(t *testing.T) {
		m := &Manifest{Version: "1.0", Root: "/scratch/sims"}
		m.ApplyDefaults()
		assert.NoError(t, Validate(m))
	})

	t.Run("invalid manifest fails", func(t *testing.T) {
		m := &Manifest{Version: "1.0", Root: "/x", Report: ReportConfig{Format: "xml"}}
		err := Validate(m)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidationFailed))
	})
}

func TestValidate_EmbeddedSchema(t *testing.T) {
	// Validation must not depend on the working directory.
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() {
		_ = os.Chdir(originalDir)
	})

	m := &Manifest{Version: "1.0", Root: "/scratch/sims"}
	assert.NoError(t, Validate(m))
}

func TestLoadFromBytes_ExpandsEnv(t *testing.T) {
	t.Setenv("SIMSTAT_TEST_SCRATCH", "/lustre/proj42")

	m, err := LoadFromBytes([]byte(`version: "1.0"
root: ${SIMSTAT_TEST_SCRATCH}/sims
publish:
  destination: file:${SIMSTAT_TEST_SCRATCH}/www/status.json
files:
  output: '\.o(\d+)$'
`), "monitor.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/lustre/proj42/sims", m.Root)
	assert.Equal(t, "file:/lustre/proj42/www/status.json", m.Publish.Destination)
	assert.Equal(t, `\.o(\d+)$`, m.Files.Output)
}

func TestLoadFromBytes_StrictJSON(t *testing.T) {
	_, err := LoadFromBytes([]byte("version: \"1.0\"\nroot: /x\n"), "monitor.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}
