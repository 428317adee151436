package schedout

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/simstat/pkg/joberr"
)

const cancelLine = "slurmstepd: error: *** JOB 123457 ON compute-0-12 CANCELLED AT 2024-03-02T10:15:00 ***"

func touch(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "lattice.o123455", "")
	touch(t, dir, "lattice.o123457", "")
	touch(t, dir, "lattice.o99", "")
	touch(t, dir, "lattice.e123458", "")
	touch(t, dir, "lattice.o123458.bak", "")

	path, code, err := Locate(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lattice.o123457"), path)
	assert.Equal(t, int64(123457), code)
}

func TestLocate_NumericNotLexicographic(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "run.o99999", "")
	touch(t, dir, "run.o100000", "")

	_, code, err := Locate(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), code)
}

func TestLocate_CustomPattern(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "slurm-4242.out", "")

	path, code, err := Locate(dir, regexp.MustCompile(`^slurm-(\d+)\.out$`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "slurm-4242.out"), path)
	assert.Equal(t, int64(4242), code)
}

func TestLocate_Errors(t *testing.T) {
	t.Run("no output file", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "velodyne.card", "")
		_, _, err := Locate(dir, nil)
		require.Error(t, err)
		assert.True(t, joberr.IsExtraction(err))
	})

	t.Run("missing directory", func(t *testing.T) {
		_, _, err := Locate(filepath.Join(t.TempDir(), "gone"), nil)
		require.Error(t, err)
		assert.True(t, joberr.IsIO(err))
	})
}

func TestClassifyLines(t *testing.T) {
	canceledAt := time.Date(2024, 3, 2, 10, 15, 0, 0, time.UTC)
	timeLimitAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		lines      []string
		completed  bool
		canceled   bool
		canceledAt *time.Time
		raw        string
	}{
		{
			name:  "running",
			lines: []string{"cycle 100", "cycle 200"},
		},
		{
			name:      "completed",
			lines:     []string{"cycle 400", "Total Computation Time: 4521.3", "done"},
			completed: true,
		},
		{
			name:      "completed with exponent",
			lines:     []string{"  Total Computation Time:   4.5213e+03 s"},
			completed: true,
		},
		{
			name:  "completion marker without number",
			lines: []string{"Total Computation Time: n/a"},
		},
		{
			name:  "number after a non-numeric first token",
			lines: []string{"Total Computation Time: n/a (0 cycles)"},
		},
		{
			name:       "canceled",
			lines:      []string{"cycle 300", cancelLine},
			canceled:   true,
			canceledAt: &canceledAt,
			raw:        "2024-03-02T10:15:00",
		},
		{
			name:       "both markers",
			lines:      []string{"Total Computation Time: 4521.3", cancelLine},
			completed:  true,
			canceled:   true,
			canceledAt: &canceledAt,
			raw:        "2024-03-02T10:15:00",
		},
		{
			name:       "canceled due to time limit",
			lines:      []string{"slurmstepd: error: *** JOB 123456 ON compute-1-2 CANCELLED AT 2024-03-01T09:00:00 DUE TO TIME LIMIT ***"},
			canceled:   true,
			canceledAt: &timeLimitAt,
			raw:        "2024-03-01T09:00:00 DUE TO TIME LIMIT",
		},
		{
			name:     "unparseable cancellation time",
			lines:    []string{"slurmstepd: error: *** JOB 1 ON compute-1 CANCELLED AT sometime ***"},
			canceled: true,
			raw:      "sometime",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyLines(tt.lines, time.UTC)
			assert.Equal(t, tt.completed, c.Completed)
			assert.Equal(t, tt.canceled, c.Canceled)
			assert.Equal(t, tt.canceledAt, c.CanceledAt)
			assert.Equal(t, tt.raw, c.CancelRaw)
		})
	}
}

func TestClassify_OnlyInspectsTail(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("Total Computation Time: 12.0\n")
	for i := 0; i < TailLines; i++ {
		b.WriteString("restart output\n")
	}
	path := touch(t, dir, "job.o1", b.String())

	c, err := Classify(path, time.UTC)
	require.NoError(t, err)
	assert.False(t, c.Completed)
}

func TestClassify_MissingFile(t *testing.T) {
	_, err := Classify(filepath.Join(t.TempDir(), "job.o1"), nil)
	require.Error(t, err)
	assert.True(t, joberr.IsIO(err))
}
