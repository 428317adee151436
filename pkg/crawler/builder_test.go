package crawler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/simstat/pkg/card"
	"github.com/3leaps/simstat/pkg/jobstate"
)

func TestBuilder_IsJobDir(t *testing.T) {
	b := NewBuilder(Config{})

	tests := []struct {
		name  string
		files []string
		want  bool
	}{
		{"card present", []string{"velodyne.card", "run.o12"}, true},
		{"card with suffix", []string{"velodyne.card.bak"}, true},
		{"no card", []string{"run.o12", "status.timestep"}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.IsJobDir(tt.files))
		})
	}
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder(Config{})

	t.Run("canceled job", func(t *testing.T) {
		dir := writeJob(t, t.TempDir(), "g", "job", jobFixture{code: 77})
		writeFile(t, filepath.Join(dir, "job.o77"),
			"cycle 400\nslurmstepd: error: *** JOB 77 ON compute-1 CANCELLED AT 2024-03-01T09:00:00 ***\n")

		rec, diags := b.Build(dir, "g")
		require.NotNil(t, rec)
		assert.Empty(t, diags)
		assert.Equal(t, jobstate.StatusCanceled, rec.Status)
		assert.Equal(t, jobstate.RemainingCanceled, rec.Remaining.State)
		require.NotNil(t, rec.EndTime)
		assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), *rec.EndTime)
	})

	t.Run("unparseable cancel time", func(t *testing.T) {
		dir := writeJob(t, t.TempDir(), "g", "job", jobFixture{code: 78})
		writeFile(t, filepath.Join(dir, "job.o78"),
			"slurmstepd: error: *** JOB 78 ON compute-1 CANCELLED AT soon ***\n")

		rec, diags := b.Build(dir, "g")
		require.NotNil(t, rec)
		assert.Equal(t, jobstate.StatusCanceled, rec.Status)
		require.Len(t, diags, 1)
		assert.Equal(t, StageClassify, diags[0].Stage)
		assert.Equal(t, SeverityWarning, diags[0].Severity)
	})

	t.Run("missing card", func(t *testing.T) {
		dir := writeJob(t, t.TempDir(), "g", "job", jobFixture{noCard: true})

		rec, diags := b.Build(dir, "g")
		require.NotNil(t, rec)
		assert.True(t, rec.Partial)
		assert.Equal(t, card.DescriptionPlaceholder, rec.Description)
		assert.Nil(t, rec.Percent)
		assert.Equal(t, jobstate.RemainingUnknown, rec.Remaining.State)

		require.Len(t, diags, 2)
		for _, d := range diags {
			assert.Equal(t, StageConfig, d.Stage)
			assert.Equal(t, SeverityWarning, d.Severity)
		}
	})

	t.Run("empty progress log", func(t *testing.T) {
		dir := writeJob(t, t.TempDir(), "g", "job", jobFixture{})
		require.NoError(t, os.WriteFile(filepath.Join(dir, "run.status.timestep"), nil, 0o644))

		rec, diags := b.Build(dir, "g")
		assert.Nil(t, rec)
		require.Len(t, diags, 1)
		assert.Equal(t, SeverityError, diags[0].Severity)
		assert.Equal(t, StageProgress, diags[0].Stage)
	})
}
