package progress

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/simstat/pkg/joberr"
)

const header = "date time cycle simtime dt\n"

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "run.status.timestep.0001", header)
	write(t, dir, "run.status.timestep.0010", header)
	write(t, dir, "run.status.timestep.0002", header)
	write(t, dir, "notes.txt", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "zz.status.timestep.dir"), 0o755))

	path, err := Locate(dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run.status.timestep.0010"), path)
}

func TestLocate_NoMatch(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "velodyne.card", "")

	_, err := Locate(dir, DefaultPattern)
	require.Error(t, err)
	assert.True(t, joberr.IsParse(err))
}

func TestLocate_MissingDir(t *testing.T) {
	_, err := Locate(filepath.Join(t.TempDir(), "gone"), DefaultPattern)
	require.Error(t, err)
	assert.True(t, joberr.IsIO(err))
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "status.timestep", header+
		"2024/03/01, 08:00:00, 1, 0.0, 1e-6\n"+
		"2024/03/01, 08:10:00, 200, 12.5, 1e-6\n"+
		"2024/03/01, 08:16:40, 400, 25.0, 1e-6\n")

	s, err := Read(path, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, path, s.File)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), s.Start)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 16, 40, 0, time.UTC), s.Current)
	assert.Equal(t, 25.0, s.Timestep)
	assert.Equal(t, 1000*time.Second, s.Elapsed())
}

func TestRead_SingleDataRow(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "status.timestep", header+"2024/03/01 08:00:00 1 0.5\n")

	s, err := Read(path, nil)
	require.NoError(t, err)
	assert.Equal(t, s.Start, s.Current)
	assert.Equal(t, 0.5, s.Timestep)
	assert.GreaterOrEqual(t, s.Elapsed(), time.Duration(0))
}

func TestRead_TrailingBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "status.timestep", header+
		"2024/03/01 08:00:00 1 0.0\n"+
		"2024/03/01 09:00:00 2 3.5\n\n\n")

	s, err := Read(path, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 3.5, s.Timestep)
	assert.Equal(t, time.Hour, s.Elapsed())
}

func TestRead_CommaGroupedTimestep(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "status.timestep", header+
		"2024/03/01 08:00:00 1 0\n"+
		"2024/03/01 09:00:00 2 1,250.5\n")

	s, err := Read(path, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 1250.5, s.Timestep)
}

func TestRead_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"header only", header},
		{"empty", ""},
		{"bad start timestamp", header + "yesterday noon 1 0.0\n2024/03/01 09:00:00 2 1.0\n"},
		{"bad current timestamp", header + "2024/03/01 08:00:00 1 0.0\n2024-03-01 09:00:00 2 1.0\n"},
		{"missing simulated time", header + "2024/03/01 08:00:00 1\n"},
		{"non numeric simulated time", header + "2024/03/01 08:00:00 1 abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(t, t.TempDir(), "status.timestep", tt.content)
			_, err := Read(path, time.UTC)
			require.Error(t, err)
			assert.True(t, joberr.IsParse(err), "got %v", err)
		})
	}
}

func TestSampleDir(t *testing.T) {
	loc := time.FixedZone("site", -5*3600)
	dir := t.TempDir()
	write(t, dir, "a.status.timestep.01", header+"2020/01/01 00:00:00 1 0\n2020/01/01 00:00:10 1 1\n")
	write(t, dir, "a.status.timestep.02", header+"2024/03/01 08:00:00 1 0\n2024/03/01 08:00:30 1 2\n")

	s, err := SampleDir(dir, Options{Location: loc})
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.Timestep)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, loc), s.Start)
}
