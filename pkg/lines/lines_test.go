package lines

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/simstat/pkg/joberr"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func numbered(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

func TestFirstN(t *testing.T) {
	tests := []struct {
		name    string
		content string
		n       int
		want    []string
	}{
		{"window is n plus one", numbered(10), 3, []string{"line 1", "line 2", "line 3", "line 4"}},
		{"short file returns all", numbered(2), 25, []string{"line 1", "line 2"}},
		{"no trailing newline", "a\nb", 5, []string{"a", "b"}},
		{"crlf endings", "a\r\nb\r\n", 5, []string{"a", "b"}},
		{"empty file", "", 5, []string{}},
		{"zero keeps one line", numbered(3), 0, []string{"line 1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FirstN(writeFile(t, tt.content), tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLastN(t *testing.T) {
	tests := []struct {
		name    string
		content string
		n       int
		want    []string
	}{
		{"tail of long file", numbered(100), 3, []string{"line 98", "line 99", "line 100"}},
		{"short file returns all", numbered(2), 15, []string{"line 1", "line 2"}},
		{"no trailing newline", "a\nb\nc", 2, []string{"b", "c"}},
		{"crlf endings", "a\r\nb\r\n", 1, []string{"b"}},
		{"single line without newline", "only", 15, []string{"only"}},
		{"blank last line is kept", "a\n\n", 2, []string{"a", ""}},
		{"empty file", "", 5, nil},
		{"zero lines", numbered(5), 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LastN(writeFile(t, tt.content), tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLastNBlock_SmallBlocksMatchLargeBlocks(t *testing.T) {
	path := writeFile(t, numbered(500))

	want, err := LastNBlock(path, 15, 1<<20)
	require.NoError(t, err)

	for _, size := range []int{1, 2, 7, 64, 4096} {
		got, err := LastNBlock(path, 15, size)
		require.NoError(t, err)
		assert.Equal(t, want, got, "block size %d", size)
	}
	assert.Equal(t, "line 486", want[0])
	assert.Equal(t, "line 500", want[14])
}

func TestLastNBlock_LongLineSpansBlocks(t *testing.T) {
	long := strings.Repeat("x", 10000)
	path := writeFile(t, "head\n"+long+"\ntail\n")

	got, err := LastNBlock(path, 2, 128)
	require.NoError(t, err)
	assert.Equal(t, []string{long, "tail"}, got)
}

func TestMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	_, err := FirstN(missing, 5)
	require.Error(t, err)
	assert.True(t, joberr.IsIO(err))

	_, err = LastN(missing, 5)
	require.Error(t, err)
	assert.True(t, joberr.IsIO(err))
}
