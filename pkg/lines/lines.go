// Package lines reads the head or tail of large text files without loading
// them into memory.
//
// Job artifacts are append-only logs that can grow to gigabytes while a
// simulation runs. FirstN streams from the start and stops early; LastN
// reads fixed-size blocks backward from end-of-file until enough line
// breaks have been seen.
package lines

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/3leaps/simstat/pkg/joberr"
)

// DefaultBlockSize is the block size used by LastN when reading backward.
const DefaultBlockSize = 4096

// FirstN returns up to n+1 leading lines of the file at path.
//
// The extra line mirrors how the job tooling has always sliced file heads:
// a window of "N lines" covers indices 0..N inclusive. Line terminators
// (\n and \r\n) are stripped. Files shorter than the window return every
// available line.
func FirstN(path string, n int) ([]string, error) {
	if n < 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, joberr.IO("first_lines", path, err)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	out := make([]string, 0, n+1)
	for len(out) < n+1 {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			out = append(out, trimEOL(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, joberr.IO("first_lines", path, err)
		}
	}
	return out, nil
}

// LastN returns up to n trailing lines of the file at path.
//
// A terminating newline at end-of-file does not produce an empty last line.
func LastN(path string, n int) ([]string, error) {
	return LastNBlock(path, n, DefaultBlockSize)
}

// LastNBlock is LastN with an explicit read block size.
//
// Memory use is bounded by the size of the returned lines plus one block,
// independent of the file size.
func LastNBlock(path string, n, blockSize int) ([]string, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, joberr.IO("last_lines", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, joberr.IO("last_lines", path, err)
	}
	if n <= 0 || info.Size() == 0 {
		return nil, nil
	}

	var (
		pos             = info.Size()
		data            []byte
		newlines        int
		endsWithNewline bool
		first           = true
	)

	for pos > 0 {
		size := int64(blockSize)
		if size > pos {
			size = pos
		}
		pos -= size

		chunk := make([]byte, size)
		if _, err := f.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, joberr.IO("last_lines", path, err)
		}

		if first {
			endsWithNewline = chunk[len(chunk)-1] == '\n'
			first = false
		}

		newlines += bytes.Count(chunk, []byte{'\n'})
		data = append(chunk, data...)

		separators := newlines
		if endsWithNewline {
			separators--
		}
		// n complete lines are available once n separators precede them.
		if separators >= n {
			break
		}
	}

	text := string(data)
	if endsWithNewline {
		text = text[:len(text)-1]
	}

	all := strings.Split(text, "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	for i := range all {
		all[i] = strings.TrimSuffix(all[i], "\r")
	}
	return all, nil
}

func trimEOL(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
