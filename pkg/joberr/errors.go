// Package joberr defines the error taxonomy shared by the job inspection
// packages.
//
// Every failure raised while reading a job directory is classified as one
// of three kinds:
//   - ErrIO: a file is missing or unreadable
//   - ErrExtraction: an expected marker or pattern is absent
//   - ErrParse: a numeric or timestamp field is malformed
//
// Callers classify with errors.Is (or the Is* helpers) and never need to
// inspect error strings.
package joberr

import (
	"errors"
	"fmt"
)

// Sentinel errors for job inspection.
var (
	// ErrIO indicates a file is missing or cannot be read.
	ErrIO = errors.New("io error")

	// ErrExtraction indicates an expected marker was not found.
	ErrExtraction = errors.New("extraction error")

	// ErrParse indicates a field could not be parsed.
	ErrParse = errors.New("parse error")
)

// Kind names used in diagnostics.
const (
	KindIO         = "io"
	KindExtraction = "extraction"
	KindParse      = "parse"
	KindInternal   = "internal"
)

// Error wraps a classified failure with the operation and file involved.
type Error struct {
	// Op is the operation that failed (e.g., "description", "progress").
	Op string

	// Path is the file or directory involved, if any.
	Path string

	// Kind is one of ErrIO, ErrExtraction or ErrParse.
	Kind error

	// Err is the underlying cause. May be nil when Kind says it all.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IO returns an ErrIO-classified error.
func IO(op, path string, err error) error {
	return &Error{Op: op, Path: path, Kind: ErrIO, Err: err}
}

// Extraction returns an ErrExtraction-classified error.
func Extraction(op, path, format string, args ...any) error {
	return &Error{Op: op, Path: path, Kind: ErrExtraction, Err: fmt.Errorf(format, args...)}
}

// Parse returns an ErrParse-classified error.
func Parse(op, path, format string, args ...any) error {
	return &Error{Op: op, Path: path, Kind: ErrParse, Err: fmt.Errorf(format, args...)}
}

// IsIO returns true if the error is an IO failure.
func IsIO(err error) bool {
	return errors.Is(err, ErrIO)
}

// IsExtraction returns true if the error is an extraction failure.
func IsExtraction(err error) bool {
	return errors.Is(err, ErrExtraction)
}

// IsParse returns true if the error is a parse failure.
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// KindOf maps an error onto its diagnostic kind name.
// Unclassified errors report KindInternal.
func KindOf(err error) string {
	switch {
	case IsIO(err):
		return KindIO
	case IsExtraction(err):
		return KindExtraction
	case IsParse(err):
		return KindParse
	default:
		return KindInternal
	}
}
