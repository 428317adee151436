package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits the records of one scan.
//
// Implementations must be safe for concurrent use. Every call emits one
// complete record.
type Writer interface {
	WriteJob(ctx context.Context, job *JobRecord) error
	WriteDiagnostic(ctx context.Context, diag *DiagnosticRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close stops further writes. It does not close the destination.
	Close() error
}

// JSONLWriter writes one enveloped JSON object per line.
type JSONLWriter struct {
	scanID string
	root   string

	// now stamps envelopes; replaced in tests.
	now func() time.Time

	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewJSONLWriter returns a writer tagging every record with scanID and
// root.
func NewJSONLWriter(w io.Writer, scanID, root string) *JSONLWriter {
	return &JSONLWriter{
		w:      w,
		scanID: scanID,
		root:   root,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (jw *JSONLWriter) WriteJob(ctx context.Context, job *JobRecord) error {
	return jw.emit(ctx, TypeJob, job)
}

func (jw *JSONLWriter) WriteDiagnostic(ctx context.Context, diag *DiagnosticRecord) error {
	return jw.emit(ctx, TypeDiagnostic, diag)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.emit(ctx, TypeSummary, sum)
}

// Close makes later writes fail with ErrWriterClosed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

// emit encodes the payload before taking the lock; the envelope and the
// write happen under it so the timestamp order matches the line order.
func (jw *JSONLWriter) emit(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	switch {
	case jw.closed:
		return ErrWriterClosed
	case ctx.Err() != nil:
		return ctx.Err()
	}

	line, err := json.Marshal(Record{
		Type:   recordType,
		TS:     jw.now(),
		ScanID: jw.scanID,
		Root:   jw.root,
		Data:   payload,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := writeAll(jw.w, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll retries short writes; a partial line would corrupt the stream.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		switch {
		case err != nil:
			return err
		case n == 0:
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
