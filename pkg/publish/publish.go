// Package publish delivers rendered snapshots to their destination.
//
// A destination is one of:
//
//	stdout              write to the process's standard output
//	file:<path>         atomically replace a local file
//	s3://bucket/key     upload to an S3 (or S3-compatible) bucket
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/simstat/pkg/provider"
	"github.com/3leaps/simstat/pkg/provider/file"
	"github.com/3leaps/simstat/pkg/provider/s3"
)

// Kind identifies the destination type.
type Kind string

const (
	KindStdout Kind = "stdout"
	KindFile   Kind = "file"
	KindS3     Kind = "s3"
)

// ErrInvalidDestination is returned for destinations that cannot be parsed.
var ErrInvalidDestination = errors.New("invalid destination")

// Destination is a parsed publish target.
type Destination struct {
	Kind Kind

	// Dir and Key locate file destinations (Dir is the parent directory).
	// For s3 destinations Dir is the bucket.
	Dir string
	Key string
}

// String returns the destination in its canonical form.
func (d Destination) String() string {
	switch d.Kind {
	case KindFile:
		return "file:" + filepath.Join(d.Dir, d.Key)
	case KindS3:
		return "s3://" + d.Dir + "/" + d.Key
	default:
		return string(KindStdout)
	}
}

// ParseDestination parses a destination string. Empty means stdout.
func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "" || raw == string(KindStdout) || raw == "-":
		return Destination{Kind: KindStdout}, nil

	case strings.HasPrefix(raw, "file:"):
		path := strings.TrimPrefix(raw, "file:")
		if path == "" {
			return Destination{}, fmt.Errorf("%w: %q: empty file path", ErrInvalidDestination, raw)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return Destination{}, fmt.Errorf("%w: %q: %w", ErrInvalidDestination, raw, err)
		}
		if strings.HasSuffix(path, "/") {
			return Destination{}, fmt.Errorf("%w: %q: path is a directory", ErrInvalidDestination, raw)
		}
		return Destination{Kind: KindFile, Dir: filepath.Dir(abs), Key: filepath.Base(abs)}, nil

	case strings.HasPrefix(raw, "s3://"):
		rest := strings.TrimPrefix(raw, "s3://")
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
			return Destination{}, fmt.Errorf("%w: %q: expected s3://bucket/key", ErrInvalidDestination, raw)
		}
		return Destination{Kind: KindS3, Dir: bucket, Key: key}, nil
	}

	return Destination{}, fmt.Errorf("%w: %q: expected stdout, file:<path> or s3://bucket/key", ErrInvalidDestination, raw)
}

// Options carries connection settings for s3 destinations.
type Options struct {
	Region         string
	Endpoint       string
	Profile        string
	ForcePathStyle bool

	// Stdout replaces os.Stdout for stdout destinations.
	Stdout io.Writer
}

// Publisher writes snapshots to one destination.
type Publisher struct {
	dest   Destination
	stdout io.Writer
	putter provider.ObjectPutter
}

// New opens a publisher for dest. S3 destinations load AWS configuration
// eagerly so credential problems surface before the first scan.
func New(ctx context.Context, dest Destination, opts Options) (*Publisher, error) {
	p := &Publisher{dest: dest, stdout: opts.Stdout}
	if p.stdout == nil {
		p.stdout = os.Stdout
	}

	switch dest.Kind {
	case KindStdout:
	case KindFile:
		fp, err := file.New(file.Config{BaseDir: dest.Dir})
		if err != nil {
			return nil, err
		}
		p.putter = fp
	case KindS3:
		sp, err := s3.New(ctx, s3.Config{
			Bucket:   dest.Dir,
			Region:   opts.Region,
			Endpoint: opts.Endpoint,
			Profile:  opts.Profile,
			// S3-compatible services (MinIO, moto) require path-style URLs.
			ForcePathStyle: opts.ForcePathStyle || opts.Endpoint != "",
		})
		if err != nil {
			return nil, err
		}
		p.putter = sp
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDestination, dest.Kind)
	}
	return p, nil
}

// Destination returns the publisher's target.
func (p *Publisher) Destination() Destination {
	return p.dest
}

// Publish writes data as one object, replacing any previous snapshot.
func (p *Publisher) Publish(ctx context.Context, data []byte, contentType string) error {
	if p.putter == nil {
		_, err := p.stdout.Write(data)
		return err
	}
	return p.putter.PutObject(ctx, provider.Object{
		Key:         p.dest.Key,
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: contentType,
	})
}

// CheckHealth reports whether the destination is reachable.
func (p *Publisher) CheckHealth(ctx context.Context) error {
	if hc, ok := p.putter.(provider.HealthChecker); ok {
		return hc.CheckHealth(ctx)
	}
	return nil
}

// Close releases the underlying provider.
func (p *Publisher) Close() error {
	if p.putter == nil {
		return nil
	}
	return p.putter.Close()
}
