package provider

import (
	"errors"
	"strings"
)

// Failure classes shared by every provider. Providers wrap them in a
// ProviderError; callers test with errors.Is or the Is* helpers.
var (
	ErrNotFound            = errors.New("object not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrThrottled           = errors.New("request throttled")
)

// ProviderError records which operation against which location failed.
type ProviderError struct {
	Op       string
	Provider ProviderType
	// Bucket is the bucket, or the base directory for file providers.
	Bucket string
	Key    string
	Err    error
}

// Error renders "<provider> <op>: <bucket>/<key>: <cause>", dropping the
// location parts that are empty.
func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider.String())
	b.WriteByte(' ')
	b.WriteString(e.Op)
	if loc := location(e.Bucket, e.Key); loc != "" {
		b.WriteString(": ")
		b.WriteString(loc)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("unknown error")
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func location(bucket, key string) string {
	switch {
	case bucket != "" && key != "":
		return bucket + "/" + key
	case bucket != "":
		return bucket
	default:
		return key
	}
}

// IsAccessDenied reports a permission or credential rejection.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrInvalidCredentials)
}

// IsNotFound reports a missing object or bucket.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound)
}

// IsTransient reports failures a later publish may not hit.
func IsTransient(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrProviderUnavailable)
}
