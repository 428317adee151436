// Package provider defines the object stores a status snapshot can be
// published to.
//
// Providers implement a deliberately small write surface: put one object,
// check reachability, release resources. Authentication uses SDK default
// credential chains.
package provider

import (
	"context"
	"io"
)

// Object is one publishable payload.
type Object struct {
	// Key is the object key (path) within the store.
	Key string

	// Body is the content. Size must match the bytes Body yields.
	Body io.Reader
	Size int64

	// ContentType is the MIME type recorded with the object, if supported.
	ContentType string
}

// ObjectPutter creates or overwrites objects.
//
// Implementations must make a put visible all at once: readers see either
// the previous object or the new one.
type ObjectPutter interface {
	PutObject(ctx context.Context, obj Object) error

	// Close releases any resources held by the provider.
	Close() error
}

// HealthChecker reports whether the store is reachable and writable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// ProviderType identifies a storage provider.
type ProviderType string

const (
	// ProviderFile represents a local or shared filesystem directory.
	ProviderFile ProviderType = "file"

	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
