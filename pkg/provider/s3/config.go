// Package s3 publishes snapshots to AWS S3 and S3-compatible storage.
package s3

import (
	"errors"
	"net/url"
	"regexp"
)

// DefaultAWSRegion is used for AWS S3 when neither the caller nor the SDK
// resolves a region.
const DefaultAWSRegion = "us-east-1"

// Config selects a bucket and how to reach it.
//
// Without explicit keys the SDK default chain supplies credentials.
// On-cluster stores such as MinIO want Endpoint and ForcePathStyle.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // e.g. http://minio.hpc.local:9000
	Profile  string

	// AccessKeyID and SecretAccessKey go together or not at all.
	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool
}

var bucketName = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// Validate reports every problem with c, joined.
func (c *Config) Validate() error {
	var errs []error
	switch {
	case c.Bucket == "":
		errs = append(errs, &ConfigError{Field: "Bucket", Message: "bucket name is required"})
	case !bucketName.MatchString(c.Bucket):
		errs = append(errs, &ConfigError{Field: "Bucket", Message: "invalid bucket name " + c.Bucket})
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		errs = append(errs, &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "access key id and secret access key must be set together",
		})
	}
	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ConfigError{Field: "Endpoint", Message: "endpoint must be an absolute URL"})
		}
	}
	return errors.Join(errs...)
}

// ConfigError names the field that failed validation.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
