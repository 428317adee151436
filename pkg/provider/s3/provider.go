package s3

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/simstat/pkg/provider"
)

// snapshotCacheControl keeps dashboards and CDNs from serving a stale
// status document.
const snapshotCacheControl = "no-cache, max-age=0"

type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Provider writes snapshots into one bucket.
type Provider struct {
	client api
	bucket string
}

var (
	_ provider.ObjectPutter  = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)

// New validates cfg and builds an S3 client. No request is sent; use
// CheckHealth to probe the bucket.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, &provider.ProviderError{Op: "LoadConfig", Provider: provider.ProviderS3, Bucket: cfg.Bucket, Err: err}
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Provider{client: client, bucket: cfg.Bucket}, nil
}

func loadOptions(cfg Config) []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	return opts
}

// resolveRegion falls back to DefaultAWSRegion for AWS itself. Custom
// endpoints stay regionless unless the SDK found one.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion == "" && endpoint == "" {
		return DefaultAWSRegion
	}
	return sdkRegion
}

// PutObject replaces the object at obj.Key. S3 puts are atomic, so
// readers never observe a partial snapshot.
func (p *Provider) PutObject(ctx context.Context, obj provider.Object) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(obj.Key),
		Body:          obj.Body,
		ContentLength: aws.Int64(obj.Size),
		CacheControl:  aws.String(snapshotCacheControl),
	}
	if obj.ContentType != "" {
		in.ContentType = aws.String(obj.ContentType)
	}
	if _, err := p.client.PutObject(ctx, in); err != nil {
		return p.classify("PutObject", obj.Key, err)
	}
	return nil
}

// CheckHealth sends HeadBucket, which needs the same credentials a put
// does.
func (p *Provider) CheckHealth(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err != nil {
		return p.classify("HeadBucket", "", err)
	}
	return nil
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }

var codeSentinels = map[string]error{
	"NoSuchKey":             provider.ErrNotFound,
	"NotFound":              provider.ErrNotFound,
	"NoSuchBucket":          provider.ErrBucketNotFound,
	"AccessDenied":          provider.ErrAccessDenied,
	"Forbidden":             provider.ErrAccessDenied,
	"InvalidAccessKeyId":    provider.ErrInvalidCredentials,
	"SignatureDoesNotMatch": provider.ErrInvalidCredentials,
	"ExpiredToken":          provider.ErrInvalidCredentials,
	"SlowDown":              provider.ErrThrottled,
	"Throttling":            provider.ErrThrottled,
	"RequestLimitExceeded":  provider.ErrThrottled,
	"ServiceUnavailable":    provider.ErrProviderUnavailable,
	"InternalError":         provider.ErrProviderUnavailable,
}

// messageSentinels is consulted in order when the error carries no API
// code, as with some S3-compatible stores.
var messageSentinels = []struct {
	needles []string
	err     error
}{
	{[]string{"NoSuchBucket"}, provider.ErrBucketNotFound},
	{[]string{"NoSuchKey", "NotFound", "StatusCode: 404"}, provider.ErrNotFound},
	{[]string{"AccessDenied", "Forbidden", "StatusCode: 403"}, provider.ErrAccessDenied},
	{[]string{"InvalidAccessKeyId", "SignatureDoesNotMatch"}, provider.ErrInvalidCredentials},
	{[]string{"SlowDown", "Throttling", "StatusCode: 429"}, provider.ErrThrottled},
	{[]string{"ServiceUnavailable", "StatusCode: 503"}, provider.ErrProviderUnavailable},
}

// classify wraps err in a ProviderError whose Err is a provider sentinel
// when one applies, and err itself otherwise.
func (p *Provider) classify(op, key string, err error) error {
	return &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   p.bucket,
		Key:      key,
		Err:      sentinelFor(err, key == ""),
	}
}

func sentinelFor(err error, bucketOp bool) error {
	var (
		noSuchBucket *types.NoSuchBucket
		noSuchKey    *types.NoSuchKey
		notFound     *types.NotFound
	)
	switch {
	case errors.As(err, &noSuchBucket):
		return provider.ErrBucketNotFound
	case errors.As(err, &notFound) && bucketOp:
		// HeadBucket reports a missing bucket as a bare 404.
		return provider.ErrBucketNotFound
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return provider.ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if s, ok := codeSentinels[apiErr.ErrorCode()]; ok {
			return s
		}
		return err
	}

	msg := err.Error()
	for _, m := range messageSentinels {
		for _, n := range m.needles {
			if strings.Contains(msg, n) {
				return m.err
			}
		}
	}
	return err
}
