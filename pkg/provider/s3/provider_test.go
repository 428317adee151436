package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/simstat/pkg/provider"
)

// fakeClient records the last put and returns canned errors.
type fakeClient struct {
	put     *s3.PutObjectInput
	body    string
	putErr  error
	headErr error
}

func (f *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.put, f.body = in, string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func apiErr(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code + " from test"}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantFields []string
	}{
		{name: "bucket only", cfg: Config{Bucket: "sim-status"}},
		{name: "static keys", cfg: Config{Bucket: "sim-status", AccessKeyID: "AK", SecretAccessKey: "SK"}},
		{name: "minio endpoint", cfg: Config{Bucket: "sim-status", Endpoint: "http://minio.hpc.local:9000", ForcePathStyle: true}},
		{name: "missing bucket", cfg: Config{}, wantFields: []string{"Bucket"}},
		{name: "uppercase bucket", cfg: Config{Bucket: "Sim_Status"}, wantFields: []string{"Bucket"}},
		{name: "short bucket", cfg: Config{Bucket: "ab"}, wantFields: []string{"Bucket"}},
		{name: "key without secret", cfg: Config{Bucket: "sim-status", AccessKeyID: "AK"}, wantFields: []string{"AccessKeyID/SecretAccessKey"}},
		{name: "relative endpoint", cfg: Config{Bucket: "sim-status", Endpoint: "minio:9000"}, wantFields: []string{"Endpoint"}},
		{
			name:       "several problems",
			cfg:        Config{SecretAccessKey: "SK", Endpoint: "/local"},
			wantFields: []string{"Bucket", "AccessKeyID/SecretAccessKey", "Endpoint"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.wantFields[0], ce.Field)
			for _, f := range tt.wantFields {
				assert.Contains(t, err.Error(), "s3 config: "+f+": ")
			}
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorContains(t, err, "bucket name is required")
}

func TestPutObject(t *testing.T) {
	fc := &fakeClient{}
	p := &Provider{client: fc, bucket: "sim-status"}

	body := `{"type":"simstat.summary.v1"}` + "\n"
	require.NoError(t, p.PutObject(context.Background(), provider.Object{
		Key:         "cluster-a/latest.jsonl",
		Body:        strings.NewReader(body),
		Size:        int64(len(body)),
		ContentType: "application/x-ndjson",
	}))

	require.NotNil(t, fc.put)
	assert.Equal(t, "sim-status", aws.ToString(fc.put.Bucket))
	assert.Equal(t, "cluster-a/latest.jsonl", aws.ToString(fc.put.Key))
	assert.Equal(t, "application/x-ndjson", aws.ToString(fc.put.ContentType))
	assert.Equal(t, snapshotCacheControl, aws.ToString(fc.put.CacheControl))
	assert.Equal(t, int64(len(body)), aws.ToInt64(fc.put.ContentLength))
	assert.Equal(t, body, fc.body)
}

func TestPutObject_NoContentType(t *testing.T) {
	fc := &fakeClient{}
	p := &Provider{client: fc, bucket: "sim-status"}

	require.NoError(t, p.PutObject(context.Background(), provider.Object{Key: "k", Body: strings.NewReader("")}))
	assert.Nil(t, fc.put.ContentType)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		put       bool
		err       error
		want      error
		transient bool
	}{
		{name: "typed no such bucket", put: true, err: &types.NoSuchBucket{}, want: provider.ErrBucketNotFound},
		{name: "typed not found on head", err: &types.NotFound{}, want: provider.ErrBucketNotFound},
		{name: "typed not found on put", put: true, err: &types.NotFound{}, want: provider.ErrNotFound},
		{name: "code forbidden", put: true, err: apiErr("Forbidden"), want: provider.ErrAccessDenied},
		{name: "code expired token", put: true, err: apiErr("ExpiredToken"), want: provider.ErrInvalidCredentials},
		{name: "code slow down", put: true, err: apiErr("SlowDown"), want: provider.ErrThrottled, transient: true},
		{name: "code internal", err: apiErr("InternalError"), want: provider.ErrProviderUnavailable, transient: true},
		{name: "message 403", put: true, err: errors.New("https response error StatusCode: 403"), want: provider.ErrAccessDenied},
		{name: "message 429", put: true, err: errors.New("https response error StatusCode: 429"), want: provider.ErrThrottled, transient: true},
		{name: "message 503", err: errors.New("https response error StatusCode: 503"), want: provider.ErrProviderUnavailable, transient: true},
		{name: "message bucket", put: true, err: errors.New("NoSuchBucket: gone"), want: provider.ErrBucketNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeClient{}
			p := &Provider{client: fc, bucket: "sim-status"}

			var err error
			if tt.put {
				fc.putErr = tt.err
				err = p.PutObject(context.Background(), provider.Object{Key: "latest.json", Body: strings.NewReader("")})
			} else {
				fc.headErr = tt.err
				err = p.CheckHealth(context.Background())
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.transient, provider.IsTransient(err))

			var pe *provider.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, provider.ProviderS3, pe.Provider)
			assert.Equal(t, "sim-status", pe.Bucket)
			if tt.put {
				assert.Equal(t, "PutObject", pe.Op)
				assert.Equal(t, "latest.json", pe.Key)
			} else {
				assert.Equal(t, "HeadBucket", pe.Op)
				assert.Empty(t, pe.Key)
			}
		})
	}
}

func TestErrorClassification_UnknownKeepsCause(t *testing.T) {
	cause := apiErr("MysteryCode")
	p := &Provider{client: &fakeClient{headErr: cause}, bucket: "sim-status"}

	err := p.CheckHealth(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.False(t, provider.IsTransient(err))
	assert.False(t, provider.IsAccessDenied(err))
}

func TestCheckHealth_OK(t *testing.T) {
	p := &Provider{client: &fakeClient{}, bucket: "sim-status"}
	assert.NoError(t, p.CheckHealth(context.Background()))
	assert.NoError(t, p.Close())
}

func TestResolveRegion(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  string
		sdkRegion string
		want      string
	}{
		{"sdk region wins", "", "eu-west-1", "eu-west-1"},
		{"aws fallback", "", "", DefaultAWSRegion},
		{"custom endpoint stays regionless", "http://minio.hpc.local:9000", "", ""},
		{"custom endpoint keeps sdk region", "http://minio.hpc.local:9000", "us-east-2", "us-east-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRegion(tt.endpoint, tt.sdkRegion))
		})
	}
}

func TestLoadOptions(t *testing.T) {
	assert.Empty(t, loadOptions(Config{Bucket: "sim-status"}))
	assert.Len(t, loadOptions(Config{Bucket: "sim-status", Region: "eu-west-1", Profile: "hpc"}), 2)
	assert.Len(t, loadOptions(Config{Bucket: "sim-status", AccessKeyID: "AK", SecretAccessKey: "SK"}), 1)
}
