package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"reelsmith/internal/config"
	"reelsmith/internal/services"
)

// Publisher uploads a finished file and returns where it can be found.
type Publisher interface {
	Publish(ctx context.Context, jobID, localPath string) (string, error)
	Enabled() bool
}

// ObjectAPI is the part of the S3 client the publisher uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher writes objects under bucket/prefix/<job>/<file>.
type S3Publisher struct {
	client   ObjectAPI
	bucket   string
	prefix   string
	endpoint string
}

// New returns a publisher for cfg, or Noop when no bucket is configured.
func New(ctx context.Context, cfg config.Storage) (Publisher, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return Noop{}, nil
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "storage_init", "load aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3Publisher(client, cfg.Bucket, cfg.Prefix, cfg.Endpoint), nil
}

// NewS3Publisher wraps an existing client.
func NewS3Publisher(client ObjectAPI, bucket, prefix, endpoint string) *S3Publisher {
	return &S3Publisher{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		endpoint: strings.TrimRight(endpoint, "/"),
	}
}

// Enabled reports true.
func (p *S3Publisher) Enabled() bool { return true }

// Key returns the object key for a job output.
func (p *S3Publisher) Key(jobID, localPath string) string {
	return path.Join(p.prefix, jobID, filepath.Base(localPath))
}

// Publish uploads localPath and returns its s3:// or endpoint URL.
func (p *S3Publisher) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "", "publish", "open composition", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "", "publish", "stat composition", err)
	}

	key := p.Key(jobID, localPath)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("video/mp4"),
		Metadata:      map[string]string{"job-id": jobID},
	})
	if err != nil {
		return "", classify(err, p.bucket, key)
	}
	return p.url(key), nil
}

func (p *S3Publisher) url(key string) string {
	if p.endpoint == "" {
		return fmt.Sprintf("s3://%s/%s", p.bucket, key)
	}
	u, err := url.JoinPath(p.endpoint, p.bucket, key)
	if err != nil {
		return fmt.Sprintf("s3://%s/%s", p.bucket, key)
	}
	return u
}

func classify(err error, bucket, key string) error {
	opts := []services.Option{services.WithDetail("bucket", bucket), services.WithDetail("key", key)}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		opts = append(opts, services.WithCode("s3_"+strings.ToLower(apiErr.ErrorCode())))
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
			return services.Wrap(services.ErrConfiguration, "", "publish", "upload rejected", err, opts...)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return services.Wrap(services.ErrTransient, "", "publish", "storage busy", err, opts...)
		}
		return services.Wrap(services.ErrExternalTool, "", "publish", "upload failed", err, opts...)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return services.Wrap(services.ErrTransient, "", "publish", "upload failed", err, opts...)
}

// Noop keeps outputs local.
type Noop struct{}

// Enabled reports false.
func (Noop) Enabled() bool { return false }

// Publish returns an empty location.
func (Noop) Publish(context.Context, string, string) (string, error) { return "", nil }
