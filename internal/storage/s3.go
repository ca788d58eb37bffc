package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Storage stores artifacts in an S3 bucket.
type S3Storage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	region    string
	endpoint  *url.URL
}

// NewS3Storage creates a new S3Storage instance.
// SDK-level retries are disabled; callers own the retry policy.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var endpoint *url.URL
	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.RetryMaxAttempts = 1
		},
	}
	if cfg.Endpoint != "" {
		endpoint, err = url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
		if err != nil || endpoint.Host == "" {
			return nil, fmt.Errorf("parse S3 endpoint %q: invalid URL", cfg.Endpoint)
		}
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Storage{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		endpoint:  endpoint,
	}, nil
}

// Put uploads data to S3 and returns the object URL.
func (s *S3Storage) Put(ctx context.Context, key string, data []byte, contentType, disposition string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if disposition != "" {
		input.ContentDisposition = aws.String(disposition)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to S3: %w", err)
	}

	return s.objectURL(key), nil
}

// SignedURL presigns a GET for key.
func (s *S3Storage) SignedURL(ctx context.Context, key string, expiry time.Duration, disposition string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if disposition != "" {
		input.ResponseContentDisposition = aws.String(disposition)
	}

	req, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(clampExpiry(expiry)))
	if err != nil {
		return "", fmt.Errorf("presign S3 object: %w", err)
	}
	return req.URL, nil
}

// KeyFromURL accepts virtual-hosted AWS URLs for the bucket and, when a custom
// endpoint is configured, path-style URLs on that endpoint. Query strings of
// presigned URLs are ignored.
func (s *S3Storage) KeyFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}

	var key string
	switch {
	case s.endpoint != nil:
		if !strings.EqualFold(u.Host, s.endpoint.Host) {
			return "", false
		}
		prefix := strings.TrimRight(s.endpoint.Path, "/") + "/" + s.bucket + "/"
		if !strings.HasPrefix(u.Path, prefix) {
			return "", false
		}
		key = strings.TrimPrefix(u.Path, prefix)
	case strings.EqualFold(u.Host, s.virtualHost()) ||
		strings.EqualFold(u.Host, s.bucket+".s3.amazonaws.com"):
		key = strings.TrimPrefix(u.Path, "/")
	default:
		return "", false
	}

	if key == "" {
		return "", false
	}
	return key, true
}

func (s *S3Storage) virtualHost() string {
	return fmt.Sprintf("%s.s3.%s.amazonaws.com", s.bucket, s.region)
}

func (s *S3Storage) objectURL(key string) string {
	if s.endpoint != nil {
		return fmt.Sprintf("%s/%s/%s", s.endpoint.String(), s.bucket, key)
	}
	return fmt.Sprintf("https://%s/%s", s.virtualHost(), key)
}

// Verify interface implementation at compile time.
var _ Storage = (*S3Storage)(nil)
