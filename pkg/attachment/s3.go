// pkg/attachment/s3.go
package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// S3Options configures an S3-compatible store
type S3Options struct {
	Bucket        string
	Endpoint      string // Empty uses the AWS default endpoint
	Region        string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	PublicBaseURL string
	HTTPClient    *http.Client
	Retryer       aws.Retryer
}

// S3Store stores attachments in an S3-compatible bucket
type S3Store struct {
	client     *s3.Client
	bucket     string
	publicBase string
	logger     *zap.Logger
}

// NewS3Store creates an S3 store
func NewS3Store(opts S3Options, logger *zap.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s3Opts := s3.Options{
		Region:       opts.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		UsePathStyle: opts.UsePathStyle,
	}
	if opts.Endpoint != "" {
		s3Opts.BaseEndpoint = aws.String(opts.Endpoint)
	}
	if opts.HTTPClient != nil {
		s3Opts.HTTPClient = opts.HTTPClient
	}
	if opts.Retryer != nil {
		s3Opts.Retryer = opts.Retryer
	}

	publicBase := strings.TrimRight(opts.PublicBaseURL, "/")
	if publicBase == "" {
		publicBase = strings.TrimRight(opts.Endpoint, "/")
	}

	return &S3Store{
		client:     s3.New(s3Opts),
		bucket:     opts.Bucket,
		publicBase: publicBase,
		logger:     logger.Named("s3-store"),
	}, nil
}

// PutObject uploads data under key
func (s *S3Store) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s/%s: %w", s.bucket, key, err)
	}

	s.logger.Debug("Object uploaded",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return nil
}

// Exists reports whether an object is present at key
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return false, nil
		}
	}
	return false, fmt.Errorf("failed to head object %s/%s: %w", s.bucket, key, err)
}

// PublicURL returns the durable URL of key
func (s *S3Store) PublicURL(key string) string {
	return s.publicBase + "/" + s.bucket + "/" + key
}
