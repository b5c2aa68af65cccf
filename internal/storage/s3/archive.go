// Package s3 uploads generated artifacts to an S3 bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrBucketRequired = errors.New("archive bucket is required")

// PutObjectAPI is the slice of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket string
	Region string
}

type Archiver struct {
	client PutObjectAPI
	bucket string
	logger *slog.Logger
}

// NewArchiver builds a client from the default credential chain.
func NewArchiver(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewArchiverWithClient(s3.NewFromConfig(awsCfg), cfg.Bucket, logger), nil
}

func NewArchiverWithClient(client PutObjectAPI, bucket string, logger *slog.Logger) *Archiver {
	return &Archiver{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// Upload writes body under key and returns its s3:// location.
func (a *Archiver) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		a.logger.Error("s3 upload failed", "bucket", a.bucket, "key", key, "error", err)
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	location := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	a.logger.Debug("s3 upload complete", "location", location)
	return location, nil
}
