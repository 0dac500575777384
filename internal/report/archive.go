package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const csvContentType = "text/csv"

// ErrNoBucket is returned by NewS3Archiver without a bucket name.
var ErrNoBucket = errors.New("archive bucket is required")

// Archiver stores exported tables
type Archiver interface {
	Archive(ctx context.Context, name string, body io.Reader) (string, error)
}

// S3Config configures the S3 archive. Endpoint selects an S3 compatible
// service such as MinIO and switches to path-style addressing.
type S3Config struct {
	Bucket   string `yaml:"bucket" koanf:"bucket"`
	Prefix   string `yaml:"prefix" koanf:"prefix"`
	Region   string `yaml:"region" koanf:"region"`
	Endpoint string `yaml:"endpoint" koanf:"endpoint"`
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads exported tables to an S3 bucket.
type S3Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Archiver creates an archiver; credentials come from the default AWS
// credential chain.
func NewS3Archiver(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "http://" + endpoint
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return newS3Archiver(client, cfg, logger), nil
}

func newS3Archiver(client putObjectAPI, cfg S3Config, logger *slog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.With(slog.String("component", "archive")),
	}
}

// Archive uploads body under the archive prefix and returns the object key
func (a *S3Archiver) Archive(ctx context.Context, name string, body io.Reader) (string, error) {
	key := path.Join(a.prefix, name)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(csvContentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	a.logger.Info("table archived", slog.String("bucket", a.bucket), slog.String("key", key))
	return key, nil
}
