package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/config"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
)

// S3Store keeps the task collection as a single S3 object.
type S3Store struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Store builds the AWS client from store configuration and verifies the
// bucket is reachable.
func NewS3Store(ctx context.Context, cfg config.StoreConfig, logger observability.Logger) (*S3Store, error) {
	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	st := &S3Store{
		client: client,
		bucket: cfg.Bucket,
		key:    cfg.Key,
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to verify bucket %q: %w", cfg.Bucket, err)
	}

	logger.Info("s3 task store initialized", "bucket", cfg.Bucket, "key", cfg.Key)
	return st, nil
}

func buildAWSConfig(ctx context.Context, cfg config.StoreConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// Save writes the collection as one JSON object.
func (s *S3Store) Save(ctx context.Context, tasks map[string]*domain.Task) error {
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal task collection: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put task collection: %w", err)
	}
	return nil
}

// Load reads the collection; a missing object yields an empty map.
func (s *S3Store) Load(ctx context.Context) (map[string]*domain.Task, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return map[string]*domain.Task{}, nil
		}
		return nil, fmt.Errorf("failed to get task collection: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read task collection: %w", err)
	}

	tasks := map[string]*domain.Task{}
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode task collection: %w", err)
	}
	return tasks, nil
}
