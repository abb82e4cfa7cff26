package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"vidgen/internal/domain"
)

// S3Store persists videos in an S3 bucket under a configurable key prefix.
// Retention is expected to be enforced with bucket lifecycle rules, so this
// sink does not implement Sweeper.
type S3Store struct {
	client    *s3.S3
	bucket    string
	keyPrefix string
}

// S3Options configures the S3 sink. Credentials come from the default AWS
// chain (env, shared config, instance role).
type S3Options struct {
	Bucket    string
	Region    string
	KeyPrefix string
}

// NewS3Store builds an S3-backed sink.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(opts.Region)})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 session: %w", err)
	}
	return &S3Store{
		client:    s3.New(sess),
		bucket:    opts.Bucket,
		keyPrefix: strings.Trim(opts.KeyPrefix, "/"),
	}, nil
}

// Store uploads the bytes under <prefix>/<shard>/<jobID>/result.<ext>.
func (s *S3Store) Store(ctx context.Context, jobID string, data []byte, extension, contentType string, metadata map[string]string) (*domain.StoredVideo, error) {
	key, err := buildKey(jobID, extension)
	if err != nil {
		return nil, err
	}
	if s.keyPrefix != "" {
		key = s.keyPrefix + "/" + key
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if len(metadata) > 0 {
		input.Metadata = make(map[string]*string, len(metadata))
		for k, v := range metadata {
			input.Metadata[k] = aws.String(v)
		}
	}
	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return nil, fmt.Errorf("%w: s3 put: %v", domain.ErrStorageFailure, err)
	}

	return &domain.StoredVideo{
		Path:        key,
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
		Metadata:    metadata,
	}, nil
}

// Open streams a previously stored object.
func (s *S3Store) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, 0, domain.ErrNotFound
		}
		return nil, 0, fmt.Errorf("%w: s3 get: %v", domain.ErrStorageFailure, err)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// Resolve returns the s3:// location for a handle.
func (s *S3Store) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("storage: key is required")
	}
	return "s3://" + s.bucket + "/" + path, nil
}

var _ VideoStore = (*S3Store)(nil)
