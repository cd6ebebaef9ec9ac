package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// ErrUpstream indicates the storage backend rejected or failed the request
var ErrUpstream = errors.New("storage upstream error")

// ArtifactStore persists synthesized audio artifacts and serves their URLs
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// S3Client is the subset of the S3 API the store uses
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config contains artifact store configuration
type Config struct {
	Bucket    string
	Region    string
	KeyPrefix string
	Endpoint  string // optional, for S3-compatible stores
}

// S3Store stores artifacts in an S3 bucket under a key prefix
type S3Store struct {
	client S3Client
	config Config
}

// NewS3Store creates an artifact store backed by the given S3 client
func NewS3Store(client S3Client, config Config) (*S3Store, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client cannot be nil")
	}

	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}

	if config.Region == "" {
		return nil, fmt.Errorf("region cannot be empty")
	}

	return &S3Store{client: client, config: config}, nil
}

// Put uploads an artifact and returns its public URL
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	if len(data) == 0 {
		return "", fmt.Errorf("cannot store empty artifact")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to put object %s: %v", ErrUpstream, key, err)
	}

	return s.URL(key), nil
}

// Delete removes an artifact. Deleting a missing key is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: failed to delete object %s: %v", ErrUpstream, key, err)
	}

	return nil
}

// URL returns the public URL for a stored artifact
func (s *S3Store) URL(key string) string {
	if s.config.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.config.Endpoint, "/"), s.config.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.config.Bucket, s.config.Region, key)
}

// StepAudioKey builds the canonical object key for one synthesized step
func (s *S3Store) StepAudioKey(jobID string, instructionIndex, stepIndex int) string {
	prefix := s.config.KeyPrefix
	if prefix == "" {
		prefix = "tts"
	}
	return path.Join(prefix, jobID,
		fmt.Sprintf("instruction_%d_step_%d.mp3", instructionIndex, stepIndex))
}

// isNotFound reports whether err is an S3 missing-key error
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
