package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of *s3.Client the S3 backend uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

const expiresMetadataKey = "expires-at"

// S3Backend stores one object per record under prefix in bucket.
//
// Example:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	users := state.NewS3Backend(s3.NewFromConfig(cfg), "my-bucket", "users/")
type S3Backend struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Backend returns a backend writing to bucket under prefix.
func NewS3Backend(client S3API, bucket, prefix string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, prefix: prefix}
}

func (b *S3Backend) key(id string) string {
	return b.prefix + id + ".json"
}

// Save puts the record object. A zero expiresAt never expires.
func (b *S3Backend) Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if !expiresAt.IsZero() {
		in.Metadata = map[string]string{expiresMetadataKey: expiresAt.UTC().Format(time.RFC3339)}
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("state: s3 put %s: %w", id, err)
	}
	return nil
}

// Load gets the record object, treating a missing or expired one as absent.
func (b *S3Backend) Load(ctx context.Context, id string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, fmt.Errorf("state: s3 get %s: %w", id, err)
	}
	defer out.Body.Close()

	if v, ok := out.Metadata[expiresMetadataKey]; ok {
		if expiresAt, err := time.Parse(time.RFC3339, v); err == nil && time.Now().After(expiresAt) {
			return nil, nil
		}
	}
	return io.ReadAll(out.Body)
}

// Delete removes the record object.
func (b *S3Backend) Delete(ctx context.Context, id string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		return fmt.Errorf("state: s3 delete %s: %w", id, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (b *S3Backend) Close() error {
	return nil
}
