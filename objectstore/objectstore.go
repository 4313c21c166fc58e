// Package objectstore wraps a MinIO/S3 compatible backend for chat attachments.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chatloom/chatloom/internal/profile"
)

// Client is the attachment storage surface used by the API layer and the
// turn orchestrator. Implementations must be safe for concurrent use.
type Client interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

type minioClient struct {
	client *minio.Client
	bucket string
}

// New connects to the configured object storage endpoint and ensures the
// attachment bucket exists.
func New(ctx context.Context, p *profile.Profile) (Client, error) {
	endpoint := strings.TrimPrefix(p.ObjectEndpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	if endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint not configured")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(p.ObjectAccessKey, p.ObjectSecretKey, ""),
		Secure: p.ObjectUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	c := &minioClient{client: client, bucket: p.ObjectBucket}
	if err := c.ensureBucket(ctx); err != nil {
		return nil, err
	}
	slog.Info("object storage ready", "endpoint", endpoint, "bucket", c.bucket)
	return c, nil
}

func (c *minioClient) ensureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "BucketAlreadyExists" || resp.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *minioClient) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	_, err := c.client.PutObject(ctx, c.bucket, key, data, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to store object %s: %w", key, err)
	}
	return nil
}

func (c *minioClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", key, err)
	}
	return obj, nil
}

func (c *minioClient) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return u.String(), nil
}

func (c *minioClient) Delete(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (c *minioClient) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PutBytes is a convenience wrapper for small uploads.
func PutBytes(ctx context.Context, c Client, key string, data []byte, contentType string) error {
	return c.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}
