package credentials

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig addresses an S3-compatible bucket.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// ObjectBackend stores each key as an object. Wrap it with Sealed; the
// bucket is not assumed to be private.
type ObjectBackend struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewObjectBackend(ctx context.Context, cfg ObjectConfig) (*ObjectBackend, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object backend: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object backend: create client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("object backend: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("object backend: create bucket: %w", err)
		}
	}
	return &ObjectBackend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (b *ObjectBackend) objectName(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *ObjectBackend) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, b.translate(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, b.translate(err)
	}
	return data, nil
}

func (b *ObjectBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, b.objectName(key), bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("object backend: put: %w", err)
	}
	return nil
}

func (b *ObjectBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, b.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return b.translate(err)
	}
	return nil
}

func (b *ObjectBackend) translate(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("object backend: %w", err)
}
