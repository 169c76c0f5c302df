package checker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig locates the bucket holding markers.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Validate checks the configuration.
func (c ObjectStoreConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// objectAPI is the part of *minio.Client the store uses.
type objectAPI interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// ObjectStore keeps markers in an S3-compatible bucket, for runs whose
// workers do not share a filesystem. A single PUT is atomic for readers.
type ObjectStore struct {
	client objectAPI
	bucket string
	prefix string
}

var _ MarkerStore = (*ObjectStore)(nil)

// NewObjectStore connects to the bucket described by cfg.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("marker store: %w", err)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("marker store: %w", err)
	}
	return newObjectStore(client, cfg.Bucket, cfg.Prefix), nil
}

func newObjectStore(client objectAPI, bucket, prefix string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *ObjectStore) key(k string) string {
	k = strings.TrimLeft(k, "/")
	if s.prefix == "" {
		return k
	}
	return path.Join(s.prefix, k)
}

// Exists implements MarkerStore.
func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat marker %s: %w", key, err)
}

// Write implements MarkerStore.
func (s *ObjectStore) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("write marker %s: %w", key, err)
	}
	return nil
}

// Delete implements MarkerStore.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete marker %s: %w", key, err)
	}
	return nil
}
