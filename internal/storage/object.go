package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/arcaelas/mcp/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewMinioClient creates an S3-compatible object storage client.
func NewMinioClient(cfg config.S3Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return client, nil
}

// ObjectSink stores artifacts as objects under a common key prefix.
type ObjectSink struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewObjectSink(client *minio.Client, bucket, prefix string) *ObjectSink {
	return &ObjectSink{client: client, bucket: bucket, prefix: prefix}
}

func (s *ObjectSink) Dir() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}

// Persist uploads data and returns its s3:// URI.
func (s *ObjectSink) Persist(ctx context.Context, data []byte, name string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("s3 client not initialized")
	}
	key := joinKey(s.prefix, path.Base(name))

	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType(name)},
	)
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func joinKey(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

var _ Sink = (*ObjectSink)(nil)
