// Package storage persists job artifacts. A Sink is created per job and
// writes every artifact of that job under one location.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/arcaelas/mcp/internal/config"
	"github.com/arcaelas/mcp/internal/orchestrator"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// Sink is an orchestrator sink that also reports where its artifacts live.
type Sink interface {
	orchestrator.Sink
	Dir() string
}

// Factory creates one Sink per job from the output configuration.
type Factory struct {
	backend string
	baseDir string
	client  *minio.Client
	bucket  string
	prefix  string
	now     func() time.Time
}

// NewFactory builds a Factory. For the s3 backend it also creates the
// object storage client.
func NewFactory(cfg config.OutputConfig) (*Factory, error) {
	f := &Factory{
		backend: cfg.Backend,
		baseDir: cfg.LocalDir,
		bucket:  cfg.S3.Bucket,
		prefix:  cfg.S3.Prefix,
		now:     time.Now,
	}
	if cfg.Backend == "s3" {
		client, err := NewMinioClient(cfg.S3)
		if err != nil {
			return nil, err
		}
		f.client = client
	}
	return f, nil
}

// EnsureBucket creates the artifact bucket when the s3 backend is used and
// the bucket does not exist yet.
func (f *Factory) EnsureBucket(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	exists, err := f.client.BucketExists(ctx, f.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", f.bucket, err)
	}
	if exists {
		return nil
	}
	if err := f.client.MakeBucket(ctx, f.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %q: %w", f.bucket, err)
	}
	return nil
}

// New returns a sink for a fresh job whose location starts with prefix.
func (f *Factory) New(prefix string) Sink {
	name := jobFolder(prefix, f.now())
	if f.client != nil {
		return NewObjectSink(f.client, f.bucket, joinKey(f.prefix, name))
	}
	return NewLocalSink(joinPath(f.baseDir, name))
}

func jobFolder(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixMilli(), uuid.NewString()[:8])
}
