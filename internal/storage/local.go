package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalSink writes artifacts into a directory on the local filesystem. The
// directory is created on the first write.
type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) *LocalSink {
	return &LocalSink{dir: dir}
}

func (s *LocalSink) Dir() string { return s.dir }

// Persist writes data as name inside the sink directory and returns the
// file's path. Only the base of name is used.
func (s *LocalSink) Persist(ctx context.Context, data []byte, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(s.dir, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", base, err)
	}
	return path, nil
}

func joinPath(dir, name string) string {
	return filepath.Join(dir, name)
}

var _ Sink = (*LocalSink)(nil)
