package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidgen/internal/domain"
)

// FileStore persists videos on the local filesystem. It is the default sink
// for development and single-node deployments; the S3 sink covers everything
// else.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if !filepath.IsAbs(basePath) {
		if abs, err := filepath.Abs(basePath); err == nil {
			basePath = abs
		}
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Store writes the bytes under a sharded per-job directory and returns the
// handle. The shard is the first two characters of the job id so no single
// directory accumulates every job.
func (s *FileStore) Store(ctx context.Context, jobID string, data []byte, extension, contentType string, metadata map[string]string) (*domain.StoredVideo, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := buildKey(jobID, extension)
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: ensure directory: %v", domain.ErrStorageFailure, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write file: %v", domain.ErrStorageFailure, err)
	}

	return &domain.StoredVideo{
		Path:        key,
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
		Metadata:    metadata,
	}, nil
}

// Open returns a reader for a previously stored handle.
func (s *FileStore) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, domain.ErrNotFound
		}
		return nil, 0, fmt.Errorf("%w: open: %v", domain.ErrStorageFailure, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: stat: %v", domain.ErrStorageFailure, err)
	}
	return f, info.Size(), nil
}

// Resolve turns an opaque handle into an absolute filesystem path. Handles
// are validated against directory traversal.
func (s *FileStore) Resolve(path string) (string, error) {
	clean, err := sanitizeKey(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

// SweepExpired deletes stored files whose modification time is before
// olderThan and prunes emptied job directories. It returns the number of
// files removed.
func (s *FileStore) SweepExpired(ctx context.Context, olderThan time.Time) (int, error) {
	deleted := 0
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(olderThan) {
			if rmErr := os.Remove(path); rmErr == nil {
				deleted++
				// Best effort: drop the job directory once empty.
				_ = os.Remove(filepath.Dir(path))
			}
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}
	return deleted, nil
}

func buildKey(jobID, extension string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", errors.New("storage: job id is required")
	}
	shard := "xx"
	if len(jobID) >= 2 {
		shard = jobID[:2]
	}
	ext := strings.TrimPrefix(strings.TrimSpace(extension), ".")
	if ext == "" {
		ext = "mp4"
	}
	return sanitizeKey(shard + "/" + jobID + "/result." + ext)
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var (
	_ VideoStore = (*FileStore)(nil)
	_ Sweeper    = (*FileStore)(nil)
)
