package storage

import (
	"context"
	"io"
	"time"

	"vidgen/internal/domain"
)

// VideoStore persists generated video bytes and hands back an opaque handle.
// Only the sink that produced a handle can resolve or open it again.
type VideoStore interface {
	Store(ctx context.Context, jobID string, data []byte, extension, contentType string, metadata map[string]string) (*domain.StoredVideo, error)
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)
	Resolve(path string) (string, error)
}

// Sweeper removes stored videos older than a cutoff. Implemented by sinks
// that own retention (the filesystem sink); object stores rely on bucket
// lifecycle rules instead.
type Sweeper interface {
	SweepExpired(ctx context.Context, olderThan time.Time) (int, error)
}
