package domain

import "time"

// StoredVideo is the handle returned by a storage sink. Path is opaque to all
// callers; only the sink that produced it can resolve it.
type StoredVideo struct {
	Path        string
	SizeBytes   int64
	ContentType string
	CreatedAt   time.Time
	Metadata    map[string]string
}
