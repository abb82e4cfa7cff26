package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job in this status is done. Failed jobs stay
// terminal until the API layer reopens them with an explicit retry.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// GenerationMode enumerates supported generation modes.
type GenerationMode string

const (
	ModeTextToVideo  GenerationMode = "text-to-video"
	ModeImageToVideo GenerationMode = "image-to-video"
	ModeVideoToVideo GenerationMode = "video-to-video"
)

// GenerationParams holds the generation parameters carried by a job. All
// fields are optional on submission; the pipeline applies defaults. Extra is
// a forward-compatible bag that is stored but never validated.
type GenerationParams struct {
	Resolution      string         `json:"resolution,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	Quality         string         `json:"quality,omitempty"`
	Style           string         `json:"style,omitempty"`
	Mode            GenerationMode `json:"mode,omitempty"`
	Provider        string         `json:"provider,omitempty"`
	Model           string         `json:"model,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Job encapsulates the lifecycle of a video generation request.
type Job struct {
	ID               string
	UserID           string
	Prompt           string
	Status           JobStatus
	Params           GenerationParams
	ResultJSON       []byte
	RetryCount       int
	MaxRetries       int
	TaskHandle       string
	UsedProvider     string
	UsedModel        string
	GenerationTimeMS int64
	ErrorMessage     string
	Progress         int
	StatusMessage    string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
}

// JobResult is the payload persisted when a job completes. It is the only
// place the download token and self-hosted access URL live.
type JobResult struct {
	VideoURL        string         `json:"videoUrl"`
	DownloadToken   string         `json:"downloadToken"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	StoragePath     string         `json:"storagePath"`
	ContentType     string         `json:"contentType,omitempty"`
	SizeBytes       int64          `json:"sizeBytes"`
	DurationSeconds int            `json:"durationSeconds,omitempty"`
	Resolution      string         `json:"resolution,omitempty"`
	ProviderJobID   string         `json:"providerJobId,omitempty"`
	ProviderRaw     map[string]any `json:"providerRaw,omitempty"`
	CostUSD         float64        `json:"costUsd,omitempty"`
	GeneratedAt     time.Time      `json:"generatedAt"`
}
