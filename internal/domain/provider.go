package domain

import "time"

// ProviderHealthStatus enumerates provider availability states.
type ProviderHealthStatus string

const (
	ProviderHealthy   ProviderHealthStatus = "healthy"
	ProviderDegraded  ProviderHealthStatus = "degraded"
	ProviderUnhealthy ProviderHealthStatus = "unhealthy"
	ProviderUnknown   ProviderHealthStatus = "unknown"
)

// ProviderHealth is the cached assessment of a provider's availability. It is
// written both by live health probes and by post-execution outcome feedback.
type ProviderHealth struct {
	Provider            string               `json:"provider"`
	Status              ProviderHealthStatus `json:"status"`
	LastChecked         time.Time            `json:"last_checked"`
	LastError           string               `json:"last_error,omitempty"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	ResponseTimeMS      int64                `json:"response_time_ms,omitempty"`
	CostPerRequestUSD   float64              `json:"cost_per_request_usd,omitempty"`
	Metadata            map[string]any       `json:"metadata,omitempty"`
}

// ProviderModel describes a model a provider can run. Sourced from the
// provider at query time; never persisted authoritatively.
type ProviderModel struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Modes              []GenerationMode `json:"modes"`
	MaxDurationSeconds int              `json:"max_duration_seconds,omitempty"`
	MaxResolution      string           `json:"max_resolution,omitempty"`
}

// VideoRequest is the provider-agnostic generation request the pipeline hands
// to a provider adapter.
type VideoRequest struct {
	Prompt string
	Params GenerationParams
	UserID string
	JobID  string
}

// VideoResult is what a provider adapter returns. Exactly one of Bytes and
// URL must be set.
type VideoResult struct {
	Bytes           []byte
	URL             string
	DurationSeconds int
	Resolution      string
	ProviderJobID   string
	CostUSD         float64
	Raw             map[string]any
}

// HasOutput reports whether the result carries usable video output.
func (r *VideoResult) HasOutput() bool {
	return r != nil && (len(r.Bytes) > 0 || r.URL != "")
}
