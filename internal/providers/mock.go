package providers

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"vidgen/internal/domain"
)

// MockProviderID is always registered with the manager, so provider
// selection can never come up empty.
const MockProviderID = "mock"

// placeholderMP4 is a minimal valid MP4 header used as the generated payload.
var placeholderMP4 = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")

// MockProvider returns a small placeholder video immediately. It serves as
// the guaranteed fallback when every real provider is unavailable, and as
// the backend for local development and tests.
type MockProvider struct {
	// Delay simulates generation latency. Zero by default so tests stay fast.
	Delay time.Duration
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) ProviderID() string { return MockProviderID }

func (p *MockProvider) DisplayName() string { return "Mock Provider" }

func (p *MockProvider) ListModels(ctx context.Context) ([]domain.ProviderModel, error) {
	return []domain.ProviderModel{
		{
			ID:                 "mock-video-1",
			Name:               "Mock Video Model",
			Modes:              []domain.GenerationMode{domain.ModeTextToVideo},
			MaxDurationSeconds: 60,
			MaxResolution:      "1080p",
		},
	}, nil
}

func (p *MockProvider) HealthCheck(ctx context.Context, timeout time.Duration) domain.ProviderHealth {
	return domain.ProviderHealth{
		Provider:       MockProviderID,
		Status:         domain.ProviderHealthy,
		LastChecked:    time.Now().UTC(),
		ResponseTimeMS: 1,
		Metadata:       map[string]any{"models": []string{"mock-video-1"}},
	}
}

func (p *MockProvider) GenerateVideo(ctx context.Context, req domain.VideoRequest) (*domain.VideoResult, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	duration := req.Params.DurationSeconds
	if duration <= 0 {
		duration = 10
	}

	id := uuid.New()
	return &domain.VideoResult{
		Bytes:           append([]byte(nil), placeholderMP4...),
		DurationSeconds: duration,
		Resolution:      req.Params.Resolution,
		ProviderJobID:   "mock_" + hex.EncodeToString(id[:8]),
		CostUSD:         0,
		Raw:             map[string]any{"provider": MockProviderID},
	}, nil
}

var _ Provider = (*MockProvider)(nil)
