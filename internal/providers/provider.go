package providers

import (
	"context"
	"time"

	"vidgen/internal/domain"
)

// Provider is the capability contract a generation backend implements.
// HealthCheck never returns an error for ordinary failure modes; it reports
// them as an unhealthy record instead, bounded by the given timeout.
// GenerateVideo failures are normalized to domain.ErrProviderFailure (or
// domain.ErrContractViolation) before they leave the adapter.
type Provider interface {
	ProviderID() string
	DisplayName() string
	ListModels(ctx context.Context) ([]domain.ProviderModel, error)
	HealthCheck(ctx context.Context, timeout time.Duration) domain.ProviderHealth
	GenerateVideo(ctx context.Context, req domain.VideoRequest) (*domain.VideoResult, error)
}
