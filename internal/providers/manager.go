package providers

import (
	"context"
	"sort"
	"sync"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/ratelimit"
)

const healthCheckTimeout = 5 * time.Second

// Selection is a resolved provider plus the caller's model preference. Model
// validity is not verified at selection time.
type Selection struct {
	Provider Provider
	ModelID  string
}

// Manager keeps the registry of provider instances and owns one rate limiter
// bucket per provider. The mock provider is always registered, so selection
// never fails: it degrades to the mock instead of blocking job completion on
// provider outages. Safe for concurrent use within a process; state is not
// shared across processes.
type Manager struct {
	logger  infra.Logger
	limiter *ratelimit.Limiter

	mu        sync.RWMutex
	providers map[string]Provider
}

// NewManager builds a manager with the mock provider pre-registered.
// requestsPerMinute sizes every provider's token bucket.
func NewManager(logger infra.Logger, requestsPerMinute int) *Manager {
	m := &Manager{
		logger:    logger,
		limiter:   ratelimit.NewPerMinuteLimiter(requestsPerMinute),
		providers: make(map[string]Provider),
	}
	m.Register(NewMockProvider())
	return m
}

// Register adds or replaces a provider implementation.
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ProviderID()] = p
}

// Get returns the provider registered under id, or nil.
func (m *Manager) Get(id string) Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[id]
}

// DisplayName returns the human-readable name of a registered provider.
func (m *Manager) DisplayName(id string) (string, bool) {
	p := m.Get(id)
	if p == nil {
		return "", false
	}
	return p.DisplayName(), true
}

// ProviderIDs returns all registered ids in lexicographic order.
func (m *Manager) ProviderIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.providers))
	for id := range m.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListModels lists the models of a registered provider. Unknown providers
// yield an empty list.
func (m *Manager) ListModels(ctx context.Context, providerID string) ([]domain.ProviderModel, error) {
	p := m.Get(providerID)
	if p == nil {
		return nil, nil
	}
	return p.ListModels(ctx)
}

// HealthCheck runs a bounded health check against a registered provider.
func (m *Manager) HealthCheck(ctx context.Context, providerID string, timeout time.Duration) (domain.ProviderHealth, bool) {
	p := m.Get(providerID)
	if p == nil {
		return domain.ProviderHealth{}, false
	}
	return p.HealthCheck(ctx, timeout), true
}

// SelectProvider walks the candidate order (preferred id, then the fallback
// order deduplicated, then every remaining registered id) skipping
// rate-limited and non-healthy candidates, and returns the first acceptable
// provider. When the walk exhausts it returns the mock provider, so the
// result is never empty.
func (m *Manager) SelectProvider(ctx context.Context, preferredProviderID, preferredModelID string, fallbackOrder []string) Selection {
	order := m.candidateOrder(preferredProviderID, fallbackOrder)

	for _, id := range order {
		p := m.Get(id)
		if p == nil {
			continue
		}
		if !m.limiter.TryConsume(id, 1) {
			m.logger.Warn().Str("provider", id).Msg("providers: candidate rate limited")
			continue
		}
		health := p.HealthCheck(ctx, healthCheckTimeout)
		if health.Status != domain.ProviderHealthy {
			m.logger.Debug().
				Str("provider", id).
				Str("status", string(health.Status)).
				Msg("providers: candidate not healthy")
			continue
		}
		return Selection{Provider: p, ModelID: preferredModelID}
	}

	return Selection{Provider: m.Get(MockProviderID), ModelID: preferredModelID}
}

func (m *Manager) candidateOrder(preferred string, fallbackOrder []string) []string {
	var order []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		order = append(order, id)
	}

	add(preferred)
	for _, id := range fallbackOrder {
		add(id)
	}
	for _, id := range m.ProviderIDs() {
		add(id)
	}
	return order
}
