package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// ProviderHealthRepositoryPG implements domain.ProviderHealthRepository.
type ProviderHealthRepositoryPG struct {
	db infra.SQLExecutor
}

// NewProviderHealthRepository creates a provider health repository backed by
// PostgreSQL.
func NewProviderHealthRepository(db infra.SQLExecutor) *ProviderHealthRepositoryPG {
	return &ProviderHealthRepositoryPG{db: db}
}

const healthColumns = `provider, status, last_checked, last_error, consecutive_failures,
       response_time_ms, cost_per_request_usd, metadata_json`

// Get fetches the health record for a provider.
func (r *ProviderHealthRepositoryPG) Get(ctx context.Context, provider string) (*domain.ProviderHealth, error) {
	query := `
SELECT ` + healthColumns + `
FROM provider_health
WHERE provider = $1;
`
	row := r.db.QueryRow(ctx, query, provider)
	health, err := scanHealth(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return health, nil
}

// List returns every provider's health record.
func (r *ProviderHealthRepositoryPG) List(ctx context.Context) ([]domain.ProviderHealth, error) {
	query := `
SELECT ` + healthColumns + `
FROM provider_health
ORDER BY provider;
`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ProviderHealth
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *h)
	}
	return records, rows.Err()
}

// Upsert writes the full health record, last writer wins.
func (r *ProviderHealthRepositoryPG) Upsert(ctx context.Context, health *domain.ProviderHealth) error {
	metadata, err := json.Marshal(health.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := `
INSERT INTO provider_health (provider, status, last_checked, last_error, consecutive_failures,
                             response_time_ms, cost_per_request_usd, metadata_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (provider) DO UPDATE
SET status = EXCLUDED.status,
    last_checked = EXCLUDED.last_checked,
    last_error = EXCLUDED.last_error,
    consecutive_failures = EXCLUDED.consecutive_failures,
    response_time_ms = EXCLUDED.response_time_ms,
    cost_per_request_usd = EXCLUDED.cost_per_request_usd,
    metadata_json = EXCLUDED.metadata_json;
`
	_, err = r.db.Exec(ctx, query,
		health.Provider,
		health.Status,
		health.LastChecked,
		health.LastError,
		health.ConsecutiveFailures,
		health.ResponseTimeMS,
		health.CostPerRequestUSD,
		metadata,
	)
	return err
}

func scanHealth(row rowScanner) (*domain.ProviderHealth, error) {
	var (
		h            domain.ProviderHealth
		metadataJSON []byte
	)
	if err := row.Scan(
		&h.Provider,
		&h.Status,
		&h.LastChecked,
		&h.LastError,
		&h.ConsecutiveFailures,
		&h.ResponseTimeMS,
		&h.CostPerRequestUSD,
		&metadataJSON,
	); err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &h.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &h, nil
}

var _ domain.ProviderHealthRepository = (*ProviderHealthRepositoryPG)(nil)
