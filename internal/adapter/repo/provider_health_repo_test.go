package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"vidgen/internal/domain"
)

func TestHealthUpsertArgs(t *testing.T) {
	exec := &stubExecutor{}
	r := NewProviderHealthRepository(exec)

	err := r.Upsert(context.Background(), &domain.ProviderHealth{
		Provider:            "openrouter",
		Status:              domain.ProviderDegraded,
		LastChecked:         time.Unix(1700000000, 0).UTC(),
		LastError:           "timeout",
		ConsecutiveFailures: 2,
		ResponseTimeMS:      1200,
		Metadata:            map[string]any{"models": []string{"m1"}},
	})
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if len(exec.lastArgs) != 8 {
		t.Fatalf("args = %d, want 8", len(exec.lastArgs))
	}
	if exec.lastArgs[0] != "openrouter" {
		t.Fatalf("provider arg = %v", exec.lastArgs[0])
	}
	if exec.lastArgs[1] != domain.ProviderDegraded {
		t.Fatalf("status arg = %v", exec.lastArgs[1])
	}
	if exec.lastArgs[4] != 2 {
		t.Fatalf("failures arg = %v", exec.lastArgs[4])
	}
}

func TestHealthGetNotFound(t *testing.T) {
	r := NewProviderHealthRepository(&stubExecutor{rowErr: pgx.ErrNoRows})
	_, err := r.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
