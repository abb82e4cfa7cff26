package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/middleware"
)

const maxPromptLen = 2000

// TaskQueue is the slice of the queue the API layer needs: submitting fresh
// deliveries and revoking pending ones.
type TaskQueue interface {
	Enqueue(ctx context.Context, jobID string) (string, error)
	Revoke(ctx context.Context, jobID string) error
}

// ProviderRegistry is the read side of the provider manager.
type ProviderRegistry interface {
	ProviderIDs() []string
	DisplayName(id string) (string, bool)
	ListModels(ctx context.Context, providerID string) ([]domain.ProviderModel, error)
	HealthCheck(ctx context.Context, providerID string, timeout time.Duration) (domain.ProviderHealth, bool)
}

type App struct {
	Logger         infra.Logger
	Jobs           domain.JobRepository
	ProviderHealth domain.ProviderHealthRepository
	Providers      ProviderRegistry
	Queue          TaskQueue
	Store          VideoOpener

	MaxActivePerUser  int
	DefaultMaxRetries int
}

// VideoOpener is the slice of the storage sink the download handler needs.
type VideoOpener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
