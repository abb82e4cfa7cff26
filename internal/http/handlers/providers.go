package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vidgen/internal/domain"
)

const liveHealthTimeout = 5 * time.Second

type providerView struct {
	ID          string                      `json:"id"`
	DisplayName string                      `json:"display_name"`
	Status      domain.ProviderHealthStatus `json:"status"`
	LastChecked *time.Time                  `json:"last_checked,omitempty"`
}

func (a *App) ListProviders(w http.ResponseWriter, r *http.Request) {
	items := make([]providerView, 0)
	for _, id := range a.Providers.ProviderIDs() {
		name, _ := a.Providers.DisplayName(id)
		view := providerView{ID: id, DisplayName: name, Status: domain.ProviderUnknown}
		if rec, err := a.ProviderHealth.Get(r.Context(), id); err == nil {
			view.Status = rec.Status
			if !rec.LastChecked.IsZero() {
				checked := rec.LastChecked
				view.LastChecked = &checked
			}
		}
		items = append(items, view)
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) ProviderModels(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "provider_id")
	if _, ok := a.Providers.DisplayName(id); !ok {
		a.error(w, http.StatusNotFound, "not_found", "unknown provider")
		return
	}
	models, err := a.Providers.ListModels(r.Context(), id)
	if err != nil {
		a.error(w, http.StatusBadGateway, "provider_failure", "could not list models")
		return
	}
	if models == nil {
		models = []domain.ProviderModel{}
	}
	a.json(w, http.StatusOK, map[string]any{"items": models})
}

// ProviderHealthCheck runs a live probe and persists the outcome so the
// worker's selection sees fresh state.
func (a *App) ProviderHealthCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "provider_id")
	health, ok := a.Providers.HealthCheck(r.Context(), id, liveHealthTimeout)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "unknown provider")
		return
	}
	if err := a.ProviderHealth.Upsert(r.Context(), &health); err != nil {
		a.Logger.Warn().Err(err).Str("provider", id).Msg("health upsert failed")
	}
	a.json(w, http.StatusOK, health)
}
