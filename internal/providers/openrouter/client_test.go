package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/providers"
)

var _ providers.Provider = (*Provider)(nil)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := New(Options{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		DefaultModel: "vendor/video-model",
		HTTPClient:   srv.Client(),
	})
	return p, srv
}

func TestHealthCheckWithoutCredentials(t *testing.T) {
	p := New(Options{})
	h := p.HealthCheck(context.Background(), time.Second)
	if h.Status != domain.ProviderUnhealthy {
		t.Fatalf("status = %q, want unhealthy", h.Status)
	}
	if h.LastError == "" {
		t.Fatal("expected an error message")
	}
}

func TestHealthCheckHealthy(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": "vendor/video-model"}},
		})
	})

	h := p.HealthCheck(context.Background(), time.Second)
	if h.Status != domain.ProviderHealthy {
		t.Fatalf("status = %q, want healthy: %s", h.Status, h.LastError)
	}
	models, ok := h.Metadata["models"].([]string)
	if !ok || len(models) != 1 {
		t.Fatalf("metadata models = %v", h.Metadata["models"])
	}
}

func TestHealthCheckServerErrorIsUnhealthyNotError(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	h := p.HealthCheck(context.Background(), time.Second)
	if h.Status != domain.ProviderUnhealthy {
		t.Fatalf("status = %q, want unhealthy", h.Status)
	}
	if h.LastError == "" {
		t.Fatal("expected error text in health record")
	}
}

func TestGenerateVideoParsesModelOutput(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "vendor/video-model" {
			t.Errorf("model = %q", req.Model)
		}
		content, _ := json.Marshal(videoOutput{
			VideoURL:        "https://cdn.example.com/out.mp4",
			DurationSeconds: 12,
			Resolution:      "1080p",
		})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": string(content)}},
			},
		})
	})

	res, err := p.GenerateVideo(context.Background(), domain.VideoRequest{
		Prompt: "a fox at dawn",
		JobID:  "job-1",
	})
	if err != nil {
		t.Fatalf("GenerateVideo error: %v", err)
	}
	if res.URL != "https://cdn.example.com/out.mp4" {
		t.Fatalf("url = %q", res.URL)
	}
	if res.DurationSeconds != 12 || res.Resolution != "1080p" {
		t.Fatalf("duration/resolution = %d/%q", res.DurationSeconds, res.Resolution)
	}
	if len(res.Bytes) != 0 {
		t.Fatal("url result must not carry bytes")
	}
}

func TestGenerateVideoFaultsAreProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name: "malformed payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
		},
		{
			name: "content not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"choices": []map[string]any{
						{"message": map[string]any{"content": "sorry, no"}},
					},
				})
			},
		},
		{
			name: "missing video_url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"choices": []map[string]any{
						{"message": map[string]any{"content": "{}"}},
					},
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProvider(t, tt.handler)
			_, err := p.GenerateVideo(context.Background(), domain.VideoRequest{Prompt: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, domain.ErrProviderFailure) {
				t.Fatalf("error %v is not ErrProviderFailure", err)
			}
		})
	}
}

func TestOptionsAcceptLoggerValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	// The logger option is the same value type every other package takes;
	// a wired logger must not change health-check semantics.
	p := New(Options{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Logger:     infra.NewLogger("development", "test"),
	})
	h := p.HealthCheck(context.Background(), time.Second)
	if h.Status != domain.ProviderUnhealthy {
		t.Fatalf("status = %q, want unhealthy", h.Status)
	}
}
