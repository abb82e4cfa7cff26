package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("openrouter: api key is required")

// ProviderID is the stable registry key for this adapter.
const ProviderID = "openrouter"

// Options configures the OpenRouter client.
type Options struct {
	APIKey         string
	BaseURL        string
	DefaultModel   string
	HTTPClient     *http.Client
	Logger         infra.Logger
	RequestTimeout time.Duration
}

// Provider translates the generic video generation contract into calls
// against the OpenRouter API. OpenRouter has no unified video endpoint; this
// adapter drives an OpenAI-compatible chat completion against video-capable
// models and expects a JSON object describing the hosted output.
type Provider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	logger       infra.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type modelsResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

type videoOutput struct {
	VideoURL        string  `json:"video_url"`
	DurationSeconds int     `json:"duration_seconds"`
	Resolution      string  `json:"resolution"`
	CostUSD         float64 `json:"cost_usd"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// New constructs an adapter with sane defaults and injected dependencies.
func New(opts Options) *Provider {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &Provider{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(opts.DefaultModel),
		httpClient:   httpClient,
		// The zero-value logger is disabled, so an unset Options.Logger
		// simply silences the adapter.
		logger: opts.Logger,
	}
}

func (p *Provider) ProviderID() string { return ProviderID }

func (p *Provider) DisplayName() string { return "OpenRouter" }

// HasCredentials reports whether the client can perform remote calls.
func (p *Provider) HasCredentials() bool {
	return p.apiKey != ""
}

func (p *Provider) headers(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// ListModels queries the OpenRouter model catalog. Without credentials the
// catalog is empty rather than an error.
func (p *Provider) ListModels(ctx context.Context) ([]domain.ProviderModel, error) {
	if !p.HasCredentials() {
		return nil, nil
	}

	var decoded modelsResponse
	if err := p.getJSON(ctx, p.baseURL+"/models", &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}

	models := make([]domain.ProviderModel, 0, len(decoded.Data))
	for _, m := range decoded.Data {
		if m.ID == "" {
			continue
		}
		name := m.Name
		if name == "" {
			name = m.ID
		}
		models = append(models, domain.ProviderModel{
			ID:    m.ID,
			Name:  name,
			Modes: []domain.GenerationMode{domain.ModeTextToVideo},
		})
	}
	return models, nil
}

// HealthCheck probes the model catalog within the given timeout. Ordinary
// failures are reported as an unhealthy record, never as an error.
func (p *Provider) HealthCheck(ctx context.Context, timeout time.Duration) domain.ProviderHealth {
	now := time.Now().UTC()
	if !p.HasCredentials() {
		return domain.ProviderHealth{
			Provider:    ProviderID,
			Status:      domain.ProviderUnhealthy,
			LastChecked: now,
			LastError:   "OPENROUTER_API_KEY not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var decoded modelsResponse
	err := p.getJSON(ctx, p.baseURL+"/models", &decoded)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		p.logger.Warn().Err(err).Msg("openrouter: health probe failed")
		return domain.ProviderHealth{
			Provider:       ProviderID,
			Status:         domain.ProviderUnhealthy,
			LastChecked:    now,
			LastError:      err.Error(),
			ResponseTimeMS: elapsed,
		}
	}

	ids := make([]string, 0, len(decoded.Data))
	for _, m := range decoded.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) > 50 {
		ids = ids[:50]
	}
	return domain.ProviderHealth{
		Provider:       ProviderID,
		Status:         domain.ProviderHealthy,
		LastChecked:    now,
		ResponseTimeMS: elapsed,
		Metadata:       map[string]any{"models": ids},
	}
}

// GenerateVideo drives a chat completion and parses the model's JSON reply.
// All vendor faults are normalized to domain.ErrProviderFailure.
func (p *Provider) GenerateVideo(ctx context.Context, req domain.VideoRequest) (*domain.VideoResult, error) {
	if !p.HasCredentials() {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, ErrMissingAPIKey)
	}

	model := req.Params.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("%w: no openrouter model configured", domain.ErrProviderFailure)
	}

	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{
				Role: "system",
				Content: "You are a video generation API. If you can generate a video, " +
					"return ONLY a JSON object with keys: video_url (public URL), " +
					"duration_seconds (int), resolution (string).",
			},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: 0.2,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openrouter: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openrouter: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.headers(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: openrouter: %v", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: openrouter: read response: %v", domain.ErrProviderFailure, err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if json.Unmarshal(raw, &detail) == nil && detail.Error.Message != "" {
			return nil, fmt.Errorf("%w: openrouter: %s", domain.ErrProviderFailure, detail.Error.Message)
		}
		return nil, fmt.Errorf("%w: openrouter: status %d", domain.ErrProviderFailure, resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: openrouter: decode response: %v", domain.ErrProviderFailure, err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("%w: openrouter: empty completion", domain.ErrProviderFailure)
	}

	var out videoOutput
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("%w: openrouter: model output is not JSON: %v", domain.ErrProviderFailure, err)
	}
	if out.VideoURL == "" {
		return nil, fmt.Errorf("%w: openrouter: model did not provide video_url", domain.ErrProviderFailure)
	}

	var rawPayload map[string]any
	_ = json.Unmarshal(raw, &rawPayload)

	return &domain.VideoResult{
		URL:             out.VideoURL,
		DurationSeconds: out.DurationSeconds,
		Resolution:      out.Resolution,
		CostUSD:         out.CostUSD,
		Raw:             map[string]any{"openrouter": rawPayload},
	}, nil
}

func (p *Provider) getJSON(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("openrouter: build request: %w", err)
	}
	p.headers(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openrouter: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("openrouter: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("openrouter: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("openrouter: decode response: %w", err)
	}
	return nil
}
