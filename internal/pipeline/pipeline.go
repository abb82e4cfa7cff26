package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/providers"
	"vidgen/internal/storage"
)

// maxFetchBytes bounds how much of a provider-hosted URL is read into memory.
const maxFetchBytes = 1 << 30

// ProviderError ties a pipeline failure to the provider that was selected,
// so the task runner can feed the outcome back into that provider's health
// record.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderSelector is the slice of the provider manager the pipeline needs.
type ProviderSelector interface {
	SelectProvider(ctx context.Context, preferredProviderID, preferredModelID string, fallbackOrder []string) providers.Selection
}

// Options configures a Pipeline.
type Options struct {
	Selector      ProviderSelector
	Store         storage.VideoStore
	Logger        infra.Logger
	HTTPClient    *http.Client
	PublicBaseURL string
	APIVersion    string
	FallbackOrder []string
	FetchTimeout  time.Duration
	RetentionDays int
}

// Pipeline turns a job into a stored, token-protected video. It owns the
// request it builds; the provider returns ownership of the result, and the
// pipeline alone decides to persist or discard it. Provider-hosted URLs are
// always re-hosted: handing them to callers would bypass access control and
// retention.
type Pipeline struct {
	selector      ProviderSelector
	store         storage.VideoStore
	logger        infra.Logger
	httpClient    *http.Client
	publicBaseURL string
	apiVersion    string
	fallbackOrder []string
	retentionDays int
}

// Output carries the completed result payload plus provenance for the task
// runner's bookkeeping.
type Output struct {
	Result           domain.JobResult
	ResultJSON       []byte
	UsedProvider     string
	UsedModel        string
	GenerationTimeMS int64
}

// New constructs a Pipeline.
func New(opts Options) *Pipeline {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.FetchTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = "v1"
	}
	retention := opts.RetentionDays
	if retention <= 0 {
		retention = 7
	}
	return &Pipeline{
		selector:      opts.Selector,
		store:         opts.Store,
		logger:        opts.Logger,
		httpClient:    httpClient,
		publicBaseURL: opts.PublicBaseURL,
		apiVersion:    apiVersion,
		fallbackOrder: opts.FallbackOrder,
		retentionDays: retention,
	}
}

// Run generates, materializes, and tokenizes a video for the job.
func (p *Pipeline) Run(ctx context.Context, job *domain.Job) (*Output, error) {
	params := normalizeParams(job.Params)

	selection := p.selector.SelectProvider(ctx, params.Provider, params.Model, p.fallbackOrder)
	provider := selection.Provider

	out, err := p.run(ctx, job, params, selection)
	if err != nil {
		return nil, &ProviderError{Provider: provider.ProviderID(), Err: err}
	}
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, job *domain.Job, params domain.GenerationParams, selection providers.Selection) (*Output, error) {
	provider := selection.Provider

	start := time.Now()
	result, err := provider.GenerateVideo(ctx, domain.VideoRequest{
		Prompt: job.Prompt,
		Params: params,
		UserID: job.UserID,
		JobID:  job.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("generate video: %w", err)
	}
	if !result.HasOutput() {
		return nil, fmt.Errorf("%w: provider %s returned neither bytes nor url", domain.ErrContractViolation, provider.ProviderID())
	}

	data := result.Bytes
	contentType := "video/mp4"
	if len(data) == 0 {
		data, contentType, err = p.fetch(ctx, result.URL)
		if err != nil {
			return nil, err
		}
	}

	stored, err := p.store.Store(ctx, job.ID, data, "mp4", contentType, map[string]string{
		"provider": provider.ProviderID(),
		"model":    selection.ModelID,
	})
	if err != nil {
		return nil, fmt.Errorf("store video: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	token, err := newDownloadToken()
	if err != nil {
		return nil, fmt.Errorf("mint download token: %w", err)
	}

	now := time.Now().UTC()
	resolution := result.Resolution
	if resolution == "" {
		resolution = params.Resolution
	}
	out := domain.JobResult{
		VideoURL:        p.accessURL(job.ID, token),
		DownloadToken:   token,
		ExpiresAt:       now.Add(time.Duration(p.retentionDays) * 24 * time.Hour),
		StoragePath:     stored.Path,
		SizeBytes:       stored.SizeBytes,
		ContentType:     stored.ContentType,
		DurationSeconds: result.DurationSeconds,
		Resolution:      resolution,
		ProviderJobID:   result.ProviderJobID,
		ProviderRaw:     result.Raw,
		CostUSD:         result.CostUSD,
		GeneratedAt:     now,
	}
	resultJSON, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("provider", provider.ProviderID()).
		Str("model", selection.ModelID).
		Int64("generation_time_ms", elapsed).
		Int64("size_bytes", stored.SizeBytes).
		Msg("pipeline: video generated")

	return &Output{
		Result:           out,
		ResultJSON:       resultJSON,
		UsedProvider:     provider.ProviderID(),
		UsedModel:        selection.ModelID,
		GenerationTimeMS: elapsed,
	}, nil
}

func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build fetch request: %v", domain.ErrProviderFailure, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: fetch provider url: %v", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: fetch provider url: status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read provider url: %v", domain.ErrProviderFailure, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	return data, contentType, nil
}

func (p *Pipeline) accessURL(jobID, token string) string {
	return fmt.Sprintf("%s/%s/jobs/%s/video?token=%s", p.publicBaseURL, p.apiVersion, jobID, token)
}

func normalizeParams(params domain.GenerationParams) domain.GenerationParams {
	if params.Resolution == "" {
		params.Resolution = "1080p"
	}
	if params.Quality == "" {
		params.Quality = "high"
	}
	if params.Mode == "" {
		params.Mode = domain.ModeTextToVideo
	}
	return params
}

func newDownloadToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
