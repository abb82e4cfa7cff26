package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vidgen/internal/domain"
	"vidgen/internal/middleware"
)

type createJobRequest struct {
	Prompt     string                   `json:"prompt"`
	Params     *domain.GenerationParams `json:"params"`
	MaxRetries *int                     `json:"max_retries"`
}

type jobView struct {
	ID            string                  `json:"id"`
	Status        domain.JobStatus        `json:"status"`
	Prompt        string                  `json:"prompt"`
	Params        domain.GenerationParams `json:"params"`
	Progress      int                     `json:"progress"`
	StatusMessage string                  `json:"status_message,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Provider      string                  `json:"provider,omitempty"`
	Model         string                  `json:"model,omitempty"`
	RetryCount    int                     `json:"retry_count"`
	MaxRetries    int                     `json:"max_retries"`
	Result        json.RawMessage         `json:"result,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	StartedAt     *time.Time              `json:"started_at,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

func toJobView(job *domain.Job) jobView {
	v := jobView{
		ID:            job.ID,
		Status:        job.Status,
		Prompt:        job.Prompt,
		Params:        job.Params,
		Progress:      job.Progress,
		StatusMessage: job.StatusMessage,
		Error:         job.ErrorMessage,
		Provider:      job.UsedProvider,
		Model:         job.UsedModel,
		RetryCount:    job.RetryCount,
		MaxRetries:    job.MaxRetries,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	if job.Status == domain.JobStatusCompleted && len(job.ResultJSON) > 0 {
		v.Result = json.RawMessage(job.ResultJSON)
	}
	return v
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		a.error(w, http.StatusBadRequest, "invalid_prompt", "prompt must not be empty")
		return
	}
	if len(prompt) > maxPromptLen {
		a.error(w, http.StatusBadRequest, "invalid_prompt", fmt.Sprintf("prompt exceeds %d characters", maxPromptLen))
		return
	}

	active, err := a.Jobs.CountActiveByOwner(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to check active jobs")
		return
	}
	if a.MaxActivePerUser > 0 && active >= a.MaxActivePerUser {
		a.error(w, http.StatusTooManyRequests, "quota_exceeded", "too many active jobs")
		return
	}

	job := &domain.Job{
		ID:         uuid.NewString(),
		UserID:     userID,
		Prompt:     prompt,
		Status:     domain.JobStatusQueued,
		MaxRetries: a.DefaultMaxRetries,
	}
	if req.Params != nil {
		job.Params = *req.Params
	}
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		job.MaxRetries = *req.MaxRetries
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	handle, err := a.Queue.Enqueue(r.Context(), job.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		msg := "could not enqueue job"
		_ = a.Jobs.UpdateStatus(r.Context(), job.ID, domain.JobUpdate{
			Status:       domain.JobStatusFailed,
			ErrorMessage: &msg,
		})
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	_ = a.Jobs.UpdateStatus(r.Context(), job.ID, domain.JobUpdate{
		Status:     domain.JobStatusQueued,
		TaskHandle: &handle,
	})
	job.TaskHandle = handle

	a.json(w, http.StatusAccepted, toJobView(job))
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, ok := a.loadOwnedJob(w, r, userID)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, toJobView(job))
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := a.Jobs.ListByOwner(r.Context(), userID, limit)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	items := make([]jobView, 0, len(jobs))
	for i := range jobs {
		items = append(items, toJobView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, ok := a.loadOwnedJob(w, r, userID)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		a.error(w, http.StatusConflict, "conflict", "job already finished")
		return
	}

	msg := "Cancelled by user"
	now := time.Now().UTC()
	upd := domain.JobUpdate{
		Status:        domain.JobStatusCancelled,
		StatusMessage: &msg,
		CompletedAt:   &now,
	}
	if err := a.Jobs.UpdateStatus(r.Context(), job.ID, upd); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	if job.Status == domain.JobStatusQueued {
		// Pull the delivery back out of the queue so no worker picks it up.
		// Processing jobs finish their in-flight provider call; the runner
		// observes the cancelled status on any later re-delivery.
		if err := a.Queue.Revoke(r.Context(), job.ID); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("revoke failed")
		}
	}
	job.Status = domain.JobStatusCancelled
	job.StatusMessage = msg
	job.CompletedAt = &now
	a.json(w, http.StatusOK, toJobView(job))
}

func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, ok := a.loadOwnedJob(w, r, userID)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusFailed {
		a.error(w, http.StatusConflict, "conflict", "only failed jobs can be retried")
		return
	}
	if job.RetryCount >= job.MaxRetries {
		a.error(w, http.StatusConflict, "retry_exhausted", "retry budget exhausted")
		return
	}

	handle, err := a.Queue.Enqueue(r.Context(), job.ID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	cleared := ""
	msg := "Queued for retry"
	retries := job.RetryCount + 1
	progress := 0
	upd := domain.JobUpdate{
		Status:        domain.JobStatusQueued,
		ErrorMessage:  &cleared,
		TaskHandle:    &handle,
		RetryCount:    &retries,
		Progress:      &progress,
		StatusMessage: &msg,
	}
	if err := a.Jobs.UpdateStatus(r.Context(), job.ID, upd); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to reopen job")
		return
	}
	job.Status = domain.JobStatusQueued
	job.ErrorMessage = ""
	job.TaskHandle = handle
	job.RetryCount = retries
	job.Progress = progress
	job.StatusMessage = msg
	a.json(w, http.StatusAccepted, toJobView(job))
}

func (a *App) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if job.Status != domain.JobStatusCompleted || len(job.ResultJSON) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no video for this job")
		return
	}
	var result domain.JobResult
	if err := json.Unmarshal(job.ResultJSON, &result); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "corrupt job result")
		return
	}

	userID := a.currentUserID(r)
	token := r.URL.Query().Get("token")
	isOwner := userID != "" && userID == job.UserID
	tokenOK := token != "" && result.DownloadToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(result.DownloadToken)) == 1
	if !isOwner && !tokenOK {
		a.error(w, http.StatusForbidden, "forbidden", "not allowed to download this video")
		return
	}
	if !result.ExpiresAt.IsZero() && time.Now().After(result.ExpiresAt) {
		a.error(w, http.StatusGone, "expired", "download link expired")
		return
	}

	rc, size, err := a.Store.Open(r.Context(), result.StoragePath)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "video no longer available")
		return
	}
	defer rc.Close()

	a.Logger.Info().
		Str("job_id", job.ID).
		Str("country", middleware.CountryFromContext(r.Context())).
		Bool("owner", isOwner).
		Msg("video download")

	contentType := result.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	filename := job.ID + path.Ext(result.StoragePath)
	if path.Ext(result.StoragePath) == "" {
		filename = job.ID + ".mp4"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// loadOwnedJob fetches a job and enforces owner scoping. Missing and foreign
// jobs are indistinguishable to the caller.
func (a *App) loadOwnedJob(w http.ResponseWriter, r *http.Request, userID string) (*domain.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return nil, false
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil || job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	return job, true
}
