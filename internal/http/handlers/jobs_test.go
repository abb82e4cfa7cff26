package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/middleware"
)

type fakeJobs struct {
	jobs        map[string]*domain.Job
	active      int
	activeErr   error
	updates     []domain.JobUpdate
	updatedJobs []string
}

func newFakeJobs(jobs ...*domain.Job) *fakeJobs {
	f := &fakeJobs{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) Create(ctx context.Context, job *domain.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobs) UpdateStatus(ctx context.Context, jobID string, upd domain.JobUpdate) error {
	f.updates = append(f.updates, upd)
	f.updatedJobs = append(f.updatedJobs, jobID)
	if job, ok := f.jobs[jobID]; ok {
		job.Status = upd.Status
		if upd.TaskHandle != nil {
			job.TaskHandle = *upd.TaskHandle
		}
		if upd.ErrorMessage != nil {
			job.ErrorMessage = *upd.ErrorMessage
		}
		if upd.RetryCount != nil {
			job.RetryCount = *upd.RetryCount
		}
	}
	return nil
}

func (f *fakeJobs) ListByOwner(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range f.jobs {
		if j.UserID == userID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeJobs) CountActiveByOwner(ctx context.Context, userID string) (int, error) {
	return f.active, f.activeErr
}

type fakeHealthRepo struct {
	records map[string]*domain.ProviderHealth
}

func (f *fakeHealthRepo) Get(ctx context.Context, provider string) (*domain.ProviderHealth, error) {
	if f.records == nil {
		return nil, domain.ErrNotFound
	}
	rec, ok := f.records[provider]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeHealthRepo) List(ctx context.Context) ([]domain.ProviderHealth, error) { return nil, nil }

func (f *fakeHealthRepo) Upsert(ctx context.Context, health *domain.ProviderHealth) error {
	if f.records == nil {
		f.records = make(map[string]*domain.ProviderHealth)
	}
	f.records[health.Provider] = health
	return nil
}

type fakeQueue struct {
	enqueued []string
	revoked  []string
	handle   string
	err      error
}

func (f *fakeQueue) Enqueue(ctx context.Context, jobID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.enqueued = append(f.enqueued, jobID)
	if f.handle == "" {
		return "handle-1", nil
	}
	return f.handle, nil
}

func (f *fakeQueue) Revoke(ctx context.Context, jobID string) error {
	f.revoked = append(f.revoked, jobID)
	return nil
}

type fakeRegistry struct {
	models map[string][]domain.ProviderModel
	health map[string]domain.ProviderHealth
}

func (f *fakeRegistry) ProviderIDs() []string {
	return []string{"mock", "openrouter"}
}

func (f *fakeRegistry) DisplayName(id string) (string, bool) {
	switch id {
	case "mock":
		return "Mock Provider", true
	case "openrouter":
		return "OpenRouter", true
	}
	return "", false
}

func (f *fakeRegistry) ListModels(ctx context.Context, providerID string) ([]domain.ProviderModel, error) {
	return f.models[providerID], nil
}

func (f *fakeRegistry) HealthCheck(ctx context.Context, providerID string, timeout time.Duration) (domain.ProviderHealth, bool) {
	h, ok := f.health[providerID]
	return h, ok
}

type fakeStore struct {
	data map[string][]byte
}

func (f *fakeStore) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	data, ok := f.data[path]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func newTestApp(jobs *fakeJobs, q *fakeQueue) *App {
	return &App{
		Logger:            zerolog.New(io.Discard),
		Jobs:              jobs,
		ProviderHealth:    &fakeHealthRepo{},
		Providers:         &fakeRegistry{},
		Queue:             q,
		Store:             &fakeStore{},
		MaxActivePerUser:  5,
		DefaultMaxRetries: 3,
	}
}

func authedRequest(method, target, userID string, body string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if userID != "" {
		r = r.WithContext(middleware.WithUserID(r.Context(), userID))
	}
	return r
}

func withJobID(r *http.Request, jobID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("job_id", jobID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateJobRequiresIdentity(t *testing.T) {
	app := newTestApp(newFakeJobs(), &fakeQueue{})
	rr := httptest.NewRecorder()
	app.CreateJob(rr, authedRequest("POST", "/v1/jobs", "", `{"prompt":"a fox"}`))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestCreateJobValidatesPrompt(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "empty", body: `{"prompt":"   "}`},
		{name: "too long", body: `{"prompt":"` + strings.Repeat("x", maxPromptLen+1) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(newFakeJobs(), &fakeQueue{})
			rr := httptest.NewRecorder()
			app.CreateJob(rr, authedRequest("POST", "/v1/jobs", "user-1", tc.body))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestCreateJobEnforcesActiveCap(t *testing.T) {
	jobs := newFakeJobs()
	jobs.active = 5
	app := newTestApp(jobs, &fakeQueue{})
	rr := httptest.NewRecorder()
	app.CreateJob(rr, authedRequest("POST", "/v1/jobs", "user-1", `{"prompt":"a fox"}`))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
}

func TestCreateJobQueuesAndReturnsAccepted(t *testing.T) {
	jobs := newFakeJobs()
	q := &fakeQueue{handle: "task-abc"}
	app := newTestApp(jobs, q)
	rr := httptest.NewRecorder()
	app.CreateJob(rr, authedRequest("POST", "/v1/jobs", "user-1", `{"prompt":"a fox over a fence","params":{"resolution":"720p"}}`))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	var view jobView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Status != domain.JobStatusQueued {
		t.Fatalf("status = %q, want queued", view.Status)
	}
	if view.MaxRetries != 3 {
		t.Fatalf("max retries = %d, want default 3", view.MaxRetries)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != view.ID {
		t.Fatalf("enqueued = %v", q.enqueued)
	}
	if jobs.jobs[view.ID].TaskHandle != "task-abc" {
		t.Fatal("task handle must be persisted after enqueue")
	}
	if view.Params.Resolution != "720p" {
		t.Fatalf("params not carried: %+v", view.Params)
	}
}

func TestCreateJobMarksFailedWhenEnqueueFails(t *testing.T) {
	jobs := newFakeJobs()
	q := &fakeQueue{err: errors.New("redis down")}
	app := newTestApp(jobs, q)
	rr := httptest.NewRecorder()
	app.CreateJob(rr, authedRequest("POST", "/v1/jobs", "user-1", `{"prompt":"a fox"}`))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	for _, job := range jobs.jobs {
		if job.Status != domain.JobStatusFailed {
			t.Fatalf("job status = %q, want failed", job.Status)
		}
	}
}

func TestGetJobScopesToOwner(t *testing.T) {
	job := &domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusQueued}
	app := newTestApp(newFakeJobs(job), &fakeQueue{})

	rr := httptest.NewRecorder()
	app.GetJob(rr, withJobID(authedRequest("GET", "/v1/jobs/job-1", "user-2", ""), "job-1"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("foreign job: status = %d, want 404", rr.Code)
	}

	rr = httptest.NewRecorder()
	app.GetJob(rr, withJobID(authedRequest("GET", "/v1/jobs/job-1", "user-1", ""), "job-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("owner: status = %d, want 200", rr.Code)
	}
}

func TestGetJobHidesResultUntilCompleted(t *testing.T) {
	job := &domain.Job{
		ID:         "job-1",
		UserID:     "user-1",
		Status:     domain.JobStatusProcessing,
		ResultJSON: []byte(`{"videoUrl":"http://stale"}`),
	}
	app := newTestApp(newFakeJobs(job), &fakeQueue{})
	rr := httptest.NewRecorder()
	app.GetJob(rr, withJobID(authedRequest("GET", "/v1/jobs/job-1", "user-1", ""), "job-1"))

	var view jobView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Result != nil {
		t.Fatal("result must not leak before completion")
	}
}

func TestCancelQueuedJobRevokesDelivery(t *testing.T) {
	job := &domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusQueued}
	q := &fakeQueue{}
	app := newTestApp(newFakeJobs(job), q)
	rr := httptest.NewRecorder()
	app.CancelJob(rr, withJobID(authedRequest("POST", "/v1/jobs/job-1/cancel", "user-1", ""), "job-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(q.revoked) != 1 || q.revoked[0] != "job-1" {
		t.Fatalf("revoked = %v", q.revoked)
	}
}

func TestCancelProcessingJobDoesNotRevoke(t *testing.T) {
	job := &domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusProcessing}
	q := &fakeQueue{}
	jobs := newFakeJobs(job)
	app := newTestApp(jobs, q)
	rr := httptest.NewRecorder()
	app.CancelJob(rr, withJobID(authedRequest("POST", "/v1/jobs/job-1/cancel", "user-1", ""), "job-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(q.revoked) != 0 {
		t.Fatal("processing jobs are cancelled cooperatively, not revoked")
	}
	if jobs.jobs["job-1"].Status != domain.JobStatusCancelled {
		t.Fatalf("status = %q, want cancelled", jobs.jobs["job-1"].Status)
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	for _, status := range []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled} {
		job := &domain.Job{ID: "job-1", UserID: "user-1", Status: status}
		app := newTestApp(newFakeJobs(job), &fakeQueue{})
		rr := httptest.NewRecorder()
		app.CancelJob(rr, withJobID(authedRequest("POST", "/v1/jobs/job-1/cancel", "user-1", ""), "job-1"))
		if rr.Code != http.StatusConflict {
			t.Fatalf("%s: status = %d, want 409", status, rr.Code)
		}
	}
}

func TestRetryReopensFailedJob(t *testing.T) {
	job := &domain.Job{
		ID:           "job-1",
		UserID:       "user-1",
		Status:       domain.JobStatusFailed,
		ErrorMessage: "provider failure",
		RetryCount:   1,
		MaxRetries:   3,
	}
	q := &fakeQueue{handle: "task-new"}
	jobs := newFakeJobs(job)
	app := newTestApp(jobs, q)
	rr := httptest.NewRecorder()
	app.RetryJob(rr, withJobID(authedRequest("POST", "/v1/jobs/job-1/retry", "user-1", ""), "job-1"))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
	got := jobs.jobs["job-1"]
	if got.Status != domain.JobStatusQueued {
		t.Fatalf("status = %q, want queued", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Fatal("error message must be cleared on retry")
	}
	if got.TaskHandle != "task-new" {
		t.Fatal("retry must issue a fresh task handle")
	}
	if got.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", got.RetryCount)
	}
}

func TestRetryRejectsNonFailedJobs(t *testing.T) {
	for _, status := range []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusCancelled} {
		job := &domain.Job{ID: "job-1", UserID: "user-1", Status: status, MaxRetries: 3}
		app := newTestApp(newFakeJobs(job), &fakeQueue{})
		rr := httptest.NewRecorder()
		app.RetryJob(rr, withJobID(authedRequest("POST", "/v1/jobs/job-1/retry", "user-1", ""), "job-1"))
		if rr.Code != http.StatusConflict {
			t.Fatalf("%s: status = %d, want 409", status, rr.Code)
		}
	}
}

func TestRetryRejectsExhaustedBudget(t *testing.T) {
	job := &domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusFailed, RetryCount: 3, MaxRetries: 3}
	app := newTestApp(newFakeJobs(job), &fakeQueue{})
	rr := httptest.NewRecorder()
	app.RetryJob(rr, withJobID(authedRequest("POST", "/v1/jobs/job-1/retry", "user-1", ""), "job-1"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func completedJob(token string, expires time.Time) *domain.Job {
	result, _ := json.Marshal(domain.JobResult{
		VideoURL:      "http://localhost/v1/jobs/job-1/video?token=" + token,
		DownloadToken: token,
		ExpiresAt:     expires,
		StoragePath:   "jo/job-1/result.mp4",
		SizeBytes:     4,
	})
	return &domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusCompleted, ResultJSON: result}
}

func TestDownloadAuthorization(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	cases := []struct {
		name   string
		userID string
		token  string
		want   int
	}{
		{name: "owner without token", userID: "user-1", want: http.StatusOK},
		{name: "stranger with valid token", userID: "user-2", token: "secret-token", want: http.StatusOK},
		{name: "anonymous with valid token", token: "secret-token", want: http.StatusOK},
		{name: "stranger with wrong token", userID: "user-2", token: "wrong", want: http.StatusForbidden},
		{name: "anonymous without token", want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(newFakeJobs(completedJob("secret-token", expires)), &fakeQueue{})
			app.Store = &fakeStore{data: map[string][]byte{"jo/job-1/result.mp4": []byte("mp4!")}}

			target := "/v1/jobs/job-1/video"
			if tc.token != "" {
				target += "?token=" + tc.token
			}
			rr := httptest.NewRecorder()
			app.DownloadVideo(rr, withJobID(authedRequest("GET", target, tc.userID, ""), "job-1"))
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
			if tc.want == http.StatusOK && rr.Body.String() != "mp4!" {
				t.Fatalf("body = %q", rr.Body.String())
			}
		})
	}
}

func TestDownloadExpiredToken(t *testing.T) {
	app := newTestApp(newFakeJobs(completedJob("secret-token", time.Now().Add(-time.Minute))), &fakeQueue{})
	app.Store = &fakeStore{data: map[string][]byte{"jo/job-1/result.mp4": []byte("mp4!")}}
	rr := httptest.NewRecorder()
	app.DownloadVideo(rr, withJobID(authedRequest("GET", "/v1/jobs/job-1/video?token=secret-token", "", ""), "job-1"))
	if rr.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rr.Code)
	}
}

func TestDownloadIncompleteJob(t *testing.T) {
	job := &domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusProcessing}
	app := newTestApp(newFakeJobs(job), &fakeQueue{})
	rr := httptest.NewRecorder()
	app.DownloadVideo(rr, withJobID(authedRequest("GET", "/v1/jobs/job-1/video", "user-1", ""), "job-1"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestDownloadServesStoredContentType(t *testing.T) {
	result, _ := json.Marshal(domain.JobResult{
		DownloadToken: "secret-token",
		ExpiresAt:     time.Now().Add(time.Hour),
		StoragePath:   "jo/job-1/result.webm",
		ContentType:   "video/webm",
		SizeBytes:     5,
	})
	job := &domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusCompleted, ResultJSON: result}
	app := newTestApp(newFakeJobs(job), &fakeQueue{})
	app.Store = &fakeStore{data: map[string][]byte{"jo/job-1/result.webm": []byte("webm!")}}

	rr := httptest.NewRecorder()
	app.DownloadVideo(rr, withJobID(authedRequest("GET", "/v1/jobs/job-1/video", "user-1", ""), "job-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/webm" {
		t.Fatalf("content type = %q, want the type recorded at store time", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="job-1.webm"` {
		t.Fatalf("content disposition = %q", got)
	}
}

func TestDownloadDefaultsContentType(t *testing.T) {
	app := newTestApp(newFakeJobs(completedJob("secret-token", time.Now().Add(time.Hour))), &fakeQueue{})
	app.Store = &fakeStore{data: map[string][]byte{"jo/job-1/result.mp4": []byte("mp4!")}}

	rr := httptest.NewRecorder()
	app.DownloadVideo(rr, withJobID(authedRequest("GET", "/v1/jobs/job-1/video", "user-1", ""), "job-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/mp4" {
		t.Fatalf("content type = %q, want video/mp4 fallback", got)
	}
}
