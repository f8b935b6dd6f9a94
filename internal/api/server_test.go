package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/kronos/internal/domain"
	"github.com/dunamismax/kronos/internal/queue"
	"github.com/dunamismax/kronos/internal/ratelimit"
	"github.com/dunamismax/kronos/internal/store"
)

type fakeQueue struct {
	payloads []queue.PrepareBatchesPayload
	err      error
}

func (q *fakeQueue) EnqueuePrepareBatches(_ context.Context, payload queue.PrepareBatchesPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{
		ID:            payload.JobID,
		Queue:         "default",
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now().UTC(),
	}, nil
}

type fakeStorage struct {
	objects map[string]bool
	listed  []string
}

func (s fakeStorage) ObjectExists(_ context.Context, key string) (bool, error) {
	return s.objects[key], nil
}

func (s fakeStorage) ListObjects(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for _, key := range s.listed {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out, nil
}

type fakeLimiter struct {
	decision ratelimit.Decision
	subjects []string
}

func (l *fakeLimiter) Allow(_ context.Context, subject string) (ratelimit.Decision, error) {
	l.subjects = append(l.subjects, subject)
	return l.decision, nil
}

func newTestServer(q *fakeQueue, opts ...Option) (*Server, *store.MemoryJobStore) {
	jobs := store.NewMemoryJobStore()
	return NewServer(zerolog.Nop(), q, jobs, opts...), jobs
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func writeSampleFiles(t *testing.T, n int) []domain.Sample {
	t.Helper()
	dir := t.TempDir()
	samples := make([]domain.Sample, n)
	for i := range samples {
		path := filepath.Join(dir, string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))
		samples[i] = domain.Sample{ObjectKey: path, Label: "cat"}
	}
	return samples
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(&fakeQueue{})
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestCreateGetAndStartLocalJob(t *testing.T) {
	q := &fakeQueue{}
	srv, jobs := newTestServer(q)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/jobs", domain.CreateJobRequest{
		SourceType: domain.SourceTypeLocalFile,
		Samples:    writeSampleFiles(t, 4),
		Batching:   domain.BatchSpec{BatchSize: 2, Batches: 3},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	jobID := created["job_id"].(string)
	assert.Equal(t, domain.JobStatusCreated, created["status"])
	assert.EqualValues(t, 4, created["sample_count"])

	rec = do(t, h, http.MethodGet, "/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody(t, rec)
	assert.Equal(t, "user-1", view["user_id"])
	assert.Equal(t, domain.SourceTypeLocalFile, view["source_type"])

	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, domain.JobStatusQueued, decodeBody(t, rec)["status"])

	require.Len(t, q.payloads, 1)
	assert.Equal(t, jobID, q.payloads[0].JobID)
	assert.Len(t, q.payloads[0].Samples, 4)
	assert.Equal(t, 3, q.payloads[0].Batching.Batches)

	job, ok, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusQueued, job.Status)

	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "a queued job cannot be started twice")
}

func TestCreateJobValidation(t *testing.T) {
	srv, _ := newTestServer(&fakeQueue{})
	h := srv.Handler()

	tests := []struct {
		name string
		body any
	}{
		{"unknown source", domain.CreateJobRequest{SourceType: "ftp", Samples: []domain.Sample{{ObjectKey: "a"}}, Batching: domain.BatchSpec{BatchSize: 1, Batches: 1}}},
		{"no samples", domain.CreateJobRequest{SourceType: domain.SourceTypeLocalFile, Batching: domain.BatchSpec{Batches: 1}}},
		{"batch larger than dataset", domain.CreateJobRequest{SourceType: domain.SourceTypeLocalFile, Samples: []domain.Sample{{ObjectKey: "a"}}, Batching: domain.BatchSpec{BatchSize: 2, Batches: 1}}},
		{"unknown field", map[string]any{"source_type": "local_file", "surprise": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(&fakeQueue{})
	rec := do(t, srv.Handler(), http.MethodGet, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartJobMissingLocalSample(t *testing.T) {
	q := &fakeQueue{}
	srv, _ := newTestServer(q)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/jobs", domain.CreateJobRequest{
		SourceType: domain.SourceTypeLocalFile,
		Samples:    []domain.Sample{{ObjectKey: filepath.Join(t.TempDir(), "gone.png")}},
		Batching:   domain.BatchSpec{BatchSize: 1, Batches: 1},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decodeBody(t, rec)["job_id"].(string)

	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, q.payloads)
}

func TestStartJobExpandsObjectPrefix(t *testing.T) {
	q := &fakeQueue{}
	storage := fakeStorage{listed: []string{
		"datasets/pets/cat/1.jpg",
		"datasets/pets/cat/2.jpg",
		"datasets/pets/dog/1.png",
		"datasets/pets/notes.txt",
		"datasets/other/x.jpg",
	}}
	srv, jobs := newTestServer(q, WithStorage(storage))
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/jobs", domain.CreateJobRequest{
		SourceType:   domain.SourceTypeObjectStore,
		ObjectPrefix: "datasets/pets/",
		Batching:     domain.BatchSpec{BatchSize: 3, Shuffle: true, Batches: 2},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID := decodeBody(t, rec)["job_id"].(string)

	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, q.payloads, 1)
	assert.Equal(t, []domain.Sample{
		{ObjectKey: "datasets/pets/cat/1.jpg", Label: "cat"},
		{ObjectKey: "datasets/pets/cat/2.jpg", Label: "cat"},
		{ObjectKey: "datasets/pets/dog/1.png", Label: "dog"},
	}, q.payloads[0].Samples)

	job, _, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Len(t, job.Samples, 3, "resolved samples are persisted on the job")
}

func TestStartJobPrefixSmallerThanBatch(t *testing.T) {
	q := &fakeQueue{}
	srv, _ := newTestServer(q, WithStorage(fakeStorage{listed: []string{"d/a/1.jpg"}}))
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/jobs", domain.CreateJobRequest{
		SourceType:   domain.SourceTypeObjectStore,
		ObjectPrefix: "d/",
		Batching:     domain.BatchSpec{BatchSize: 2, Batches: 1},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decodeBody(t, rec)["job_id"].(string)

	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, q.payloads)
}

func TestStartJobEnqueueFailure(t *testing.T) {
	q := &fakeQueue{err: errors.New("redis down")}
	srv, _ := newTestServer(q)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/jobs", domain.CreateJobRequest{
		SourceType: domain.SourceTypeLocalFile,
		Samples:    writeSampleFiles(t, 1),
		Batching:   domain.BatchSpec{BatchSize: 1, Batches: 1},
	})
	jobID := decodeBody(t, rec)["job_id"].(string)

	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRateLimitRejectsMutatingRoutes(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	srv, _ := newTestServer(&fakeQueue{}, WithRateLimiter(limiter, "X-User-ID"))
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/jobs", domain.CreateJobRequest{})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"user-1:/v1/jobs"}, limiter.subjects)

	rec = do(t, h, http.MethodGet, "/v1/jobs/anything", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "reads bypass the limiter")
	assert.Len(t, limiter.subjects, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(&fakeQueue{})
	h := srv.Handler()

	do(t, h, http.MethodGet, "/healthz", nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kronos_api_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/v1/jobs/{id}/start", routeLabel("/v1/jobs/abc123/start"))
	assert.Equal(t, "/v1/jobs/{id}", routeLabel("/v1/jobs/abc123"))
	assert.Equal(t, "/v1/jobs", routeLabel("/v1/jobs"))
	assert.Equal(t, "other", routeLabel("/favicon.ico"))
}
