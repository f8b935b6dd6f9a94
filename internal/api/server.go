package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/kronos/internal/domain"
	"github.com/dunamismax/kronos/internal/id"
	"github.com/dunamismax/kronos/internal/queue"
	"github.com/dunamismax/kronos/internal/storage"
	"github.com/dunamismax/kronos/internal/store"
)

type Server struct {
	logger                zerolog.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	tracer                trace.Tracer
	metrics               *metrics
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueuePrepareBatches(ctx context.Context, payload queue.PrepareBatchesPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

type Option func(*Server)

func WithStorage(storage objectStorage) Option {
	return func(s *Server) { s.storage = storage }
}

// WithRateLimiter limits mutating job routes per value of userIDHeader.
func WithRateLimiter(limiter RateLimiter, userIDHeader string) Option {
	return func(s *Server) {
		s.rateLimiter = limiter
		if strings.TrimSpace(userIDHeader) != "" {
			s.rateLimitUserIDHeader = userIDHeader
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

func NewServer(logger zerolog.Logger, queueClient queueEnqueuer, jobStore store.JobStore, opts ...Option) *Server {
	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		storage:               unavailableObjectStorage{},
		rateLimitUserIDHeader: "X-User-ID",
		metrics:               newMetrics(),
		mux:                   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.storage == nil {
		s.storage = unavailableObjectStorage{}
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

var errStorageUnavailable = errors.New("object storage is unavailable")

func (unavailableObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errStorageUnavailable
}

func (unavailableObjectStorage) ListObjects(context.Context, string) ([]string, error) {
	return nil, errStorageUnavailable
}

// Handler returns the routes wrapped in tracing, metrics and rate limiting.
func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.instrument(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.handler())
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:           id.New(),
		UserID:       userID,
		Status:       domain.JobStatusCreated,
		SourceType:   strings.ToLower(strings.TrimSpace(req.SourceType)),
		WebhookURL:   strings.TrimSpace(req.WebhookURL),
		Samples:      req.Samples,
		ObjectPrefix: strings.TrimSpace(req.ObjectPrefix),
		Prep:         req.Prep,
		Batching:     req.Batching.WithDefaults(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	s.metrics.jobsCreated.WithLabelValues(job.SourceType).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       job.ID,
		"status":       job.Status,
		"sample_count": len(job.Samples),
		"start_url":    fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	samples, err := s.resolveSamples(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := job.Batching.Validate(len(samples)); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if len(job.Samples) == 0 {
		if err := s.jobStore.SetSamples(r.Context(), job.ID, samples); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("store resolved samples failed")
			writeError(w, http.StatusInternalServerError, "failed to store samples")
			return
		}
	}

	payload := queue.PrepareBatchesPayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		Samples:     samples,
		Prep:        job.Prep,
		Batching:    job.Batching,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueuePrepareBatches(r.Context(), payload)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			writeError(w, http.StatusConflict, "job is already queued")
			return
		}
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.enqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("update status failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       job.ID,
		"status":       domain.JobStatusQueued,
		"sample_count": len(samples),
		"queue":        taskInfo.Queue,
		"task_id":      taskInfo.ID,
		"state":        taskInfo.State.String(),
		"enqueued_at":  taskInfo.NextProcessAt,
	})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

// resolveSamples expands an object prefix into labelled samples, or checks
// that every explicitly listed sample exists.
func (s *Server) resolveSamples(ctx context.Context, job domain.Job) ([]domain.Sample, error) {
	if len(job.Samples) == 0 {
		keys, err := s.storage.ListObjects(ctx, job.ObjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("list dataset objects: %w", err)
		}
		samples := storage.SamplesFromKeys(keys)
		if len(samples) == 0 {
			return nil, fmt.Errorf("no images found under prefix %q", job.ObjectPrefix)
		}
		return samples, nil
	}

	for _, sample := range job.Samples {
		if err := s.verifySourceExists(ctx, job.SourceType, sample.ObjectKey); err != nil {
			return nil, err
		}
	}
	return job.Samples, nil
}

func (s *Server) verifySourceExists(ctx context.Context, sourceType, objectKey string) error {
	switch sourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(objectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", objectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, objectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", objectKey)
		}
		return nil
	}
}

type jobView struct {
	ID           string           `json:"job_id"`
	UserID       string           `json:"user_id,omitempty"`
	Status       string           `json:"status"`
	SourceType   string           `json:"source_type"`
	ObjectPrefix string           `json:"object_prefix,omitempty"`
	SampleCount  int              `json:"sample_count"`
	Prep         domain.PrepSpec  `json:"prep"`
	Batching     domain.BatchSpec `json:"batching"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func newJobView(job domain.Job) jobView {
	return jobView{
		ID:           job.ID,
		UserID:       job.UserID,
		Status:       job.Status,
		SourceType:   job.SourceType,
		ObjectPrefix: job.ObjectPrefix,
		SampleCount:  len(job.Samples),
		Prep:         job.Prep,
		Batching:     job.Batching,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 8 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
