package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/kronos/internal/config"
	"github.com/dunamismax/kronos/internal/domain"
	"github.com/dunamismax/kronos/internal/imageprep"
	"github.com/dunamismax/kronos/internal/minibatch"
	"github.com/dunamismax/kronos/internal/pipeline"
	"github.com/dunamismax/kronos/internal/queue"
	"github.com/dunamismax/kronos/internal/storage"
	"github.com/dunamismax/kronos/internal/store"
	"github.com/dunamismax/kronos/internal/webhook"
)

type Server struct {
	logger          zerolog.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  batchProcessor
	objectProcessor batchProcessor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
	// retries reports the attempt state of the running task; nil reads it
	// from the asynq task context.
	retries func(ctx context.Context) (retried, maxRetry int, ok bool)
}

type batchProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, errors.New("storage client is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	objectProcessor, err := pipeline.NewObjectStoreProcessor(
		pipeline.ObjectStoreFetcher{Storage: storageClient},
		pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: workerCfg.OutputPrefix},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   asynqLogger{logger: logger.With().Str("subsystem", "asynq").Logger()},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn().
						Err(err).
						Str("type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   webhookClient,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("kronos/worker"),
	}
	return s, nil
}

// Run processes tasks until ctx is cancelled, then drains in-flight tasks.
func (s *Server) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypePrepareBatches, s.handlePrepareBatches)
	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}

	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handlePrepareBatches(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParsePrepareBatchesPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.prepare_batches", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.samples", len(payload.Samples)),
		attribute.Int("job.batches", payload.Batching.Batches),
		attribute.Int("job.batch_size", payload.Batching.WithDefaults().BatchSize),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	logger := s.logger.With().Str("job_id", payload.JobID).Logger()
	logger.Info().
		Str("source_type", payload.SourceType).
		Int("samples", len(payload.Samples)).
		Int("batches", payload.Batching.Batches).
		Msg("preparing batches")

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.process(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch preparation failed")

		var transformErr *minibatch.TransformError
		if errors.As(err, &transformErr) {
			s.metrics.transformFailuresTotal.Inc()
			span.SetAttributes(
				attribute.Int("failure.batch", transformErr.Batch),
				attribute.Int("failure.position", transformErr.Position),
			)
		}

		if !permanent(err) && !s.finalAttempt(ctx) {
			// asynq runs the task again; the job is not failed yet.
			outcome = outcomeRetrying
			logger.Warn().Err(err).Msg("batch preparation failed, retrying")
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("prepare batches: %w", err)
		}

		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		return fmt.Errorf("prepare batches: %v: %w", err, asynq.SkipRetry)
	}

	logger.Info().
		Int("batches", len(result.Outputs)).
		Int("samples", result.SamplesProcessed).
		Msg("batches prepared")
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))
	outcome = domain.JobStatusSucceeded

	// Batches and usage are committed, so a lost completion event must not
	// re-run the job.
	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"outputs":      result.Outputs,
	}); err != nil {
		span.RecordError(err)
	}

	span.SetStatus(codes.Ok, "prepared")
	return nil
}

func (s *Server) process(ctx context.Context, payload queue.PrepareBatchesPayload) (pipeline.Result, error) {
	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		Samples:    payload.Samples,
		Prep:       payload.Prep,
		Batching:   payload.Batching,
	}

	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		return s.localProcessor.Process(ctx, request)
	case domain.SourceTypeObjectStore:
		return s.objectProcessor.Process(ctx, request)
	default:
		return pipeline.Result{}, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}
}

const outcomeRetrying = "retrying"

// permanent reports failures a retry cannot fix. Fetch errors are not
// listed: storage and disk reads can recover.
func permanent(err error) bool {
	return errors.Is(err, minibatch.ErrValidation) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
		errors.Is(err, pipeline.ErrInvalidRequest) ||
		errors.Is(err, imageprep.ErrUndecodable) ||
		errors.Is(err, imageprep.ErrEmptyImage) ||
		errors.Is(err, imageprep.ErrInvalidStep) ||
		errors.Is(err, storage.ErrObjectTooLarge)
}

// finalAttempt reports whether asynq will not run the task again. Outside a
// task context every attempt is the last.
func (s *Server) finalAttempt(ctx context.Context) bool {
	retries := s.retries
	if retries == nil {
		retries = asynqRetries
	}
	retried, maxRetry, ok := retries(ctx)
	return !ok || retried >= maxRetry
}

func asynqRetries(ctx context.Context) (int, int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0, false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return retried, maxRetry, ok
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("status", status).Msg("job status update failed")
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.PrepareBatchesPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Error().Err(err).Str("job_id", payload.JobID).Str("event", event).Msg("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, computeDuration time.Duration) {
	var bytesWritten int64
	for _, output := range result.Outputs {
		bytesWritten += int64(output.Bytes)
	}

	computeTimeMS := max(computeDuration.Milliseconds(), 1)

	s.metrics.batchesTotal.Add(float64(len(result.Outputs)))
	s.metrics.samplesTotal.Add(float64(result.SamplesProcessed))
	s.metrics.bytesWrittenTotal.Add(float64(bytesWritten))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))

	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("usage lookup failed")
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	usage := domain.UsageLog{
		UserID:           userID,
		JobID:            jobID,
		SamplesProcessed: int64(result.SamplesProcessed),
		BatchesEmitted:   int64(len(result.Outputs)),
		BytesWritten:     bytesWritten,
		ComputeTimeMS:    computeTimeMS,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("usage log write failed")
	}
}
