package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dunamismax/kronos/internal/domain"
	"github.com/dunamismax/kronos/internal/imageprep"
	"github.com/dunamismax/kronos/internal/minibatch"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrInvalidRequest        = errors.New("invalid batch request")
)

type Request struct {
	JobID      string
	SourceType string
	Samples    []domain.Sample
	Prep       domain.PrepSpec
	Batching   domain.BatchSpec
}

type Output struct {
	Batch        int    `json:"batch"`
	Epoch        int    `json:"epoch"`
	Samples      int    `json:"samples"`
	Shape        []int  `json:"shape"`
	FeaturesPath string `json:"features_path"`
	LabelsPath   string `json:"labels_path"`
	Bytes        int    `json:"bytes"`
}

type Result struct {
	Outputs          []Output
	SourceBytes      int64
	SamplesProcessed int
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request, objectKey string) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, batch EncodedBatch) (Output, error)
}

type Processor struct {
	fetcher Fetcher
	codec   imageprep.Codec
	emitter Emitter
	logger  zerolog.Logger
}

func NewProcessor(fetcher Fetcher, emitter Emitter, logger zerolog.Logger) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	return &Processor{
		fetcher: fetcher,
		codec:   imageprep.DefaultCodec(),
		emitter: emitter,
		logger:  logger,
	}, nil
}

func NewLocalProcessor(outputDir string, logger zerolog.Logger) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, logger)
}

// Process prepares req.Batching.Batches minibatches and emits each one as it
// is produced. The sample stream itself is infinite; the batch count bounds it.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, fmt.Errorf("%w: job_id is required", ErrInvalidRequest)
	}
	if len(req.Samples) == 0 {
		return Result{}, fmt.Errorf("%w: at least one sample is required", ErrInvalidRequest)
	}
	batching := req.Batching.WithDefaults()
	if err := batching.Validate(len(req.Samples)); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var sourceBytes int64
	prep := imageprep.Preparer{
		Codec: p.codec,
		Spec:  req.Prep,
		Fetch: func(ctx context.Context, objectKey string) ([]byte, error) {
			data, err := p.fetcher.Fetch(ctx, req, objectKey)
			sourceBytes += int64(len(data))
			return data, err
		},
	}
	if err := prep.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	keys := make([]string, len(req.Samples))
	labels := make([]string, len(req.Samples))
	for i, s := range req.Samples {
		keys[i], labels[i] = s.ObjectKey, s.Label
	}

	logger := p.logger.With().Str("job_id", req.JobID).Logger()
	opts := []minibatch.Option{
		minibatch.WithBatchSize(batching.BatchSize),
		minibatch.WithShuffle(batching.Shuffle),
		minibatch.WithLogger(logger),
	}
	if batching.Seed != nil {
		opts = append(opts, minibatch.WithSeed(*batching.Seed))
	}

	producer, err := minibatch.New(keys, labels, prep.Transform(ctx), opts...)
	if err != nil {
		return Result{}, fmt.Errorf("build producer: %w", err)
	}

	out := Result{Outputs: make([]Output, 0, batching.Batches)}
	for seq := 0; seq < batching.Batches; seq++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		batch, err := producer.Next()
		if err != nil {
			return Result{}, fmt.Errorf("prepare stage batch=%d: %w", seq, err)
		}

		encoded, err := EncodeBatch(seq, batch)
		if err != nil {
			return Result{}, fmt.Errorf("encode stage batch=%d: %w", seq, err)
		}

		written, err := p.emitter.Emit(ctx, req, encoded)
		if err != nil {
			return Result{}, fmt.Errorf("emit stage batch=%d: %w", seq, err)
		}
		out.Outputs = append(out.Outputs, written)
		out.SamplesProcessed += batch.Len()

		logger.Debug().
			Int("batch", seq).
			Int("epoch", batch.Epoch).
			Int("bytes", written.Bytes).
			Msg("batch emitted")
	}
	out.SourceBytes = sourceBytes

	return out, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request, objectKey string) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(objectKey)
	if err != nil {
		return nil, fmt.Errorf("read sample file %s: %w", objectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, batch EncodedBatch) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	featuresPath := filepath.Join(jobDir, batch.FeaturesName())
	if err := os.WriteFile(featuresPath, batch.Features, 0o644); err != nil {
		return Output{}, fmt.Errorf("write features file: %w", err)
	}
	labelsPath := filepath.Join(jobDir, batch.LabelsName())
	if err := os.WriteFile(labelsPath, batch.Labels, 0o644); err != nil {
		return Output{}, fmt.Errorf("write labels file: %w", err)
	}

	return batch.output(featuresPath, labelsPath), nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
