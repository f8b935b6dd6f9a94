package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeObjectStore = "object_store"

	DefaultBatchSize = 32
	MaxBatchesPerJob = 100_000
)

type CreateJobRequest struct {
	UserID       string    `json:"user_id,omitempty"`
	SourceType   string    `json:"source_type"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	Samples      []Sample  `json:"samples,omitempty"`
	ObjectPrefix string    `json:"object_prefix,omitempty"`
	Prep         PrepSpec  `json:"prep"`
	Batching     BatchSpec `json:"batching"`
}

// Sample is one labelled input. ObjectKey is a filesystem path for local_file
// sources and an object key for object_store sources.
type Sample struct {
	ObjectKey string `json:"object_key" yaml:"object_key"`
	Label     string `json:"label" yaml:"label"`
}

type PrepSpec struct {
	Steps         []PrepStep `json:"steps,omitempty" yaml:"steps,omitempty"`
	Normalization string     `json:"normalization,omitempty" yaml:"normalization,omitempty"`
	ChannelMeans  []float64  `json:"channel_means,omitempty" yaml:"channel_means,omitempty"`
}

type PrepStep struct {
	Action   string  `json:"action" yaml:"action"`
	Width    int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height   int     `json:"height,omitempty" yaml:"height,omitempty"`
	Method   string  `json:"method,omitempty" yaml:"method,omitempty"`
	Fraction float64 `json:"fraction,omitempty" yaml:"fraction,omitempty"`
}

type BatchSpec struct {
	BatchSize int     `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Shuffle   bool    `json:"shuffle,omitempty" yaml:"shuffle,omitempty"`
	Seed      *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
	Batches   int     `json:"batches" yaml:"batches"`
}

type Job struct {
	ID           string
	UserID       string
	Status       string
	SourceType   string
	WebhookURL   string
	Samples      []Sample
	ObjectPrefix string
	Prep         PrepSpec
	Batching     BatchSpec
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WithDefaults fills the batch size when it was omitted.
func (b BatchSpec) WithDefaults() BatchSpec {
	if b.BatchSize == 0 {
		b.BatchSize = DefaultBatchSize
	}
	return b
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeObjectStore {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}

	prefix := strings.TrimSpace(r.ObjectPrefix)
	if prefix != "" && sourceType != SourceTypeObjectStore {
		return errors.New("object_prefix is only supported for source_type=object_store")
	}
	if len(r.Samples) == 0 && prefix == "" {
		return errors.New("samples or object_prefix is required")
	}
	if len(r.Samples) > 0 && prefix != "" {
		return errors.New("samples and object_prefix are mutually exclusive")
	}
	for i, sample := range r.Samples {
		if strings.TrimSpace(sample.ObjectKey) == "" {
			return fmt.Errorf("samples[%d].object_key is required", i)
		}
	}

	if err := r.Prep.Validate(); err != nil {
		return err
	}
	return r.Batching.Validate(len(r.Samples))
}

func (p PrepSpec) Validate() error {
	for i, step := range p.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("prep.steps[%d]: %w", i, err)
		}
	}
	switch p.Normalization {
	case "", NormalizationZeroOne, NormalizationMinusPlusOne:
	default:
		return fmt.Errorf("prep.normalization must be one of %q, %q", NormalizationZeroOne, NormalizationMinusPlusOne)
	}
	if len(p.ChannelMeans) != 0 && len(p.ChannelMeans) != 3 {
		return fmt.Errorf("prep.channel_means must have 3 values (r,g,b), got %d", len(p.ChannelMeans))
	}
	return nil
}

// Validate checks the batching parameters. sampleCount is ignored when zero,
// which is the case for prefix-based datasets resolved at start time.
func (b BatchSpec) Validate(sampleCount int) error {
	b = b.WithDefaults()
	if b.BatchSize < 0 {
		return fmt.Errorf("batching.batch_size must be positive, got %d", b.BatchSize)
	}
	if sampleCount > 0 && b.BatchSize > sampleCount {
		return fmt.Errorf("batching.batch_size %d exceeds sample count %d", b.BatchSize, sampleCount)
	}
	if b.Batches <= 0 {
		return errors.New("batching.batches must be positive")
	}
	if b.Batches > MaxBatchesPerJob {
		return fmt.Errorf("batching.batches must be at most %d", MaxBatchesPerJob)
	}
	return nil
}
