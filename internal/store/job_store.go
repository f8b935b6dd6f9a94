package store

import (
	"context"
	"errors"

	"github.com/dunamismax/kronos/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// SetSamples replaces the sample list, used when an object prefix is
	// resolved into concrete samples at start time.
	SetSamples(ctx context.Context, id string, samples []domain.Sample) error
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
