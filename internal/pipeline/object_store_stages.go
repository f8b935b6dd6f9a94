package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dunamismax/kronos/internal/domain"
)

const SourceTypeObjectStore = domain.SourceTypeObjectStore

type ObjectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

func NewObjectStoreProcessor(fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter, logger zerolog.Logger) (*Processor, error) {
	if fetcher.Storage == nil || emitter.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(fetcher, emitter, logger)
}

type ObjectStoreFetcher struct {
	Storage ObjectReader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request, objectKey string) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, SourceTypeObjectStore) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, objectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, batch EncodedBatch) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	jobPrefix := path.Join(defaultOutputPrefix(e.OutputPrefix), sanitizePathToken(req.JobID))
	featuresKey := path.Join(jobPrefix, batch.FeaturesName())
	labelsKey := path.Join(jobPrefix, batch.LabelsName())

	if err := e.Storage.WriteObject(ctx, featuresKey, batch.Features, "application/octet-stream"); err != nil {
		return Output{}, err
	}
	if err := e.Storage.WriteObject(ctx, labelsKey, batch.Labels, "application/json"); err != nil {
		return Output{}, err
	}

	return batch.output(featuresKey, labelsKey), nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "batches"
	}
	return prefix
}
