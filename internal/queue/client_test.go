package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/kronos/internal/config"
)

func TestEnqueueOptions(t *testing.T) {
	opts := enqueueOptions(config.QueueConfig{
		Name:        "datasets",
		MaxRetry:    2,
		TaskTimeout: time.Minute,
		Retention:   time.Hour,
	})

	got := make(map[asynq.OptionType]any, len(opts))
	for _, opt := range opts {
		got[opt.Type()] = opt.Value()
	}
	if got[asynq.QueueOpt] != "datasets" {
		t.Fatalf("expected queue datasets, got %v", got[asynq.QueueOpt])
	}
	if got[asynq.MaxRetryOpt] != 2 {
		t.Fatalf("expected max retry 2, got %v", got[asynq.MaxRetryOpt])
	}
	if got[asynq.TimeoutOpt] != time.Minute {
		t.Fatalf("expected timeout 1m, got %v", got[asynq.TimeoutOpt])
	}
	if got[asynq.RetentionOpt] != time.Hour {
		t.Fatalf("expected retention 1h, got %v", got[asynq.RetentionOpt])
	}
}

func TestEnqueueOptionsSkipsUnsetDurations(t *testing.T) {
	opts := enqueueOptions(config.QueueConfig{Name: "default", MaxRetry: -1})
	if len(opts) != 2 {
		t.Fatalf("expected queue and retry options only, got %d", len(opts))
	}
	for _, opt := range opts {
		if opt.Type() == asynq.MaxRetryOpt && opt.Value() != 0 {
			t.Fatalf("expected negative retry to clamp to 0, got %v", opt.Value())
		}
	}
}
