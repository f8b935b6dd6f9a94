package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/kronos/internal/domain"
	"github.com/hibiken/asynq"
)

const TypePrepareBatches = "dataset:batches"

type PrepareBatchesPayload struct {
	JobID       string           `json:"job_id"`
	SourceType  string           `json:"source_type"`
	WebhookURL  string           `json:"webhook_url,omitempty"`
	Samples     []domain.Sample  `json:"samples"`
	Prep        domain.PrepSpec  `json:"prep"`
	Batching    domain.BatchSpec `json:"batching"`
	RequestedAt time.Time        `json:"requested_at"`
}

func NewPrepareBatchesTask(payload PrepareBatchesPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal batches payload: %w", err)
	}
	return asynq.NewTask(TypePrepareBatches, body), nil
}

func ParsePrepareBatchesPayload(task *asynq.Task) (PrepareBatchesPayload, error) {
	var payload PrepareBatchesPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PrepareBatchesPayload{}, fmt.Errorf("unmarshal batches payload: %w", err)
	}
	if payload.JobID == "" {
		return PrepareBatchesPayload{}, fmt.Errorf("batches payload is missing job_id")
	}
	return payload, nil
}
