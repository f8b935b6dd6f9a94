package queue

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/kronos/internal/config"
)

type Client struct {
	client *asynq.Client
	opts   []asynq.Option
}

func NewClient(cfg config.QueueConfig) *Client {
	return &Client{
		client: asynq.NewClient(cfg.RedisClientOpt()),
		opts:   enqueueOptions(cfg),
	}
}

func enqueueOptions(cfg config.QueueConfig) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(cfg.Name),
		asynq.MaxRetry(max(cfg.MaxRetry, 0)),
	}
	if cfg.TaskTimeout > 0 {
		opts = append(opts, asynq.Timeout(cfg.TaskTimeout))
	}
	if cfg.Retention > 0 {
		opts = append(opts, asynq.Retention(cfg.Retention))
	}
	return opts
}

// EnqueuePrepareBatches schedules a dataset job. The task id is the job id so
// a double start of the same job is rejected by asynq with ErrTaskIDConflict.
func (c *Client) EnqueuePrepareBatches(ctx context.Context, payload PrepareBatchesPayload) (*asynq.TaskInfo, error) {
	task, err := NewPrepareBatchesTask(payload)
	if err != nil {
		return nil, err
	}
	opts := append([]asynq.Option{asynq.TaskID(payload.JobID)}, c.opts...)
	return c.client.EnqueueContext(ctx, task, opts...)
}

func (c *Client) Close() error {
	return c.client.Close()
}
