package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dunamismax/kronos/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	object_prefix TEXT NOT NULL DEFAULT '',
	samples JSONB NOT NULL,
	prep JSONB NOT NULL,
	batching JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	samples_processed BIGINT NOT NULL,
	batches_emitted BIGINT NOT NULL,
	bytes_written BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const selectJobSQL = `SELECT id, user_id, status, source_type, webhook_url, object_prefix, samples, prep, batching, created_at, updated_at
	 FROM jobs
	 WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	samplesJSON, prepJSON, batchingJSON, err := marshalJobSpec(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, user_id, status, source_type, webhook_url, object_prefix, samples, prep, batching, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID,
		job.UserID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		job.ObjectPrefix,
		samplesJSON,
		prepJSON,
		batchingJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, selectJobSQL, id)

	var (
		job                                   domain.Job
		samplesJSON, prepJSON, batchingJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&job.ObjectPrefix,
		&samplesJSON,
		&prepJSON,
		&batchingJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(samplesJSON, &job.Samples); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job samples: %w", err)
	}
	if err := json.Unmarshal(prepJSON, &job.Prep); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job prep: %w", err)
	}
	if err := json.Unmarshal(batchingJSON, &job.Batching); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job batching: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	if err := requireRow(res); err != nil {
		return domain.Job{}, err
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *PostgresJobStore) SetSamples(ctx context.Context, id string, samples []domain.Sample) error {
	samplesJSON, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("marshal job samples: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET samples = $1, updated_at = $2
		 WHERE id = $3`,
		samplesJSON,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update job samples: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, job_id, samples_processed, batches_emitted, bytes_written, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.UserID,
		usage.JobID,
		usage.SamplesProcessed,
		usage.BatchesEmitted,
		usage.BytesWritten,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func marshalJobSpec(job domain.Job) (samples, prep, batching []byte, err error) {
	if job.Samples == nil {
		job.Samples = []domain.Sample{}
	}
	if samples, err = json.Marshal(job.Samples); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal job samples: %w", err)
	}
	if prep, err = json.Marshal(job.Prep); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal job prep: %w", err)
	}
	if batching, err = json.Marshal(job.Batching); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal job batching: %w", err)
	}
	return samples, prep, batching, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
