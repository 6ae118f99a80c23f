package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/asaidimu/go-sarufi/core/engine"
	"go.uber.org/zap"
)

// Queue is a durable, at-least-once work queue backed by a SQLite table. The
// engine produces on it; the worker package consumes. A dequeued job is
// leased, not removed: it returns to the queue on Nack or after a crash
// (lease rows are re-queued on startup), and disappears only on Ack.
type Queue struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ engine.SchemaChangeQueue = (*Queue)(nil)

// NewQueue creates the jobs table when missing, re-queues any jobs left
// leased by a previous crash and returns the queue.
func NewQueue(db *sql.DB, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS _jobs (
		id       TEXT PRIMARY KEY,
		name     TEXT NOT NULL,
		payload  TEXT NOT NULL,
		state    TEXT NOT NULL DEFAULT 'queued',
		attempts INTEGER NOT NULL DEFAULT 0,
		enqueued TEXT NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs table: %w", err)
	}

	if _, err := db.Exec(`UPDATE _jobs SET state = 'queued' WHERE state = 'leased'`); err != nil {
		return nil, fmt.Errorf("failed to recover leased jobs: %w", err)
	}

	return &Queue{db: db, logger: logger}, nil
}

// Enqueue appends a job.
func (q *Queue) Enqueue(ctx context.Context, job *engine.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO _jobs (id, name, payload, enqueued) VALUES (?, ?, ?, ?)`,
		job.ID, string(job.Name), string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	q.logger.Debug("job enqueued", zap.String("id", job.ID), zap.String("name", string(job.Name)))
	return nil
}

// Dequeue leases the oldest queued job. Returns (nil, nil) when the queue is
// empty.
func (q *Queue) Dequeue(ctx context.Context) (*engine.Job, error) {
	var id, payload string
	err := q.db.QueryRowContext(ctx,
		`UPDATE _jobs SET state = 'leased', attempts = attempts + 1
		 WHERE id = (SELECT id FROM _jobs WHERE state = 'queued' ORDER BY enqueued LIMIT 1)
		 RETURNING id, payload`).Scan(&id, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job engine.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// Ack removes a completed job.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM _jobs WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", jobID, err)
	}
	return nil
}

// Nack returns a leased job to the queue for redelivery.
func (q *Queue) Nack(ctx context.Context, jobID string) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE _jobs SET state = 'queued' WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to nack job %s: %w", jobID, err)
	}
	return nil
}

// Pending reports the number of jobs not yet acked.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _jobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}
