package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a batch id is unknown.
var ErrNotFound = errors.New("record not found")

// Statements shared by the buffered writer and direct callers.
const (
	InsertBatchSQL = `
		INSERT INTO batches (id, task_name, kind, total, concurrency, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	InsertBatchItemSQL = `
		INSERT INTO batch_items (batch_id, item_label, outcome, error, finished_at)
		VALUES (?, ?, ?, ?, ?)`
	FinishBatchSQL = `
		UPDATE batches SET success_count = ?, failed_count = ?, interrupted_count = ?,
			skipped_count = ?, status = ?, finished_at = ?
		WHERE id = ?`
)

// Queries reads and writes batch history.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// InsertBatch stores a newly started batch.
func (q *Queries) InsertBatch(ctx context.Context, b Batch) error {
	_, err := q.db.ExecContext(ctx, InsertBatchSQL,
		b.ID, b.TaskName, b.Kind, b.Total, b.Concurrency, b.Status, b.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// InsertBatchItem stores one item outcome.
func (q *Queries) InsertBatchItem(ctx context.Context, it BatchItem) error {
	_, err := q.db.ExecContext(ctx, InsertBatchItemSQL,
		it.BatchID, it.Label, it.Outcome, nullString(it.Error), it.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert batch item: %w", err)
	}
	return nil
}

// FinishBatch writes the final counters of a batch.
func (q *Queries) FinishBatch(ctx context.Context, b Batch) error {
	finished := time.Now().UTC()
	if b.FinishedAt != nil {
		finished = b.FinishedAt.UTC()
	}
	res, err := q.db.ExecContext(ctx, FinishBatchSQL,
		b.SuccessCount, b.FailedCount, b.InterruptedCount, b.SkippedCount, b.Status, finished, b.ID)
	if err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentBatches returns the newest batches first.
func (q *Queries) RecentBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, task_name, kind, total, COALESCE(concurrency, 1), success_count, failed_count,
			interrupted_count, COALESCE(skipped_count, 0), status, started_at, finished_at
		FROM batches
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var (
			b        Batch
			finished sql.NullTime
		)
		if err := rows.Scan(&b.ID, &b.TaskName, &b.Kind, &b.Total, &b.Concurrency, &b.SuccessCount,
			&b.FailedCount, &b.InterruptedCount, &b.SkippedCount, &b.Status, &b.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			b.FinishedAt = &t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BatchItems returns the item outcomes of one batch in completion order.
func (q *Queries) BatchItems(ctx context.Context, batchID string) ([]BatchItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT batch_id, item_label, outcome, COALESCE(error, ''), finished_at
		FROM batch_items
		WHERE batch_id = ?
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch items: %w", err)
	}
	defer rows.Close()

	var out []BatchItem
	for rows.Next() {
		var it BatchItem
		if err := rows.Scan(&it.BatchID, &it.Label, &it.Outcome, &it.Error, &it.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan batch item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkAbandoned flags batches left running by a previous process.
func (q *Queries) MarkAbandoned(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, finished_at = ? WHERE status = ?`,
		StatusStopped, time.Now().UTC(), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("mark abandoned batches: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
