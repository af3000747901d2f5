// Package syncqueue implements the durable FIFO queue backing the sync
// engine's dispatch loop: every upload_image/upload_index action is a
// row in sync_queue, surviving process restarts exactly where it left
// off. Status transitions are enforced the way a crash-recoverable ledger
// must be — every mutation checks the row's current status with its
// WHERE clause and inspects RowsAffected rather than trusting the caller.
package syncqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Operation is the closed set of actions a queue entry can represent.
type Operation string

const (
	OperationUploadImage Operation = "upload_image"
	OperationUploadIndex Operation = "upload_index"
)

// Status is the closed set of lifecycle states a queue entry passes
// through: pending → claimed → failed. A completed entry is deleted by
// MarkCompleted rather than stored as done.
type Status string

const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// ErrNotClaimable is returned when a transition's WHERE clause matches no
// row — the entry is not in the state the caller expected.
var ErrNotClaimable = errors.New("syncqueue: entry not in expected state")

// Entry is one row of sync_queue.
type Entry struct {
	ID          int64
	ReceiptID   string
	Operation   Operation
	DependsOnID *int64
	Status      Status
	RetryCount  int
	LastError   string
	EnqueuedAt  time.Time
	ClaimedAt   *time.Time
	CompletedAt *time.Time
}

// Queue operates on the sync_queue table of a shared *sql.DB — the same
// connection receiptdao.Store opens, per the single sole-writer
// connection rule enforced across the whole database.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
}

// New builds a Queue sharing db with the rest of the application.
func New(db *sql.DB, logger *slog.Logger) *Queue {
	return &Queue{db: db, logger: logger}
}

// Enqueue inserts a new pending entry for receiptID. dependsOnID, if
// non-nil, must reference an already-enqueued entry whose completion
// gates this one — used to order upload_image before upload_index for
// the same receipt.
func (q *Queue) Enqueue(ctx context.Context, receiptID string, op Operation, dependsOnID *int64) (int64, error) {
	now := time.Now().UTC()

	result, err := q.db.ExecContext(ctx,
		`INSERT INTO sync_queue (receipt_id, operation, depends_on_id, status, enqueued_at)
		 VALUES (?, ?, ?, ?, ?)`,
		receiptID, string(op), dependsOnID, string(StatusPending), now.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("syncqueue: enqueueing %s for %s: %w", op, receiptID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("syncqueue: reading inserted id: %w", err)
	}

	return id, nil
}

// GetNextPending returns the oldest pending entry whose dependency (if any)
// has completed — MarkCompleted deletes the row, so a dependency is done
// once its row is gone — or (Entry{}, false, nil) if none is ready.
func (q *Queue) GetNextPending(ctx context.Context) (Entry, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT sq.id, sq.receipt_id, sq.operation, sq.depends_on_id, sq.status,
		       sq.retry_count, sq.last_error, sq.enqueued_at, sq.claimed_at, sq.completed_at
		FROM sync_queue sq
		WHERE sq.status = ?
		  AND (sq.depends_on_id IS NULL OR NOT EXISTS (
		      SELECT 1 FROM sync_queue dep WHERE dep.id = sq.depends_on_id
		  ))
		ORDER BY sq.id ASC
		LIMIT 1`, string(StatusPending))

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}

	if err != nil {
		return Entry{}, false, fmt.Errorf("syncqueue: fetching next pending: %w", err)
	}

	return entry, true, nil
}

// MarkInProgress transitions id from pending to claimed.
func (q *Queue) MarkInProgress(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, claimed_at = ? WHERE id = ? AND status = ?`,
		string(StatusClaimed), now, id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("syncqueue: claiming %d: %w", id, err)
	}

	return requireRowsAffected(result, "claim", id)
}

// MarkCompleted deletes id's row entirely — a completed entry carries no
// further useful state and would otherwise accumulate forever.
func (q *Queue) MarkCompleted(ctx context.Context, id int64) error {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE id = ? AND status = ?`, id, string(StatusClaimed))
	if err != nil {
		return fmt.Errorf("syncqueue: completing %d: %w", id, err)
	}

	return requireRowsAffected(result, "complete", id)
}

// MarkFailed transitions id from claimed to failed, recording errMsg and
// incrementing retry_count.
func (q *Queue) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue
		 SET status = ?, completed_at = ?, last_error = ?, retry_count = retry_count + 1
		 WHERE id = ? AND status = ?`,
		string(StatusFailed), now, errMsg, id, string(StatusClaimed))
	if err != nil {
		return fmt.Errorf("syncqueue: failing %d: %w", id, err)
	}

	return requireRowsAffected(result, "fail", id)
}

// ResetFailed transitions id from failed back to pending, for a manual or
// scheduled retry pass. claimed_at/completed_at are cleared.
func (q *Queue) ResetFailed(ctx context.Context, id int64) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, claimed_at = NULL, completed_at = NULL
		 WHERE id = ? AND status = ?`,
		string(StatusPending), id, string(StatusFailed))
	if err != nil {
		return fmt.Errorf("syncqueue: resetting %d: %w", id, err)
	}

	return requireRowsAffected(result, "reset", id)
}

// ReclaimStale resets entries claimed longer than timeout ago back to
// pending, recovering from a crash mid-dispatch.
func (q *Queue) ReclaimStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-timeout).Format(time.RFC3339Nano)

	result, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, claimed_at = NULL
		 WHERE status = ? AND claimed_at < ?`,
		string(StatusPending), string(StatusClaimed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("syncqueue: reclaiming stale entries: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("syncqueue: reclaim rows affected: %w", err)
	}

	if n > 0 && q.logger != nil {
		q.logger.Warn("syncqueue: reclaimed stale entries", slog.Int64("count", n), slog.Duration("timeout", timeout))
	}

	return int(n), nil
}

// ListFailed returns every entry currently in the failed state, oldest
// first, for a scheduler to consult against its own backoff policy.
func (q *Queue) ListFailed(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, receipt_id, operation, depends_on_id, status,
		       retry_count, last_error, enqueued_at, claimed_at, completed_at
		FROM sync_queue
		WHERE status = ?
		ORDER BY id ASC`, string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("syncqueue: listing failed entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("syncqueue: scanning failed entry: %w", err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("syncqueue: iterating failed entries: %w", err)
	}

	return entries, nil
}

// CountPending returns the number of pending or claimed entries (failed
// entries are not counted), used by the coordinator's sync progress and
// status reporting.
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	var count int

	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status IN (?, ?)`,
		string(StatusPending), string(StatusClaimed)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("syncqueue: counting pending: %w", err)
	}

	return count, nil
}

func requireRowsAffected(result sql.Result, verb string, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("syncqueue: %s %d rows affected: %w", verb, id, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotClaimable, verb, id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e           Entry
		op          string
		status      string
		dependsOn   sql.NullInt64
		lastError   sql.NullString
		enqueuedAt  string
		claimedAt   sql.NullString
		completedAt sql.NullString
	)

	if err := row.Scan(&e.ID, &e.ReceiptID, &op, &dependsOn, &status,
		&e.RetryCount, &lastError, &enqueuedAt, &claimedAt, &completedAt); err != nil {
		return Entry{}, err
	}

	e.Operation = Operation(op)
	e.Status = Status(status)
	e.LastError = lastError.String

	if dependsOn.Valid {
		v := dependsOn.Int64
		e.DependsOnID = &v
	}

	parsed, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("syncqueue: parsing enqueued_at: %w", err)
	}

	e.EnqueuedAt = parsed

	if claimedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, claimedAt.String)
		if err != nil {
			return Entry{}, fmt.Errorf("syncqueue: parsing claimed_at: %w", err)
		}

		e.ClaimedAt = &t
	}

	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return Entry{}, fmt.Errorf("syncqueue: parsing completed_at: %w", err)
		}

		e.CompletedAt = &t
	}

	return e, nil
}
