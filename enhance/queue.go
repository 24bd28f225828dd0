package enhance

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/stratahq/strata/db"
	"github.com/stratahq/strata/errors"
)

// Queue item statuses. pending -> processing is the mutual-exclusion
// transition; completed, skipped, and failed are terminal (failed items are
// requeued to pending while retries remain).
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// Item is one enhancement work item: a candidate field whose accumulated
// evidence crossed the frequency threshold.
type Item struct {
	ID             int64     `json:"id"`
	EntityType     string    `json:"entity_type"`
	FragmentKey    string    `json:"fragment_key"`
	OwnerScope     string    `json:"owner_scope,omitempty"`
	FrequencyCount int       `json:"frequency_count"`
	RetryCount     int       `json:"retry_count"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Query constants
const (
	queueInsertQuery = `
		INSERT INTO enhancement_queue (entity_type, fragment_key, owner_scope, frequency_count)
		VALUES (?, ?, ?, ?)`

	queueSelectColumns = `id, entity_type, fragment_key, owner_scope, frequency_count, retry_count, status, error_message, created_at, updated_at`

	queueLiveItemQuery = `
		SELECT ` + queueSelectColumns + `
		FROM enhancement_queue
		WHERE entity_type = ? AND fragment_key = ? AND owner_scope = ?
		  AND status IN ('pending', 'processing')`

	queueOldestPendingQuery = `
		SELECT ` + queueSelectColumns + `
		FROM enhancement_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT 1`

	// The claim is a conditional update: zero rows affected means another
	// processor got there first.
	queueClaimQuery = `
		UPDATE enhancement_queue
		SET status = 'processing', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'`
)

// Queue is the durable enhancement work queue.
type Queue struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewQueue creates the enhancement queue store.
func NewQueue(database *sql.DB, logger *zap.SugaredLogger) *Queue {
	return &Queue{db: database, logger: logger}
}

// Enqueue adds a candidate field to the queue. At most one live (pending or
// processing) item exists per candidate; enqueueing an already-queued
// candidate returns the existing item with created=false.
func (q *Queue) Enqueue(ctx context.Context, entityType, fragmentKey, ownerScope string, frequency int) (*Item, bool, error) {
	_, err := q.db.ExecContext(ctx, queueInsertQuery, entityType, fragmentKey, ownerScope, frequency)
	if err != nil {
		if !db.IsUniqueConstraintViolation(err) {
			return nil, false, errors.Wrap(err, "failed to enqueue enhancement item")
		}
		existing, getErr := scanItem(q.db.QueryRowContext(ctx, queueLiveItemQuery, entityType, fragmentKey, ownerScope))
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}

	item, err := scanItem(q.db.QueryRowContext(ctx, queueLiveItemQuery, entityType, fragmentKey, ownerScope))
	if err != nil {
		return nil, false, err
	}
	if q.logger != nil {
		q.logger.Debugw("Enqueued enhancement candidate",
			"entity_type", entityType,
			"fragment_key", fragmentKey,
			"frequency", frequency,
		)
	}
	return item, true, nil
}

// Claim atomically takes the oldest pending item for processing. Returns
// (nil, nil) when the queue has no pending work. Safe under concurrent
// processors: losing the conditional update just means trying the next row.
func (q *Queue) Claim(ctx context.Context) (*Item, error) {
	for {
		item, err := scanItem(q.db.QueryRowContext(ctx, queueOldestPendingQuery))
		if errors.IsNotFoundError(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		result, err := q.db.ExecContext(ctx, queueClaimQuery, item.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to claim queue item")
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "rows affected")
		}
		if affected == 1 {
			item.Status = StatusProcessing
			return item, nil
		}
		// Lost the race; another processor claimed it first.
	}
}

// MarkCompleted finishes a claimed item successfully.
func (q *Queue) MarkCompleted(ctx context.Context, id int64) error {
	return q.transition(ctx, id, StatusCompleted, "")
}

// MarkSkipped finishes a claimed item that was examined and found ineligible.
func (q *Queue) MarkSkipped(ctx context.Context, id int64, reason string) error {
	return q.transition(ctx, id, StatusSkipped, reason)
}

// MarkFailed records a processing failure. The item goes back to pending
// while retries remain and lands in failed once the cap is reached.
func (q *Queue) MarkFailed(ctx context.Context, id int64, cause error, maxRetries int) error {
	query := `
		UPDATE enhancement_queue
		SET retry_count = retry_count + 1,
		    error_message = ?,
		    status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'pending' END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	result, err := q.db.ExecContext(ctx, query, cause.Error(), maxRetries, id)
	if err != nil {
		return errors.Wrap(err, "failed to mark queue item failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("queue item %d not found", id)
	}
	return nil
}

func (q *Queue) transition(ctx context.Context, id int64, status, message string) error {
	query := `
		UPDATE enhancement_queue
		SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	result, err := q.db.ExecContext(ctx, query, status, nullIfEmpty(message), id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark queue item %s", status)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("queue item %d not found", id)
	}
	return nil
}

// Stats returns item counts per status.
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM enhancement_queue GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load queue stats")
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "scan queue stats")
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// CleanupOld deletes terminal items (completed, skipped, failed) older than
// the retention window. Live items are never touched.
func (q *Queue) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	query := `
		DELETE FROM enhancement_queue
		WHERE status IN ('completed', 'skipped', 'failed') AND updated_at < ?`

	result, err := q.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up queue")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	if deleted > 0 && q.logger != nil {
		q.logger.Infow("Cleaned up old queue items", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var errMsg sql.NullString

	err := row.Scan(&item.ID, &item.EntityType, &item.FragmentKey, &item.OwnerScope,
		&item.FrequencyCount, &item.RetryCount, &item.Status, &errMsg, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan queue item")
	}
	item.ErrorMessage = errMsg.String
	return &item, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
