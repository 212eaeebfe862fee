package cardstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/carchive/dbopen"
)

// Queue actions.
const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// QueueJob is one pending index synchronization job. Jobs survive
// process restarts; consumed rows are only deleted after the backend
// write succeeded, so a failed drain retries the same jobs.
type QueueJob struct {
	ID        int64
	CardID    string
	Action    string
	CreatedAt int64
}

// Enqueue appends a job. The write path calls this on every card
// create/update/delete instead of talking to the search backend inline.
// Runs under dbopen.RunTx: losing an enqueue to a transient SQLITE_BUSY
// would leave the index permanently behind the row.
func (s *Store) Enqueue(ctx context.Context, cardID, action string) error {
	if action != ActionUpsert && action != ActionDelete {
		return fmt.Errorf("enqueue %s: invalid action %q", cardID, action)
	}
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO search_index_queue (card_id, action, created_at)
			VALUES (?,?,?)`, cardID, action, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", action, cardID, err)
	}
	return nil
}

// NextQueueBatch returns up to limit jobs in insertion order.
func (s *Store) NextQueueBatch(ctx context.Context, limit int) ([]QueueJob, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_id, action, created_at
		FROM search_index_queue ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("next queue batch: %w", err)
	}
	defer rows.Close()

	var jobs []QueueJob
	for rows.Next() {
		var j QueueJob
		if err := rows.Scan(&j.ID, &j.CardID, &j.Action, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteQueueJobs acknowledges consumed jobs by id.
func (s *Store) DeleteQueueJobs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM search_index_queue WHERE id IN (`+placeholders+`)`, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %d queue jobs: %w", len(ids), err)
	}
	return nil
}

// QueueDepth returns the number of pending jobs.
func (s *Store) QueueDepth(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_index_queue`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
