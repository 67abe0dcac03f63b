package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/lib/pq"
)

// QueueRepo writes send queue entries.
type QueueRepo struct{ db *sql.DB }

func NewQueueRepo(db *sql.DB) *QueueRepo { return &QueueRepo{db: db} }

// InsertQueueEntries writes entries in one transaction.
func (r *QueueRepo) InsertQueueEntries(ctx context.Context, entries []domain.SendQueueEntry) error {
	if err := repository.CheckBatch(len(entries)); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO send_queue (id, campaign_id, contact_ids, content, run_after, status, attempts, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, 0, NOW())`)
		if err != nil {
			return fmt.Errorf("prepare queue insert: %w", err)
		}
		defer stmt.Close()

		for i := range entries {
			e := &entries[i]
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			status := e.Status
			if status == "" {
				status = domain.QueuePending
			}
			content, err := jsonArg(e.Content)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, e.ID, e.CampaignID, pq.Array(e.ContactIDs), content, e.RunAfter, string(status)); err != nil {
				return fmt.Errorf("insert queue entry: %w", err)
			}
		}
		return nil
	})
}

// DeleteQueueEntries removes entries by id in a single statement.
func (r *QueueRepo) DeleteQueueEntries(ctx context.Context, ids []string) error {
	if err := repository.CheckBatch(len(ids)); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM send_queue WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete queue entries: %w", err)
	}
	return nil
}

func (r *QueueRepo) QueueSummary(ctx context.Context) (domain.QueueSummary, error) {
	var sum domain.QueueSummary
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*), MIN(run_after)
		FROM send_queue
		GROUP BY status`)
	if err != nil {
		return sum, fmt.Errorf("queue summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
			next   sql.NullTime
		)
		if err := rows.Scan(&status, &n, &next); err != nil {
			return sum, fmt.Errorf("scan queue summary: %w", err)
		}
		switch domain.QueueStatus(status) {
		case domain.QueuePending:
			sum.Pending = n
			sum.NextRunAfter = nullTime(next)
		case domain.QueueProcessing:
			sum.Processing = n
		case domain.QueueCompleted:
			sum.Completed = n
		case domain.QueueFailed:
			sum.Failed = n
		}
	}
	return sum, rows.Err()
}
