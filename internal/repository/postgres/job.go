package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/lib/pq"
)

// JobRepo persists verification jobs.
type JobRepo struct{ db *sql.DB }

func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

const jobColumns = `id, total, processed, status, admin_email, job_type, source, campaign_id,
	COALESCE(current_email,''), results, error, created_at, started_at, completed_at`

func scanJob(s scanner) (domain.VerificationJob, error) {
	var (
		j                  domain.VerificationJob
		campaignID, errMsg sql.NullString
		results            []byte
		started, completed sql.NullTime
	)
	err := s.Scan(&j.ID, &j.Total, &j.Processed, &j.Status, &j.AdminEmail, &j.JobType, &j.Source,
		&campaignID, &j.CurrentEmail, &results, &errMsg, &j.CreatedAt, &started, &completed)
	if err != nil {
		return j, err
	}
	if campaignID.Valid {
		j.CampaignID = &campaignID.String
	}
	if errMsg.Valid {
		j.Error = &errMsg.String
	}
	if len(results) > 0 {
		var res domain.JobResults
		if err := decodeJSON(results, &res); err != nil {
			return j, err
		}
		j.Results = &res
	}
	j.StartedAt = nullTime(started)
	j.CompletedAt = nullTime(completed)
	return j, nil
}

// CreateJob inserts job with a server-assigned created_at, which is copied
// back onto job.
func (r *JobRepo) CreateJob(ctx context.Context, job *domain.VerificationJob) error {
	var campaignID any
	if job.CampaignID != nil {
		campaignID = *job.CampaignID
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO verification_jobs
			(id, total, processed, status, admin_email, job_type, source, campaign_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`, job.ID, job.Total, job.Processed, string(job.Status), job.AdminEmail, job.JobType, job.Source, campaignID).
		Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *JobRepo) GetJob(ctx context.Context, id string) (*domain.VerificationJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM verification_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (r *JobRepo) ListJobs(ctx context.Context, f repository.JobFilter) ([]domain.VerificationJob, error) {
	q := `SELECT ` + jobColumns + ` FROM verification_jobs`
	var args []any
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q += ` WHERE status = ANY($1)`
		args = append(args, pq.Array(statuses))
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.VerificationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// TransitionJob locks the row, checks the state machine and applies t.
func (r *JobRepo) TransitionJob(ctx context.Context, id string, t domain.JobTransition) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var current domain.JobStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM verification_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, repository.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		if !domain.CanTransition(current, t.Status) {
			return fmt.Errorf("job %s %s -> %s: %w", id, current, t.Status, repository.ErrInvalidTransition)
		}

		var results any
		if t.Results != nil {
			if results, err = jsonArg(t.Results); err != nil {
				return err
			}
		}
		var errMsg any
		if t.Error != nil {
			errMsg = *t.Error
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE verification_jobs
			SET status = $2,
			    started_at = COALESCE($3, started_at),
			    completed_at = COALESCE($4, completed_at),
			    results = COALESCE($5, results),
			    error = COALESCE($6, error)
			WHERE id = $1
		`, id, string(t.Status), timeArg(t.StartedAt), timeArg(t.CompletedAt), results, errMsg)
		if err != nil {
			return fmt.Errorf("transition job: %w", err)
		}
		return nil
	})
}

// RecordProgress is a partial merge; processed never decreases.
func (r *JobRepo) RecordProgress(ctx context.Context, id string, processed int, currentEmail string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE verification_jobs
		SET processed = GREATEST(processed, $2), current_email = $3
		WHERE id = $1
	`, id, processed, currentEmail)
	if err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, repository.ErrNotFound)
	}
	return nil
}
