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

// CampaignRepo reads campaigns and segments and records activation.
type CampaignRepo struct{ db *sql.DB }

func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) GetSegment(ctx context.Context, id string) (*domain.Segment, error) {
	var (
		seg      domain.Segment
		criteria []byte
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, name, criteria FROM segments WHERE id = $1`, id).
		Scan(&seg.ID, &seg.Name, &criteria)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("segment %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	if err := decodeJSON(criteria, &seg.Criteria); err != nil {
		return nil, err
	}
	return &seg, nil
}

const campaignColumns = `id, name, criteria, recipients, content, status, is_active,
	total_contacts, sent_contacts, emails_per_hour, started_at, paused_at, completed_at,
	next_send_time, created_at, updated_at`

func scanCampaign(s scanner) (domain.Campaign, error) {
	var (
		c                                        domain.Campaign
		criteria, recipients, content            []byte
		perHour                                  sql.NullInt64
		started, paused, completed, nextSendTime sql.NullTime
	)
	err := s.Scan(&c.ID, &c.Name, &criteria, &recipients, &content, &c.Status, &c.IsActive,
		&c.TotalContacts, &c.SentContacts, &perHour, &started, &paused, &completed,
		&nextSendTime, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if err := decodeJSON(criteria, &c.Criteria); err != nil {
		return c, err
	}
	if err := decodeJSON(recipients, &c.Recipients); err != nil {
		return c, err
	}
	if err := decodeJSON(content, &c.Content); err != nil {
		return c, err
	}
	if perHour.Valid {
		v := int(perHour.Int64)
		c.EmailsPerHour = &v
	}
	c.StartedAt = nullTime(started)
	c.PausedAt = nullTime(paused)
	c.CompletedAt = nullTime(completed)
	c.NextSendTime = nullTime(nextSendTime)
	return c, nil
}

func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return &c, nil
}

func (r *CampaignRepo) ListCampaigns(ctx context.Context, f repository.CampaignFilter) ([]domain.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	var args []any
	idx := 1
	if f.ActiveOnly {
		q += ` AND is_active`
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q += fmt.Sprintf(" AND status = ANY($%d)", idx)
		args = append(args, pq.Array(statuses))
		idx++
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ActivateCampaign merges the post-scheduling fields. started_at keeps its
// existing value when already set.
func (r *CampaignRepo) ActivateCampaign(ctx context.Context, id string, a domain.CampaignActivation) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, is_active = true, total_contacts = $3, next_send_time = $4,
		    started_at = COALESCE(started_at, $5), updated_at = NOW()
		WHERE id = $1
	`, id, string(domain.CampaignActive), a.TotalContacts, a.NextSendTime, a.StartedAt)
	if err != nil {
		return fmt.Errorf("activate campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("campaign %s: %w", id, repository.ErrNotFound)
	}
	return nil
}
