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

// ContactRepo reads contacts and applies status transitions.
type ContactRepo struct{ db *sql.DB }

func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

const contactColumns = `id, email, status, COALESCE(source,''), segments, engagement_score,
	last_sent, metadata, created_at, updated_at`

func scanContact(s scanner) (domain.Contact, error) {
	var (
		c        domain.Contact
		lastSent sql.NullTime
		meta     []byte
	)
	err := s.Scan(&c.ID, &c.Email, &c.Status, &c.Source, pq.Array(&c.Segments), &c.EngagementScore,
		&lastSent, &meta, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.LastSent = nullTime(lastSent)
	if err := decodeJSON(meta, &c.Metadata); err != nil {
		return c, err
	}
	return c, nil
}

func (r *ContactRepo) queryContacts(ctx context.Context, q string, args ...any) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ContactRepo) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

// ListContacts returns every contact, oldest first. Used for criteria
// recipients, which are evaluated in process.
func (r *ContactRepo) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	return r.queryContacts(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY created_at`)
}

func (r *ContactRepo) ContactsByIDs(ctx context.Context, ids []string) ([]domain.Contact, error) {
	if err := repository.CheckInQuery(len(ids)); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryContacts(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ANY($1)`, pq.Array(ids))
}

func (r *ContactRepo) ContactsByEmails(ctx context.Context, emails []string) ([]domain.Contact, error) {
	if err := repository.CheckInQuery(len(emails)); err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, nil
	}
	norm := make([]string, len(emails))
	for i, e := range emails {
		norm[i] = domain.NormalizeEmail(e)
	}
	return r.queryContacts(ctx, `SELECT `+contactColumns+` FROM contacts WHERE lower(email) = ANY($1)`, pq.Array(norm))
}

// UpdateContactStatuses applies updates in one transaction. A guarded update
// whose expected status no longer matches is skipped; a missing contact
// aborts the whole batch.
func (r *ContactRepo) UpdateContactStatuses(ctx context.Context, updates []domain.StatusUpdate) (int, error) {
	if err := repository.CheckBatch(len(updates)); err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	applied := 0
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE contacts SET status = $2, updated_at = NOW()
			WHERE id = $1 AND ($3 = '' OR status = $3)`)
		if err != nil {
			return fmt.Errorf("prepare status update: %w", err)
		}
		defer stmt.Close()

		for _, u := range updates {
			res, err := stmt.ExecContext(ctx, u.ContactID, string(u.Status), string(u.ExpectedStatus))
			if err != nil {
				return fmt.Errorf("update contact %s: %w", u.ContactID, err)
			}
			n, _ := res.RowsAffected()
			if n == 0 && u.ExpectedStatus == "" {
				return fmt.Errorf("contact %s: %w", u.ContactID, repository.ErrNotFound)
			}
			applied += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}
