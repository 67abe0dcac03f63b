// Package repository holds what every store backend shares: sentinel errors,
// list filters and the store's size ceilings.
//
// Backends live in sub-packages (memory, postgres, dynamo). Services declare
// the narrow interfaces they need and any backend satisfying them can be
// injected.
package repository

import (
	"errors"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrBatchTooLarge is returned when a call exceeds a store ceiling.
	ErrBatchTooLarge = errors.New("batch exceeds store limit")
	// ErrInvalidTransition is returned for an illegal job status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobFilter selects verification jobs. Results are newest first.
type JobFilter struct {
	Statuses []domain.JobStatus
	Limit    int
}

// CampaignFilter selects campaigns. Results are newest first.
type CampaignFilter struct {
	ActiveOnly bool
	Statuses   []domain.CampaignStatus
	Limit      int
}

// CheckInQuery rejects equality-in lookups above the store ceiling.
func CheckInQuery(n int) error {
	if n > domain.MaxInQueryValues {
		return fmt.Errorf("%w: %d values in one lookup (max %d)", ErrBatchTooLarge, n, domain.MaxInQueryValues)
	}
	return nil
}

// CheckBatch rejects batched writes above the store ceiling.
func CheckBatch(n int) error {
	if n > domain.MaxBatchWrites {
		return fmt.Errorf("%w: %d writes in one batch (max %d)", ErrBatchTooLarge, n, domain.MaxBatchWrites)
	}
	return nil
}

// Matches reports whether job passes f's status filter.
func (f JobFilter) Matches(job *domain.VerificationJob) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if job.Status == s {
			return true
		}
	}
	return false
}

// Matches reports whether c passes the filter.
func (f CampaignFilter) Matches(c *domain.Campaign) bool {
	if f.ActiveOnly && !c.IsActive {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if c.Status == s {
			return true
		}
	}
	return false
}
