package verification

import (
	"context"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/worker"
)

// ContactStore reads contacts and writes status transitions. Lookups take at
// most domain.MaxInQueryValues values and writes at most
// domain.MaxBatchWrites updates per call.
type ContactStore interface {
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	ContactsByEmails(ctx context.Context, emails []string) ([]domain.Contact, error)
	UpdateContactStatuses(ctx context.Context, updates []domain.StatusUpdate) (int, error)
}

// JobStore persists verification jobs. TransitionJob must enforce
// domain.CanTransition. RecordProgress must never lower processed.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.VerificationJob) error
	GetJob(ctx context.Context, id string) (*domain.VerificationJob, error)
	TransitionJob(ctx context.Context, id string, t domain.JobTransition) error
	RecordProgress(ctx context.Context, id string, processed int, currentEmail string) error
}

// Submitter runs tasks detached from the caller. *worker.Pool satisfies it.
type Submitter interface {
	Submit(t worker.Task) error
}
