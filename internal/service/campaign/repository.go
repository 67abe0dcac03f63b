package campaign

import (
	"context"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ContactReader loads contacts. ContactsByIDs and ContactsByEmails accept at
// most domain.MaxInQueryValues values per call.
type ContactReader interface {
	ListContacts(ctx context.Context) ([]domain.Contact, error)
	ContactsByIDs(ctx context.Context, ids []string) ([]domain.Contact, error)
	ContactsByEmails(ctx context.Context, emails []string) ([]domain.Contact, error)
}

// SegmentReader loads saved segments.
type SegmentReader interface {
	GetSegment(ctx context.Context, id string) (*domain.Segment, error)
}

// CampaignStore reads campaigns and records activation.
type CampaignStore interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ActivateCampaign(ctx context.Context, id string, a domain.CampaignActivation) error
}

// QueueWriter persists and withdraws send queue entries, at most
// domain.MaxBatchWrites per call.
type QueueWriter interface {
	InsertQueueEntries(ctx context.Context, entries []domain.SendQueueEntry) error
	DeleteQueueEntries(ctx context.Context, ids []string) error
}

// Locker provides mutual exclusion keyed by name. *distlock.Factory
// satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}
