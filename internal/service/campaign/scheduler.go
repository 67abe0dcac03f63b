package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/apperr"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

const (
	DefaultTargetBatches = 6
	DefaultBatchInterval = 10 * time.Minute

	cleanupTimeout = 10 * time.Second
)

// Schedule is the result of splitting an audience into queue entries.
type Schedule struct {
	Entries      []domain.SendQueueEntry
	SliceSize    int
	NextSendTime time.Time
}

// Scheduler splits eligible contacts into time-sliced send batches.
type Scheduler struct {
	queue     QueueWriter
	campaigns CampaignStore
	batches   int
	maxSize   int
	interval  time.Duration
	now       func() time.Time
}

func NewScheduler(queue QueueWriter, campaigns CampaignStore, targetBatches, maxBatchSize int, interval time.Duration) *Scheduler {
	if targetBatches <= 0 {
		targetBatches = DefaultTargetBatches
	}
	if maxBatchSize <= 0 || maxBatchSize > domain.MaxBatchRecipients {
		maxBatchSize = domain.MaxBatchRecipients
	}
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	return &Scheduler{
		queue:     queue,
		campaigns: campaigns,
		batches:   targetBatches,
		maxSize:   maxBatchSize,
		interval:  interval,
		now:       time.Now,
	}
}

// SliceSize is ceil(n/batches) clamped to [1, max].
func SliceSize(n, batches, max int) int {
	if batches <= 0 {
		batches = DefaultTargetBatches
	}
	size := (n + batches - 1) / batches
	if size < 1 {
		size = 1
	}
	if size > max {
		size = max
	}
	return size
}

// Plan builds the queue entries for contacts without persisting anything.
// Batch i runs at now + i*interval.
func (s *Scheduler) Plan(c *domain.Campaign, contacts []domain.Contact, now time.Time) Schedule {
	size := SliceSize(len(contacts), s.batches, s.maxSize)
	plan := Schedule{SliceSize: size}
	for i, chunk := range domain.Chunk(contacts, size) {
		ids := make([]string, len(chunk))
		for j := range chunk {
			ids[j] = chunk[j].ID
		}
		runAfter := now.Add(time.Duration(i) * s.interval)
		plan.Entries = append(plan.Entries, domain.SendQueueEntry{
			ID:         uuid.New().String(),
			CampaignID: c.ID,
			ContactIDs: ids,
			Content:    c.Content,
			RunAfter:   runAfter,
			Status:     domain.QueuePending,
		})
		plan.NextSendTime = runAfter
	}
	return plan
}

// Schedule persists the plan for contacts and activates the campaign. It
// fails without writing anything when contacts is empty.
func (s *Scheduler) Schedule(ctx context.Context, c *domain.Campaign, contacts []domain.Contact) (Schedule, error) {
	if len(contacts) == 0 {
		return Schedule{}, apperr.Wrap(apperr.KindValidation, "no eligible contacts", ErrNoEligibleContacts)
	}

	now := s.now()
	plan := s.Plan(c, contacts, now)
	var written []string
	for _, batch := range domain.Chunk(plan.Entries, domain.MaxBatchWrites) {
		if err := s.queue.InsertQueueEntries(ctx, batch); err != nil {
			s.withdraw(ctx, c.ID, written)
			return Schedule{}, fmt.Errorf("insert queue entries: %w", err)
		}
		for _, e := range batch {
			written = append(written, e.ID)
		}
	}

	err := s.campaigns.ActivateCampaign(ctx, c.ID, domain.CampaignActivation{
		TotalContacts: len(contacts),
		NextSendTime:  plan.NextSendTime,
		StartedAt:     now,
	})
	if err != nil {
		s.withdraw(ctx, c.ID, written)
		return Schedule{}, fmt.Errorf("activate campaign: %w", err)
	}
	return plan, nil
}

// withdraw deletes entries written for a schedule that did not complete, so
// the campaign can be sent again without queueing anyone twice.
func (s *Scheduler) withdraw(ctx context.Context, campaignID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	for _, chunk := range domain.Chunk(ids, domain.MaxBatchWrites) {
		if err := s.queue.DeleteQueueEntries(ctx, chunk); err != nil {
			logger.Error("withdraw queue entries", "campaign_id", campaignID, "entries", len(chunk), "error", err.Error())
		}
	}
}
