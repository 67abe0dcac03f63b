// Package memory is an in-process store used for development and tests. It
// enforces the same size ceilings as the production backends so batching
// bugs surface locally.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository"
)

// Store keeps every aggregate in maps guarded by one mutex. Values are
// copied on the way in and out.
type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	contacts  map[string]*domain.Contact
	byEmail   map[string]string
	segments  map[string]*domain.Segment
	campaigns map[string]*domain.Campaign
	queue     []domain.SendQueueEntry
	jobs      map[string]*domain.VerificationJob
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:       time.Now,
		contacts:  make(map[string]*domain.Contact),
		byEmail:   make(map[string]string),
		segments:  make(map[string]*domain.Segment),
		campaigns: make(map[string]*domain.Campaign),
		jobs:      make(map[string]*domain.VerificationJob),
	}
}

// SetClock replaces the timestamp source. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

// PutContact inserts or replaces a contact keyed by id.
func (s *Store) PutContact(c domain.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if old, ok := s.contacts[c.ID]; ok {
		delete(s.byEmail, domain.NormalizeEmail(old.Email))
	}
	s.contacts[c.ID] = cloneContact(&c)
	s.byEmail[domain.NormalizeEmail(c.Email)] = c.ID
}

func (s *Store) GetContact(_ context.Context, id string) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %s: %w", id, repository.ErrNotFound)
	}
	return cloneContact(c), nil
}

// ListContacts returns every contact ordered by creation time.
func (s *Store) ListContacts(_ context.Context) ([]domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, *cloneContact(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ContactsByIDs(_ context.Context, ids []string) ([]domain.Contact, error) {
	if err := repository.CheckInQuery(len(ids)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Contact, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if c, ok := s.contacts[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, *cloneContact(c))
		}
	}
	return out, nil
}

func (s *Store) ContactsByEmails(_ context.Context, emails []string) ([]domain.Contact, error) {
	if err := repository.CheckInQuery(len(emails)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Contact, 0, len(emails))
	seen := make(map[string]bool, len(emails))
	for _, e := range emails {
		id, ok := s.byEmail[domain.NormalizeEmail(e)]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, *cloneContact(s.contacts[id]))
	}
	return out, nil
}

// UpdateContactStatuses applies updates atomically. Guarded updates whose
// expected status no longer matches are skipped; applied counts the rest.
func (s *Store) UpdateContactStatuses(_ context.Context, updates []domain.StatusUpdate) (int, error) {
	if err := repository.CheckBatch(len(updates)); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		if _, ok := s.contacts[u.ContactID]; !ok {
			return 0, fmt.Errorf("contact %s: %w", u.ContactID, repository.ErrNotFound)
		}
	}
	now := s.now()
	applied := 0
	for _, u := range updates {
		c := s.contacts[u.ContactID]
		if u.ExpectedStatus != "" && c.Status != u.ExpectedStatus {
			continue
		}
		c.Status = u.Status
		c.UpdatedAt = now
		applied++
	}
	return applied, nil
}

// ---------------------------------------------------------------------------
// Segments and campaigns
// ---------------------------------------------------------------------------

// PutSegment inserts or replaces a segment.
func (s *Store) PutSegment(seg domain.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := seg
	cp.Criteria.Rules = append([]domain.CriteriaRule(nil), seg.Criteria.Rules...)
	s.segments[seg.ID] = &cp
}

func (s *Store) GetSegment(_ context.Context, id string) (*domain.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[id]
	if !ok {
		return nil, fmt.Errorf("segment %s: %w", id, repository.ErrNotFound)
	}
	cp := *seg
	return &cp, nil
}

// PutCampaign inserts or replaces a campaign.
func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.campaigns[c.ID] = cloneCampaign(&c)
}

func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, repository.ErrNotFound)
	}
	return cloneCampaign(c), nil
}

func (s *Store) ListCampaigns(_ context.Context, f repository.CampaignFilter) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if f.Matches(c) {
			out = append(out, *cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ActivateCampaign merges the post-scheduling fields into the campaign.
func (s *Store) ActivateCampaign(_ context.Context, id string, a domain.CampaignActivation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s: %w", id, repository.ErrNotFound)
	}
	c.Status = domain.CampaignActive
	c.IsActive = true
	c.TotalContacts = a.TotalContacts
	next := a.NextSendTime
	c.NextSendTime = &next
	if c.StartedAt == nil {
		started := a.StartedAt
		c.StartedAt = &started
	}
	c.UpdatedAt = s.now()
	return nil
}

// ---------------------------------------------------------------------------
// Send queue
// ---------------------------------------------------------------------------

// InsertQueueEntries appends entries atomically.
func (s *Store) InsertQueueEntries(_ context.Context, entries []domain.SendQueueEntry) error {
	if err := repository.CheckBatch(len(entries)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, e := range entries {
		e.ContactIDs = append([]string(nil), e.ContactIDs...)
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		s.queue = append(s.queue, e)
	}
	return nil
}

// DeleteQueueEntries removes the entries with the given ids. Unknown ids are
// ignored.
func (s *Store) DeleteQueueEntries(_ context.Context, ids []string) error {
	if err := repository.CheckBatch(len(ids)); err != nil {
		return err
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.queue[:0]
	for _, e := range s.queue {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	s.queue = kept
	return nil
}

// QueueEntries returns the entries for a campaign ordered by runAfter.
func (s *Store) QueueEntries(campaignID string) []domain.SendQueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SendQueueEntry
	for _, e := range s.queue {
		if e.CampaignID == campaignID {
			e.ContactIDs = append([]string(nil), e.ContactIDs...)
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RunAfter.Before(out[j].RunAfter) })
	return out
}

func (s *Store) QueueSummary(_ context.Context) (domain.QueueSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum domain.QueueSummary
	for _, e := range s.queue {
		switch e.Status {
		case domain.QueuePending:
			sum.Pending++
			if sum.NextRunAfter == nil || e.RunAfter.Before(*sum.NextRunAfter) {
				ra := e.RunAfter
				sum.NextRunAfter = &ra
			}
		case domain.QueueProcessing:
			sum.Processing++
		case domain.QueueCompleted:
			sum.Completed++
		case domain.QueueFailed:
			sum.Failed++
		}
	}
	return sum, nil
}

// ---------------------------------------------------------------------------
// Verification jobs
// ---------------------------------------------------------------------------

func (s *Store) CreateJob(_ context.Context, job *domain.VerificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := cloneJob(job)
	cp.CreatedAt = s.now()
	s.jobs[job.ID] = cp
	job.CreatedAt = cp.CreatedAt
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.VerificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, repository.ErrNotFound)
	}
	return cloneJob(j), nil
}

func (s *Store) ListJobs(_ context.Context, f repository.JobFilter) ([]domain.VerificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VerificationJob
	for _, j := range s.jobs {
		if f.Matches(j) {
			out = append(out, *cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// TransitionJob applies a status change if the state machine allows it.
func (s *Store) TransitionJob(_ context.Context, id string, t domain.JobTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, repository.ErrNotFound)
	}
	if !domain.CanTransition(j.Status, t.Status) {
		return fmt.Errorf("job %s %s -> %s: %w", id, j.Status, t.Status, repository.ErrInvalidTransition)
	}
	j.Status = t.Status
	if t.StartedAt != nil {
		v := *t.StartedAt
		j.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		j.CompletedAt = &v
	}
	if t.Results != nil {
		v := *t.Results
		j.Results = &v
	}
	if t.Error != nil {
		v := *t.Error
		j.Error = &v
	}
	return nil
}

// RecordProgress stores the progress counter. processed never moves backwards.
func (s *Store) RecordProgress(_ context.Context, id string, processed int, currentEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, repository.ErrNotFound)
	}
	if processed > j.Processed {
		j.Processed = processed
	}
	j.CurrentEmail = currentEmail
	return nil
}

// ---------------------------------------------------------------------------
// copying
// ---------------------------------------------------------------------------

func cloneContact(c *domain.Contact) *domain.Contact {
	cp := *c
	cp.Segments = append([]string(nil), c.Segments...)
	cp.Metadata = cloneMap(c.Metadata)
	return &cp
}

func cloneCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	cp.Recipients.Emails = append([]string(nil), c.Recipients.Emails...)
	cp.Recipients.ContactIDs = append([]string(nil), c.Recipients.ContactIDs...)
	cp.Recipients.SegmentIDs = append([]string(nil), c.Recipients.SegmentIDs...)
	return &cp
}

func cloneJob(j *domain.VerificationJob) *domain.VerificationJob {
	cp := *j
	if j.Results != nil {
		r := *j.Results
		cp.Results = &r
	}
	return &cp
}

// cloneMap deep-copies nested metadata through a JSON round trip.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return m
	}
	return out
}
