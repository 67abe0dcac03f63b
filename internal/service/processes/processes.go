// Package processes assembles the operator view of background work: bulk
// verification jobs, campaigns being sent, the send queue and warmup rates.
package processes

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/progress"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/warmup"
	"github.com/ignite/campaign-engine/internal/worker"
)

// HistoryLimit bounds the jobs and campaigns listed with includeCompleted.
const HistoryLimit = 50

type JobLister interface {
	ListJobs(ctx context.Context, f repository.JobFilter) ([]domain.VerificationJob, error)
}

type CampaignLister interface {
	ListCampaigns(ctx context.Context, f repository.CampaignFilter) ([]domain.Campaign, error)
}

type QueueReader interface {
	QueueSummary(ctx context.Context) (domain.QueueSummary, error)
}

// StatsSource reports worker pool counters. *worker.Pool satisfies it.
type StatsSource interface {
	Stats() worker.PoolStats
}

type JobProcess struct {
	domain.VerificationJob
	Progress progress.Estimate `json:"progress"`
}

type CampaignProcess struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Status        string            `json:"status"`
	IsActive      bool              `json:"isActive"`
	TotalContacts int               `json:"totalContacts"`
	SentContacts  int               `json:"sentContacts"`
	EmailsPerHour int               `json:"emailsPerHour"`
	NextSendTime  *time.Time        `json:"nextSendTime,omitempty"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	Progress      progress.Estimate `json:"progress"`
}

// Snapshot is the GET /processes response.
type Snapshot struct {
	Jobs        []JobProcess        `json:"jobs"`
	Campaigns   []CampaignProcess   `json:"campaigns"`
	Queue       domain.QueueSummary `json:"queue"`
	Warmup      []warmup.State      `json:"warmup"`
	Workers     *worker.PoolStats   `json:"workers,omitempty"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

type Service struct {
	jobs      JobLister
	campaigns CampaignLister
	queue     QueueReader
	warmup    *warmup.Calculator
	pool      StatsSource
	now       func() time.Time
}

// NewService builds the snapshot service. pool may be nil.
func NewService(jobs JobLister, campaigns CampaignLister, queue QueueReader, calc *warmup.Calculator, pool StatsSource) *Service {
	if calc == nil {
		calc = warmup.NewCalculator(nil, 0)
	}
	return &Service{jobs: jobs, campaigns: campaigns, queue: queue, warmup: calc, pool: pool, now: time.Now}
}

// Snapshot lists in-flight work. With includeCompleted it also returns the
// most recent finished jobs and campaigns.
func (s *Service) Snapshot(ctx context.Context, includeCompleted bool) (*Snapshot, error) {
	now := s.now()

	jf := repository.JobFilter{Statuses: []domain.JobStatus{domain.JobPending, domain.JobProcessing}}
	cf := repository.CampaignFilter{ActiveOnly: true}
	if includeCompleted {
		jf = repository.JobFilter{Limit: HistoryLimit}
		cf = repository.CampaignFilter{Limit: HistoryLimit}
	}

	jobs, err := s.jobs.ListJobs(ctx, jf)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	campaigns, err := s.campaigns.ListCampaigns(ctx, cf)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	queue, err := s.queue.QueueSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue summary: %w", err)
	}

	snap := &Snapshot{
		Jobs:        make([]JobProcess, 0, len(jobs)),
		Campaigns:   make([]CampaignProcess, 0, len(campaigns)),
		Warmup:      make([]warmup.State, 0, len(campaigns)),
		Queue:       queue,
		GeneratedAt: now,
	}
	for _, j := range jobs {
		snap.Jobs = append(snap.Jobs, JobProcess{
			VerificationJob: j,
			Progress:        progress.Calculate(j.Total, j.Processed, j.StartedAt, now),
		})
	}
	for _, c := range campaigns {
		state := s.warmup.StateFor(c.ID, c.EmailsPerHour, c.TotalContacts, c.SentContacts, c.StartedAt, now)
		snap.Warmup = append(snap.Warmup, state)
		snap.Campaigns = append(snap.Campaigns, CampaignProcess{
			ID:            c.ID,
			Name:          c.Name,
			Status:        string(c.Status),
			IsActive:      c.IsActive,
			TotalContacts: c.TotalContacts,
			SentContacts:  c.SentContacts,
			EmailsPerHour: state.EmailsPerHour,
			NextSendTime:  c.NextSendTime,
			StartedAt:     c.StartedAt,
			Progress:      progress.CalculateAtRate(c.TotalContacts, c.SentContacts, state.EmailsPerHour, c.StartedAt, now),
		})
	}
	if s.pool != nil {
		st := s.pool.Stats()
		snap.Workers = &st
	}
	return snap, nil
}
