package processes

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/warmup"
	"github.com/ignite/campaign-engine/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats struct{}

func (fixedStats) Stats() worker.PoolStats { return worker.PoolStats{Workers: 4, Running: 1} }

func seed(t *testing.T) (*memory.Store, time.Time) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	store := memory.New()

	started := now.Add(-200 * time.Second)
	require.NoError(t, store.CreateJob(ctx, &domain.VerificationJob{ID: "running", Total: 40, Status: domain.JobPending}))
	require.NoError(t, store.TransitionJob(ctx, "running", domain.JobTransition{Status: domain.JobProcessing, StartedAt: &started}))
	require.NoError(t, store.RecordProgress(ctx, "running", 10, "a@example.com"))

	require.NoError(t, store.CreateJob(ctx, &domain.VerificationJob{ID: "done", Total: 5, Status: domain.JobPending}))
	require.NoError(t, store.TransitionJob(ctx, "done", domain.JobTransition{Status: domain.JobProcessing}))
	require.NoError(t, store.TransitionJob(ctx, "done", domain.JobTransition{Status: domain.JobCompleted, Results: &domain.JobResults{Valid: 5}}))

	campaignStart := now.Add(-2 * time.Hour)
	manual := 120
	store.PutCampaign(domain.Campaign{ID: "warm", Status: domain.CampaignActive, IsActive: true,
		TotalContacts: 1000, SentContacts: 100, StartedAt: &campaignStart})
	store.PutCampaign(domain.Campaign{ID: "manual", Status: domain.CampaignSending, IsActive: true,
		TotalContacts: 600, SentContacts: 360, EmailsPerHour: &manual, StartedAt: &campaignStart})
	store.PutCampaign(domain.Campaign{ID: "finished", Status: domain.CampaignSent})

	require.NoError(t, store.InsertQueueEntries(ctx, []domain.SendQueueEntry{
		{ID: "q1", CampaignID: "warm", Status: domain.QueuePending, RunAfter: now.Add(10 * time.Minute)},
		{ID: "q2", CampaignID: "warm", Status: domain.QueueCompleted, RunAfter: now},
	}))
	return store, now
}

func TestSnapshot_InFlightOnly(t *testing.T) {
	store, now := seed(t)
	svc := NewService(store, store, store, warmup.NewCalculator(nil, 0), fixedStats{})
	svc.now = func() time.Time { return now }

	snap, err := svc.Snapshot(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, now, snap.GeneratedAt)

	require.Len(t, snap.Jobs, 1)
	job := snap.Jobs[0]
	assert.Equal(t, "running", job.ID)
	assert.Equal(t, 25, job.Progress.Percentage)
	require.NotNil(t, job.Progress.RemainingSeconds)
	assert.InDelta(t, 600, *job.Progress.RemainingSeconds, 0.001)

	require.Len(t, snap.Campaigns, 2)
	require.Len(t, snap.Warmup, 2)
	byID := map[string]CampaignProcess{}
	for _, c := range snap.Campaigns {
		byID[c.ID] = c
	}
	assert.Equal(t, 50, byID["warm"].EmailsPerHour)
	assert.Equal(t, 120, byID["manual"].EmailsPerHour)
	assert.Equal(t, 60, byID["manual"].Progress.Percentage)
	require.NotNil(t, byID["manual"].Progress.RemainingSeconds)
	assert.InDelta(t, 2*3600, *byID["manual"].Progress.RemainingSeconds, 0.001)

	assert.Equal(t, 1, snap.Queue.Pending)
	assert.Equal(t, 1, snap.Queue.Completed)
	require.NotNil(t, snap.Workers)
	assert.Equal(t, 4, snap.Workers.Workers)
}

func TestSnapshot_IncludeCompleted(t *testing.T) {
	store, now := seed(t)
	svc := NewService(store, store, store, nil, nil)
	svc.now = func() time.Time { return now }

	snap, err := svc.Snapshot(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, snap.Jobs, 2)
	assert.Len(t, snap.Campaigns, 3)
	assert.Nil(t, snap.Workers)
}
