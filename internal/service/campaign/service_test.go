package campaign

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/mailer"
	"github.com/ignite/campaign-engine/internal/pkg/apperr"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recordingTransport struct {
	sent []mailer.Message
	err  error
}

func (r *recordingTransport) Send(_ context.Context, msg mailer.Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

type fixture struct {
	store *memory.Store
	locks *distlock.Factory
	mail  *recordingTransport
	svc   *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		locks: distlock.NewFactory(nil, nil, time.Minute),
		mail:  &recordingTransport{},
	}
	f.store.SetClock(func() time.Time { return fixedNow })
	f.svc = NewService(Deps{
		Contacts:  f.store,
		Segments:  f.store,
		Campaigns: f.store,
		Queue:     f.store,
		Locks:     f.locks,
		Mail:      f.mail,
	}, opts)
	f.svc.scheduler.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) addContacts(prefix string, n int, status domain.ContactStatus, meta map[string]any) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%03d", prefix, i)
		ids[i] = id
		f.store.PutContact(domain.Contact{
			ID:       id,
			Email:    fmt.Sprintf("%s%d@example.com", prefix, i),
			Status:   status,
			Source:   "import",
			Metadata: meta,
		})
	}
	return ids
}

func importCampaign(id string) domain.Campaign {
	return domain.Campaign{
		ID:     id,
		Name:   "Spring launch",
		Status: domain.CampaignDraft,
		Recipients: domain.Recipients{
			Type: domain.RecipientsCriteria,
			Criteria: &domain.SegmentCriteria{Rules: []domain.CriteriaRule{
				{Field: "source", Operator: domain.OpEquals, Value: "import"},
			}},
		},
		Content: domain.Content{Subject: "Hello", FromEmail: "news@example.com", HTML: "<p>hi</p>"},
	}
}

func TestSliceSize(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{0, 1},
		{1, 1},
		{6, 1},
		{7, 2},
		{125, 21},
		{300, 50},
		{1000, 50},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SliceSize(tc.n, 6, 50), "n=%d", tc.n)
	}
}

func TestSend_SplitsIntoPacedBatches(t *testing.T) {
	f := newFixture(t, Options{IncludeGeneric: true})
	eligible := f.addContacts("v", 125, domain.ContactVerified, nil)
	f.addContacts("u", 4, domain.ContactUnsubscribed, nil)
	f.addContacts("i", 3, domain.ContactInvalid, nil)
	f.store.PutCampaign(importCampaign("c1"))

	res, err := f.svc.Send(context.Background(), SendRequest{CampaignID: "c1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 125, res.Enqueued)
	assert.Equal(t, 125, res.EligibleContacts)
	assert.Equal(t, 132, res.TotalRecipients)
	assert.Equal(t, 6, res.Batches)

	entries := f.store.QueueEntries("c1")
	require.Len(t, entries, 6)

	seen := make(map[string]bool)
	for i, e := range entries {
		want := 21
		if i == 5 {
			want = 20
		}
		assert.Len(t, e.ContactIDs, want, "batch %d", i)
		assert.Equal(t, fixedNow.Add(time.Duration(i)*10*time.Minute), e.RunAfter)
		assert.Equal(t, domain.QueuePending, e.Status)
		assert.Equal(t, "Hello", e.Content.Subject)
		for _, id := range e.ContactIDs {
			assert.False(t, seen[id], "contact %s queued twice", id)
			seen[id] = true
		}
	}
	for _, id := range eligible {
		assert.True(t, seen[id], "contact %s not queued", id)
	}

	c, err := f.store.GetCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignActive, c.Status)
	assert.True(t, c.IsActive)
	assert.Equal(t, 125, c.TotalContacts)
	require.NotNil(t, c.NextSendTime)
	assert.Equal(t, fixedNow.Add(50*time.Minute), *c.NextSendTime)
	require.NotNil(t, c.StartedAt)
	assert.Equal(t, fixedNow, *c.StartedAt)
}

func TestSend_CapsBatchSize(t *testing.T) {
	f := newFixture(t, Options{})
	f.addContacts("v", 420, domain.ContactVerified, nil)
	f.store.PutCampaign(importCampaign("c1"))

	res, err := f.svc.Send(context.Background(), SendRequest{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Batches)
	for _, e := range f.store.QueueEntries("c1") {
		assert.LessOrEqual(t, len(e.ContactIDs), domain.MaxBatchRecipients)
	}
}

func TestSend_NoEligibleContactsPersistsNothing(t *testing.T) {
	f := newFixture(t, Options{})
	f.addContacts("u", 5, domain.ContactUnsubscribed, nil)
	f.addContacts("p", 5, domain.ContactPending, nil)
	f.store.PutCampaign(importCampaign("c1"))

	_, err := f.svc.Send(context.Background(), SendRequest{CampaignID: "c1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEligibleContacts)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	assert.Empty(t, f.store.QueueEntries("c1"))
	c, err := f.store.GetCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, c.Status)
	assert.False(t, c.IsActive)
	assert.Nil(t, c.StartedAt)
}

func TestSend_GenericAddressesFollowOption(t *testing.T) {
	for _, include := range []bool{true, false} {
		t.Run(fmt.Sprintf("include=%v", include), func(t *testing.T) {
			f := newFixture(t, Options{IncludeGeneric: include})
			f.addContacts("v", 4, domain.ContactVerified, nil)
			f.addContacts("g", 2, domain.ContactVerifiedGeneric, nil)
			f.store.PutCampaign(importCampaign("c1"))

			res, err := f.svc.Send(context.Background(), SendRequest{CampaignID: "c1"})
			require.NoError(t, err)
			want := 4
			if include {
				want = 6
			}
			assert.Equal(t, want, res.EligibleContacts)
		})
	}
}

func TestSend_ConcurrentScheduleIsRejected(t *testing.T) {
	f := newFixture(t, Options{})
	f.addContacts("v", 3, domain.ContactVerified, nil)
	f.store.PutCampaign(importCampaign("c1"))

	release, ok, err := f.locks.TryLock(context.Background(), "campaign:schedule:c1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Send(context.Background(), SendRequest{CampaignID: "c1"})
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Empty(t, f.store.QueueEntries("c1"))

	release()
	_, err = f.svc.Send(context.Background(), SendRequest{CampaignID: "c1"})
	assert.NoError(t, err)
}

func TestSend_RejectsActiveAndFinishedCampaigns(t *testing.T) {
	f := newFixture(t, Options{})
	f.addContacts("v", 3, domain.ContactVerified, nil)

	active := importCampaign("active")
	active.Status = domain.CampaignActive
	active.IsActive = true
	f.store.PutCampaign(active)

	sent := importCampaign("sent")
	sent.Status = domain.CampaignSent
	f.store.PutCampaign(sent)

	_, err := f.svc.Send(context.Background(), SendRequest{CampaignID: "active"})
	assert.ErrorIs(t, err, ErrAlreadyScheduled)
	_, err = f.svc.Send(context.Background(), SendRequest{CampaignID: "sent"})
	assert.ErrorIs(t, err, ErrFinished)

	_, err = f.svc.Send(context.Background(), SendRequest{CampaignID: "missing"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSend_SegmentsDedupeToggle(t *testing.T) {
	tests := []struct {
		name   string
		dedupe bool
		want   int
	}{
		{"concatenated", false, 8},
		{"deduplicated", true, 6},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{DedupeAcrossSegments: tc.dedupe})
			f.addContacts("a", 2, domain.ContactVerified, map[string]any{"tier": "gold"})
			f.addContacts("b", 2, domain.ContactVerified, map[string]any{"tier": "gold", "region": "eu"})
			f.addContacts("c", 2, domain.ContactVerified, map[string]any{"region": "eu"})
			f.store.PutSegment(domain.Segment{ID: "gold", Criteria: domain.SegmentCriteria{Rules: []domain.CriteriaRule{
				{Field: "metadata.tier", Operator: domain.OpEquals, Value: "gold"},
			}}})
			f.store.PutSegment(domain.Segment{ID: "eu", Criteria: domain.SegmentCriteria{Rules: []domain.CriteriaRule{
				{Field: "metadata.region", Operator: domain.OpEquals, Value: "eu"},
			}}})

			c := importCampaign("c1")
			c.Recipients = domain.Recipients{Type: domain.RecipientsSegments, SegmentIDs: []string{"gold", "eu"}}
			f.store.PutCampaign(c)

			res, err := f.svc.Send(context.Background(), SendRequest{CampaignID: "c1"})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.EligibleContacts)
		})
	}
}

func TestSend_SegmentOverrideWins(t *testing.T) {
	f := newFixture(t, Options{})
	f.addContacts("v", 10, domain.ContactVerified, nil)
	vip := f.addContacts("vip", 2, domain.ContactVerified, map[string]any{"vip": true})
	f.store.PutSegment(domain.Segment{ID: "vip", Criteria: domain.SegmentCriteria{Rules: []domain.CriteriaRule{
		{Field: "metadata.vip", Operator: domain.OpExists},
	}}})
	f.store.PutCampaign(importCampaign("c1"))

	res, err := f.svc.Send(context.Background(), SendRequest{CampaignID: "c1", SegmentID: "vip"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)

	entries := f.store.QueueEntries("c1")
	require.Len(t, entries, 1)
	assert.ElementsMatch(t, vip, entries[0].ContactIDs)

	_, err = f.svc.Send(context.Background(), SendRequest{CampaignID: "c1", SegmentID: "nope"})
	assert.Error(t, err)
}

func TestResolve_ManualAndContactListsAreChunked(t *testing.T) {
	f := newFixture(t, Options{})
	ids := f.addContacts("m", 75, domain.ContactVerified, nil)

	emails := make([]string, 0, 76)
	for i := 0; i < 75; i++ {
		emails = append(emails, fmt.Sprintf("  M%d@Example.com", i))
	}
	emails = append(emails, "m0@example.com")

	manual := importCampaign("manual")
	manual.Recipients = domain.Recipients{Type: domain.RecipientsManual, Emails: emails}
	res, err := f.svc.Resolver().Resolve(context.Background(), &manual, nil)
	require.NoError(t, err)
	assert.Len(t, res.Eligible, 75)

	byID := importCampaign("ids")
	byID.Recipients = domain.Recipients{Type: domain.RecipientsContacts, ContactIDs: ids}
	res, err = f.svc.Resolver().Resolve(context.Background(), &byID, nil)
	require.NoError(t, err)
	assert.Len(t, res.Eligible, 75)
}

func TestSend_TestEmailRendersAndSends(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.svc.Send(context.Background(), SendRequest{
		TestEmail: "QA@Example.com",
		TestContent: &domain.Content{
			Subject:   "Preview for {{ email }}",
			FromEmail: "news@example.com",
			FromName:  "News",
			HTML:      "<p>{{ email }}</p>",
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Test)
	assert.Equal(t, 1, res.TotalRecipients)
	assert.Equal(t, 0, res.Enqueued)

	require.Len(t, f.mail.sent, 1)
	msg := f.mail.sent[0]
	assert.Equal(t, "qa@example.com", msg.To)
	assert.Equal(t, "News <news@example.com>", msg.From)
	assert.Equal(t, "Preview for qa@example.com", msg.Subject)
	assert.Equal(t, "<p>qa@example.com</p>", msg.HTML)
}

func TestSend_TestEmailFailures(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.Send(context.Background(), SendRequest{TestEmail: "qa@example.com"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	f.mail.err = errors.New("ses throttled")
	_, err = f.svc.Send(context.Background(), SendRequest{
		TestEmail:   "qa@example.com",
		TestContent: &domain.Content{Subject: "s", Text: "t"},
	})
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))

	_, err = f.svc.Send(context.Background(), SendRequest{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

type flakyActivation struct {
	*memory.Store
	failures int
}

func (f *flakyActivation) ActivateCampaign(ctx context.Context, id string, a domain.CampaignActivation) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.Store.ActivateCampaign(ctx, id, a)
}

func TestSend_FailedActivationWithdrawsEntries(t *testing.T) {
	f := newFixture(t, Options{})
	campaigns := &flakyActivation{Store: f.store, failures: 1}
	f.svc = NewService(Deps{
		Contacts:  f.store,
		Segments:  f.store,
		Campaigns: campaigns,
		Queue:     f.store,
		Locks:     f.locks,
		Mail:      f.mail,
	}, Options{})
	f.svc.scheduler.now = func() time.Time { return fixedNow }

	f.addContacts("v", 12, domain.ContactVerified, nil)
	f.store.PutCampaign(importCampaign("c1"))

	_, err := f.svc.Send(context.Background(), SendRequest{CampaignID: "c1"})
	require.Error(t, err)
	assert.Empty(t, f.store.QueueEntries("c1"))
	c, err := f.store.GetCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, c.Status)

	res, err := f.svc.Send(context.Background(), SendRequest{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Batches)

	entries := f.store.QueueEntries("c1")
	require.Len(t, entries, 6)
	seen := map[string]bool{}
	for _, e := range entries {
		for _, id := range e.ContactIDs {
			assert.False(t, seen[id], "contact %s queued twice", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 12)
}

func TestResolve_EmptyCriteriaFollowLogic(t *testing.T) {
	f := newFixture(t, Options{})
	ids := f.addContacts("v", 4, domain.ContactVerified, nil)

	c := importCampaign("c1")
	c.Recipients = domain.Recipients{Type: domain.RecipientsContacts, ContactIDs: ids}

	c.Criteria = &domain.SegmentCriteria{Logic: domain.LogicOr}
	res, err := f.svc.Resolver().Resolve(context.Background(), &c, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Eligible, "OR with no rules matches nothing")

	c.Criteria = &domain.SegmentCriteria{Logic: domain.LogicAnd}
	res, err = f.svc.Resolver().Resolve(context.Background(), &c, nil)
	require.NoError(t, err)
	assert.Len(t, res.Eligible, 4)

	c.Criteria = nil
	res, err = f.svc.Resolver().Resolve(context.Background(), &c, nil)
	require.NoError(t, err)
	assert.Len(t, res.Eligible, 4)
}
