package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/mailer"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/apperr"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository"
)

// Deps are the collaborators of Service. Events and Metrics may be nil.
type Deps struct {
	Contacts  ContactReader
	Segments  SegmentReader
	Campaigns CampaignStore
	Queue     QueueWriter
	Locks     Locker
	Mail      mailer.Transport
	Renderer  *mailer.Renderer
	Events    events.Publisher
	Metrics   *metrics.Metrics
}

// Options tune resolution and batching.
type Options struct {
	DedupeAcrossSegments bool
	IncludeGeneric       bool
	TargetBatches        int
	MaxBatchSize         int
	Interval             time.Duration
}

// SendRequest is either a campaign send (CampaignID, optionally narrowed by
// SegmentID or Criteria) or a one-off test send (TestEmail + TestContent).
type SendRequest struct {
	CampaignID  string                  `json:"campaignId"`
	SegmentID   string                  `json:"segmentId,omitempty"`
	Criteria    *domain.SegmentCriteria `json:"criteria,omitempty"`
	TestEmail   string                  `json:"testEmail,omitempty"`
	TestContent *domain.Content         `json:"testContent,omitempty"`
}

func (r SendRequest) isTest() bool {
	return r.CampaignID == "" && r.TestEmail != ""
}

// SendResult reports what a send request did. Enqueued counts contacts
// placed on the send queue; a test send enqueues nothing.
type SendResult struct {
	Success          bool       `json:"success"`
	Enqueued         int        `json:"enqueued"`
	TotalRecipients  int        `json:"totalRecipients"`
	EligibleContacts int        `json:"eligibleContacts"`
	Batches          int        `json:"batches,omitempty"`
	NextSendTime     *time.Time `json:"nextSendTime,omitempty"`
	Test             bool       `json:"test,omitempty"`
}

// Service resolves audiences and schedules campaign sends.
type Service struct {
	deps      Deps
	resolver  *Resolver
	scheduler *Scheduler
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Renderer == nil {
		deps.Renderer = mailer.NewRenderer()
	}
	return &Service{
		deps:      deps,
		resolver:  NewResolver(deps.Contacts, deps.Segments, opts.DedupeAcrossSegments, opts.IncludeGeneric),
		scheduler: NewScheduler(deps.Queue, deps.Campaigns, opts.TargetBatches, opts.MaxBatchSize, opts.Interval),
	}
}

// Resolver exposes the recipient resolver for callers that only need counts.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Send handles POST /emails/send.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.isTest() {
		return s.sendTest(ctx, req.TestEmail, req.TestContent)
	}
	if req.CampaignID == "" {
		return nil, apperr.Validation("campaignId or testEmail is required", nil)
	}
	return s.sendCampaign(ctx, req)
}

func (s *Service) sendCampaign(ctx context.Context, req SendRequest) (*SendResult, error) {
	release, ok, err := s.deps.Locks.TryLock(ctx, "campaign:schedule:"+req.CampaignID)
	if err != nil {
		return nil, apperr.Unavailable("schedule lock unavailable", err)
	}
	if !ok {
		return nil, apperr.Wrap(apperr.KindConflict, "campaign is being scheduled by another request", ErrLocked)
	}
	defer release()

	c, err := s.deps.Campaigns.GetCampaign(ctx, req.CampaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("campaign", req.CampaignID)
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if c.IsTerminal() {
		return nil, apperr.Wrap(apperr.KindConflict, "campaign has already finished", ErrFinished)
	}
	if c.InFlight() {
		return nil, apperr.Wrap(apperr.KindConflict, "campaign is already scheduled or sending", ErrAlreadyScheduled)
	}

	var o *Override
	if req.SegmentID != "" || req.Criteria != nil {
		o = &Override{SegmentID: req.SegmentID, Criteria: req.Criteria}
	}
	res, err := s.resolver.Resolve(ctx, c, o)
	if err != nil {
		return nil, err
	}

	plan, err := s.scheduler.Schedule(ctx, c, res.Eligible)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.BatchesScheduled(len(plan.Entries), len(res.Eligible))

	logger.Info("campaign scheduled",
		"campaign_id", c.ID,
		"candidates", res.Candidates,
		"eligible", len(res.Eligible),
		"batches", len(plan.Entries),
		"slice_size", plan.SliceSize)

	for _, e := range plan.Entries {
		err := s.deps.Events.Publish(ctx, events.BatchScheduled, map[string]any{
			"campaignId": c.ID,
			"entryId":    e.ID,
			"contacts":   len(e.ContactIDs),
			"runAfter":   e.RunAfter,
		})
		if err != nil {
			logger.Warn("publish batch event failed", "campaign_id", c.ID, "entry_id", e.ID, "error", err.Error())
		}
	}

	next := plan.NextSendTime
	return &SendResult{
		Success:          true,
		Enqueued:         len(res.Eligible),
		TotalRecipients:  res.Candidates,
		EligibleContacts: len(res.Eligible),
		Batches:          len(plan.Entries),
		NextSendTime:     &next,
	}, nil
}

// sendTest renders content once for to and hands it straight to the mail
// transport.
func (s *Service) sendTest(ctx context.Context, to string, content *domain.Content) (*SendResult, error) {
	to = domain.NormalizeEmail(to)
	if content == nil || content.Subject == "" || (content.HTML == "" && content.Text == "") {
		return nil, apperr.Validation("testContent needs a subject and a body", map[string]string{"testEmail": to})
	}

	vars := map[string]any{"email": to}
	render := func(src string) (string, error) {
		if src == "" {
			return "", nil
		}
		return s.deps.Renderer.Render("", src, vars)
	}
	subject, err := render(content.Subject)
	if err != nil {
		return nil, apperr.Validation("invalid subject template", map[string]string{"error": err.Error()})
	}
	html, err := render(content.HTML)
	if err != nil {
		return nil, apperr.Validation("invalid html template", map[string]string{"error": err.Error()})
	}
	text, err := render(content.Text)
	if err != nil {
		return nil, apperr.Validation("invalid text template", map[string]string{"error": err.Error()})
	}

	from := content.FromEmail
	if from != "" && content.FromName != "" {
		from = fmt.Sprintf("%s <%s>", content.FromName, content.FromEmail)
	}
	err = s.deps.Mail.Send(ctx, mailer.Message{From: from, To: to, Subject: subject, HTML: html, Text: text})
	s.deps.Metrics.MailSent("test", err)
	if err != nil {
		logger.Error("test send failed", "to", to, "error", err.Error())
		return nil, apperr.Unavailable("test send failed", err)
	}
	return &SendResult{Success: true, TotalRecipients: 1, EligibleContacts: 1, Test: true}, nil
}
