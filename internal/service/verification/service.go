// Package verification runs SMTP mailbox checks against contacts, either one
// address at a time on the request path or as detached bulk jobs whose only
// output channel is the persisted job record and an emailed report.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/archive"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/mailer"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/apperr"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/progress"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/smtpprobe"
	"github.com/ignite/campaign-engine/internal/worker"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultDelay   = 2 * time.Second
)

// Deps are the collaborators of Service. Limiter, Archive, Events and
// Metrics are optional.
type Deps struct {
	Contacts ContactStore
	Jobs     JobStore
	Prober   smtpprobe.Prober
	Pool     Submitter
	Limiter  worker.ProbeLimiter
	Mail     mailer.Transport
	Renderer *mailer.Renderer
	Archive  archive.Archiver
	Events   events.Publisher
	Metrics  *metrics.Metrics
}

// Options tune probing and reconciliation.
type Options struct {
	Timeout time.Duration
	// Delay is slept between consecutive probes of one job. Zero disables it.
	Delay              time.Duration
	GuardedTransitions bool
	IncludeGeneric     bool
}

// Service starts bulk jobs and answers single checks.
type Service struct {
	deps  Deps
	opts  Options
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(deps Deps, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Renderer == nil {
		deps.Renderer = mailer.NewRenderer()
	}
	return &Service{deps: deps, opts: opts, now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BulkResult is returned once a bulk job has been queued.
type BulkResult struct {
	Success bool   `json:"success"`
	Total   int    `json:"total"`
	JobID   string `json:"jobId"`
}

// StartBulkVerification flips the eligible contacts behind emails to
// verifying, creates a pending job and hands the run to the worker pool. It
// returns as soon as the task is queued.
func (s *Service) StartBulkVerification(ctx context.Context, emails []string, adminEmail string) (*BulkResult, error) {
	if len(emails) == 0 {
		return nil, apperr.Wrap(apperr.KindValidation, "emails must not be empty", ErrNoEmails)
	}
	if len(emails) > domain.MaxBulkVerifyEmails {
		return nil, &apperr.Error{
			Kind:    apperr.KindValidation,
			Message: fmt.Sprintf("at most %d emails per request", domain.MaxBulkVerifyEmails),
			Details: map[string]int{"max": domain.MaxBulkVerifyEmails, "received": len(emails)},
			Err:     ErrTooManyEmails,
		}
	}

	contacts, err := s.lookup(ctx, normalize(emails))
	if err != nil {
		return nil, err
	}
	var targets []domain.Contact
	for i := range contacts {
		if contacts[i].Eligible(s.opts.IncludeGeneric) {
			targets = append(targets, contacts[i])
		}
	}
	if len(targets) == 0 {
		return nil, &apperr.Error{
			Kind:    apperr.KindValidation,
			Message: "none of the emails belong to verified contacts",
			Details: map[string]int{"received": len(emails)},
			Err:     ErrNoEligibleContacts,
		}
	}

	updates := make([]domain.StatusUpdate, len(targets))
	probeList := make([]string, len(targets))
	for i, c := range targets {
		updates[i] = domain.StatusUpdate{ContactID: c.ID, Status: domain.ContactVerifying}
		if s.opts.GuardedTransitions {
			updates[i].ExpectedStatus = c.Status
		}
		probeList[i] = domain.NormalizeEmail(c.Email)
	}
	if err := s.writeStatuses(ctx, updates); err != nil {
		return nil, err
	}

	job := &domain.VerificationJob{
		ID:         uuid.New().String(),
		Total:      len(probeList),
		Status:     domain.JobPending,
		AdminEmail: adminEmail,
		JobType:    domain.JobTypeSMTPBulk,
		Source:     domain.JobSourceAdmin,
	}
	if err := s.deps.Jobs.CreateJob(ctx, job); err != nil {
		s.restore(ctx, targets)
		return nil, fmt.Errorf("create job: %w", err)
	}

	task := worker.Task{
		Name: "smtp_bulk_verify",
		Run:  func(ctx context.Context) { s.Run(ctx, job.ID, probeList, adminEmail) },
	}
	if err := s.deps.Pool.Submit(task); err != nil {
		msg := err.Error()
		now := s.now()
		if terr := s.deps.Jobs.TransitionJob(ctx, job.ID, domain.JobTransition{Status: domain.JobFailed, CompletedAt: &now, Error: &msg}); terr != nil {
			logger.Error("mark unscheduled job failed", "job_id", job.ID, "error", terr.Error())
		}
		s.restore(ctx, targets)
		if errors.Is(err, worker.ErrPoolFull) {
			return nil, apperr.Unavailable("verification queue is full, retry later", err)
		}
		return nil, apperr.Unavailable("verification workers are not running", err)
	}

	logger.Info("bulk verification queued", "job_id", job.ID, "requested", len(emails), "total", job.Total)
	return &BulkResult{Success: true, Total: job.Total, JobID: job.ID}, nil
}

// restore puts contacts back to their prior status when a job never ran.
func (s *Service) restore(ctx context.Context, contacts []domain.Contact) {
	ctx, cancel := settleContext(ctx)
	defer cancel()
	updates := make([]domain.StatusUpdate, len(contacts))
	for i, c := range contacts {
		updates[i] = domain.StatusUpdate{ContactID: c.ID, Status: c.Status, ExpectedStatus: domain.ContactVerifying}
	}
	if err := s.writeStatuses(ctx, updates); err != nil {
		logger.Error("restore contact statuses", "contacts", len(contacts), "error", err.Error())
	}
}

// SingleResult is the response of a synchronous check.
type SingleResult struct {
	Success bool                 `json:"success"`
	Valid   bool                 `json:"valid"`
	Reason  string               `json:"reason,omitempty"`
	Status  domain.ContactStatus `json:"status"`
}

// CheckSingle probes one address and records the outcome on its contact,
// found by contactID or else by email. Unsubscribed contacts keep their
// status.
func (s *Service) CheckSingle(ctx context.Context, email, contactID string) (*SingleResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, apperr.Validation("email is required", nil)
	}

	var contact *domain.Contact
	if contactID != "" {
		c, err := s.deps.Contacts.GetContact(ctx, contactID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("contact", contactID)
		}
		if err != nil {
			return nil, fmt.Errorf("load contact: %w", err)
		}
		contact = c
	} else {
		found, err := s.deps.Contacts.ContactsByEmails(ctx, []string{email})
		if err != nil {
			return nil, fmt.Errorf("load contact: %w", err)
		}
		if len(found) > 0 {
			contact = &found[0]
		}
	}

	res := s.probe(ctx, email)
	var prior domain.ContactStatus
	if contact != nil {
		prior = contact.Status
	}
	status := resolvedStatus(prior, res)

	if contact != nil && contact.Status != domain.ContactUnsubscribed {
		_, err := s.deps.Contacts.UpdateContactStatuses(ctx, []domain.StatusUpdate{{ContactID: contact.ID, Status: status}})
		if err != nil {
			return nil, fmt.Errorf("update contact status: %w", err)
		}
	}
	return &SingleResult{Success: true, Valid: res.Valid, Reason: res.Reason, Status: status}, nil
}

// JobView is a job plus its progress projection.
type JobView struct {
	domain.VerificationJob
	Progress progress.Estimate `json:"progress"`
}

func (s *Service) GetJob(ctx context.Context, id string) (*JobView, error) {
	job, err := s.deps.Jobs.GetJob(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("verification job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return &JobView{VerificationJob: *job, Progress: progress.Calculate(job.Total, job.Processed, job.StartedAt, s.now())}, nil
}

func normalize(emails []string) []string {
	out := make([]string, 0, len(emails))
	seen := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		n := domain.NormalizeEmail(e)
		if _, dup := seen[n]; n == "" || dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func (s *Service) lookup(ctx context.Context, emails []string) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, chunk := range domain.Chunk(emails, domain.MaxInQueryValues) {
		found, err := s.deps.Contacts.ContactsByEmails(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("load contacts by email: %w", err)
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *Service) writeStatuses(ctx context.Context, updates []domain.StatusUpdate) error {
	for _, batch := range domain.Chunk(updates, domain.MaxBatchWrites) {
		if _, err := s.deps.Contacts.UpdateContactStatuses(ctx, batch); err != nil {
			return fmt.Errorf("update contact statuses: %w", err)
		}
	}
	return nil
}
