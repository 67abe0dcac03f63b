package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/mailer"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// settleTimeout bounds the terminal writes and notifications of a job. They
// run detached from the job's context so a stopping pool still leaves the
// job completed or failed.
const settleTimeout = 15 * time.Second

func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// outcome accumulates probe results for one job.
type outcome struct {
	results map[string]domain.ProbeResult
	valid   []string
	invalid []string
}

// Run executes a bulk job: processing, sequential probes, contact
// reconciliation, completion and report. Any persistence failure fails the
// job and still sends a report counting every email invalid.
func (s *Service) Run(ctx context.Context, jobID string, emails []string, adminEmail string) {
	log := logger.With("job_id", jobID)
	started := s.now()

	if err := s.deps.Jobs.TransitionJob(ctx, jobID, domain.JobTransition{Status: domain.JobProcessing, StartedAt: &started}); err != nil {
		s.fail(ctx, jobID, emails, adminEmail, started, fmt.Errorf("start job: %w", err))
		return
	}
	log.Info("bulk verification started", "total", len(emails))

	out, err := s.probeAll(ctx, jobID, emails)
	if err != nil {
		s.fail(ctx, jobID, emails, adminEmail, started, err)
		return
	}

	// Every probe has an answer; record them even if the pool is stopping.
	ctx, cancel := settleContext(ctx)
	defer cancel()

	if err := s.reconcile(ctx, out); err != nil {
		s.fail(ctx, jobID, emails, adminEmail, started, err)
		return
	}

	completed := s.now()
	results := &domain.JobResults{Valid: len(out.valid), Invalid: len(out.invalid)}
	if err := s.deps.Jobs.TransitionJob(ctx, jobID, domain.JobTransition{
		Status:      domain.JobCompleted,
		CompletedAt: &completed,
		Results:     results,
	}); err != nil {
		s.fail(ctx, jobID, emails, adminEmail, started, fmt.Errorf("complete job: %w", err))
		return
	}

	log.Info("bulk verification completed", "valid", results.Valid, "invalid", results.Invalid,
		"duration_ms", completed.Sub(started).Milliseconds())
	s.finish(ctx, jobID, adminEmail, mailer.Report{
		JobID:         jobID,
		Status:        string(domain.JobCompleted),
		Total:         len(emails),
		Valid:         results.Valid,
		Invalid:       results.Invalid,
		InvalidEmails: out.invalid,
		StartedAt:     started,
		CompletedAt:   completed,
	})
}

func (s *Service) probeAll(ctx context.Context, jobID string, emails []string) (*outcome, error) {
	out := &outcome{results: make(map[string]domain.ProbeResult, len(emails))}
	for i, email := range emails {
		if err := s.deps.Jobs.RecordProgress(ctx, jobID, i+1, email); err != nil {
			logger.Warn("progress ping failed", "job_id", jobID, "processed", i+1, "error", err.Error())
		}

		if s.deps.Limiter != nil {
			if err := s.deps.Limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("wait for probe slot: %w", err)
			}
		}

		res := s.probe(ctx, email)
		out.results[email] = res
		if res.Valid {
			out.valid = append(out.valid, email)
		} else {
			out.invalid = append(out.invalid, email)
		}

		if i < len(emails)-1 && s.opts.Delay > 0 {
			if err := s.sleep(ctx, s.opts.Delay); err != nil {
				return nil, fmt.Errorf("interrupted after %d of %d probes: %w", i+1, len(emails), err)
			}
		}
	}
	return out, nil
}

// probe runs the prober under the configured timeout. Errors, panics and
// timeouts all come back as an invalid result.
func (s *Service) probe(ctx context.Context, email string) domain.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	type reply struct {
		res domain.ProbeResult
		err error
	}
	ch := make(chan reply, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		res, err := s.deps.Prober.Verify(ctx, email)
		ch <- reply{res: res, err: err}
	}()

	var rep reply
	select {
	case rep = <-ch:
	case <-ctx.Done():
		rep = reply{err: fmt.Errorf("probe timed out after %s", s.opts.Timeout)}
	}
	s.deps.Metrics.ProbeObserved(rep.res.Valid, rep.err, time.Since(start))

	if rep.err != nil {
		logger.Debug("probe failed", "email", email, "error", rep.err.Error())
		return domain.ProbeResult{Valid: false, Reason: rep.err.Error()}
	}
	return rep.res
}

// reconcile maps probe results back onto contacts. Only contacts still in a
// verified family status are touched; ones that unsubscribed or bounced
// meanwhile keep their status.
func (s *Service) reconcile(ctx context.Context, out *outcome) error {
	emails := make([]string, 0, len(out.results))
	for e := range out.results {
		emails = append(emails, e)
	}
	contacts, err := s.lookup(ctx, emails)
	if err != nil {
		return err
	}

	var updates []domain.StatusUpdate
	for _, c := range contacts {
		switch c.Status {
		case domain.ContactVerifying, domain.ContactVerified, domain.ContactVerifiedGeneric:
		default:
			continue
		}
		email := domain.NormalizeEmail(c.Email)
		res, ok := out.results[email]
		if !ok {
			continue
		}
		u := domain.StatusUpdate{ContactID: c.ID, Status: resolvedStatus(domain.ContactVerifying, res)}
		if s.opts.GuardedTransitions {
			u.ExpectedStatus = domain.ContactVerifying
		}
		updates = append(updates, u)
	}
	return s.writeStatuses(ctx, updates)
}

// resolvedStatus is the status a probe outcome gives a contact that was in
// prior. A valid result keeps an existing verified_generic classification
// and otherwise means verified.
func resolvedStatus(prior domain.ContactStatus, res domain.ProbeResult) domain.ContactStatus {
	switch {
	case !res.Valid:
		return domain.ContactInvalid
	case prior == domain.ContactVerifiedGeneric:
		return domain.ContactVerifiedGeneric
	default:
		return domain.ContactVerified
	}
}

func (s *Service) fail(ctx context.Context, jobID string, emails []string, adminEmail string, started time.Time, cause error) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	msg := cause.Error()
	logger.Error("bulk verification failed", "job_id", jobID, "error", msg)

	completed := s.now()
	if err := s.deps.Jobs.TransitionJob(ctx, jobID, domain.JobTransition{
		Status:      domain.JobFailed,
		CompletedAt: &completed,
		Error:       &msg,
	}); err != nil {
		logger.Error("mark job failed", "job_id", jobID, "error", err.Error())
	}

	s.finish(ctx, jobID, adminEmail, mailer.Report{
		JobID:         jobID,
		Status:        string(domain.JobFailed),
		Total:         len(emails),
		Invalid:       len(emails),
		InvalidEmails: emails,
		Error:         msg,
		StartedAt:     started,
		CompletedAt:   completed,
	})
}

// finish emits the side effects of a terminal job. None of them can change
// the job's outcome.
func (s *Service) finish(ctx context.Context, jobID, adminEmail string, rep mailer.Report) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	s.deps.Metrics.JobFinished(rep.Status)
	s.sendReport(ctx, adminEmail, rep)

	if s.deps.Archive != nil {
		if job, err := s.deps.Jobs.GetJob(ctx, jobID); err != nil {
			logger.Warn("load job for archive", "job_id", jobID, "error", err.Error())
		} else if key, err := s.deps.Archive.ArchiveJob(ctx, job); err != nil {
			logger.Warn("archive job failed", "job_id", jobID, "error", err.Error())
		} else {
			logger.Debug("job archived", "job_id", jobID, "key", key)
		}
	}

	err := s.deps.Events.Publish(ctx, events.JobFinished, map[string]any{
		"jobId":   jobID,
		"status":  rep.Status,
		"total":   rep.Total,
		"valid":   rep.Valid,
		"invalid": rep.Invalid,
	})
	if err != nil {
		logger.Warn("publish job event failed", "job_id", jobID, "error", err.Error())
	}
}

func (s *Service) sendReport(ctx context.Context, to string, rep mailer.Report) {
	if to == "" || s.deps.Mail == nil {
		return
	}
	msg, err := s.deps.Renderer.VerificationReport(rep, to)
	if err == nil {
		err = s.deps.Mail.Send(ctx, msg)
	}
	s.deps.Metrics.MailSent("report", err)
	if err != nil {
		logger.Error("verification report not sent", "job_id", rep.JobID, "to", to, "error", err.Error())
	}
}
