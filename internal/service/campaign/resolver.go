package campaign

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/apperr"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/segmentation"
)

// Override replaces a campaign's recipient configuration for one send.
// SegmentID wins over Criteria when both are set.
type Override struct {
	SegmentID string
	Criteria  *domain.SegmentCriteria
}

func (o *Override) empty() bool {
	return o == nil || (o.SegmentID == "" && o.Criteria == nil)
}

// Resolution is the outcome of expanding an audience.
type Resolution struct {
	Candidates int // contacts matched before the eligibility filter
	Eligible   []domain.Contact
}

// Resolver expands recipient configurations into eligible contacts.
type Resolver struct {
	contacts       ContactReader
	segments       SegmentReader
	dedupe         bool
	includeGeneric bool
}

func NewResolver(contacts ContactReader, segments SegmentReader, dedupeAcrossSegments, includeGeneric bool) *Resolver {
	return &Resolver{
		contacts:       contacts,
		segments:       segments,
		dedupe:         dedupeAcrossSegments,
		includeGeneric: includeGeneric,
	}
}

// Resolve returns the contacts c should be sent to.
func (r *Resolver) Resolve(ctx context.Context, c *domain.Campaign, o *Override) (*Resolution, error) {
	var (
		matched []domain.Contact
		err     error
	)
	switch {
	case !o.empty() && o.SegmentID != "":
		matched, err = r.segmentContacts(ctx, []string{o.SegmentID})
	case !o.empty():
		matched, err = r.criteriaContacts(ctx, *o.Criteria)
	default:
		matched, err = r.configured(ctx, c)
	}
	if err != nil {
		return nil, err
	}

	res := &Resolution{Candidates: len(matched)}
	for i := range matched {
		if matched[i].Eligible(r.includeGeneric) {
			res.Eligible = append(res.Eligible, matched[i])
		}
	}
	return res, nil
}

func (r *Resolver) configured(ctx context.Context, c *domain.Campaign) ([]domain.Contact, error) {
	rc := c.Recipients
	switch rc.Type {
	case domain.RecipientsManual:
		emails := make([]string, 0, len(rc.Emails))
		seen := make(map[string]struct{}, len(rc.Emails))
		for _, e := range rc.Emails {
			n := domain.NormalizeEmail(e)
			if _, dup := seen[n]; n == "" || dup {
				continue
			}
			seen[n] = struct{}{}
			emails = append(emails, n)
		}
		found, err := r.byEmails(ctx, emails)
		if err != nil {
			return nil, err
		}
		return narrow(found, c.Criteria), nil
	case domain.RecipientsContacts:
		found, err := r.byIDs(ctx, rc.ContactIDs)
		if err != nil {
			return nil, err
		}
		return narrow(found, c.Criteria), nil
	case domain.RecipientsSegments:
		return r.segmentContacts(ctx, rc.SegmentIDs)
	case domain.RecipientsCriteria, "":
		criteria := rc.Criteria
		if criteria == nil {
			criteria = c.Criteria
		}
		if criteria == nil {
			return nil, apperr.Validation("campaign has no recipient criteria", map[string]string{"campaignId": c.ID})
		}
		return r.criteriaContacts(ctx, *criteria)
	default:
		return nil, apperr.Validation("unknown recipient type", map[string]string{"type": string(rc.Type)})
	}
}

func narrow(contacts []domain.Contact, criteria *domain.SegmentCriteria) []domain.Contact {
	if criteria == nil {
		return contacts
	}
	return segmentation.Filter(contacts, *criteria)
}

func (r *Resolver) byEmails(ctx context.Context, emails []string) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, chunk := range domain.Chunk(emails, domain.MaxInQueryValues) {
		found, err := r.contacts.ContactsByEmails(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("load contacts by email: %w", err)
		}
		out = append(out, found...)
	}
	return out, nil
}

func (r *Resolver) byIDs(ctx context.Context, ids []string) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, chunk := range domain.Chunk(ids, domain.MaxInQueryValues) {
		found, err := r.contacts.ContactsByIDs(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("load contacts by id: %w", err)
		}
		out = append(out, found...)
	}
	return out, nil
}

func (r *Resolver) criteriaContacts(ctx context.Context, criteria domain.SegmentCriteria) ([]domain.Contact, error) {
	all, err := r.contacts.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return segmentation.Filter(all, criteria), nil
}

// segmentContacts resolves each segment on its own and concatenates the
// results. A contact in two segments appears twice unless dedupe is on.
func (r *Resolver) segmentContacts(ctx context.Context, ids []string) ([]domain.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	all, err := r.contacts.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	var out []domain.Contact
	seen := make(map[string]struct{})
	for _, id := range ids {
		seg, err := r.segments.GetSegment(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("segment", id)
		}
		if err != nil {
			return nil, fmt.Errorf("load segment %s: %w", id, err)
		}
		for _, ct := range segmentation.Filter(all, seg.Criteria) {
			if r.dedupe {
				if _, dup := seen[ct.ID]; dup {
					continue
				}
				seen[ct.ID] = struct{}{}
			}
			out = append(out, ct)
		}
	}
	return out, nil
}
