package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/processes"
	"github.com/ignite/campaign-engine/internal/service/verification"
)

// CampaignSender is implemented by campaign.Service.
type CampaignSender interface {
	Send(ctx context.Context, req campaign.SendRequest) (*campaign.SendResult, error)
}

// Verifier is implemented by verification.Service.
type Verifier interface {
	StartBulkVerification(ctx context.Context, emails []string, adminEmail string) (*verification.BulkResult, error)
	CheckSingle(ctx context.Context, email, contactID string) (*verification.SingleResult, error)
	GetJob(ctx context.Context, id string) (*verification.JobView, error)
}

// Snapshotter is implemented by processes.Service.
type Snapshotter interface {
	Snapshot(ctx context.Context, includeCompleted bool) (*processes.Snapshot, error)
}

// Handlers serves the /api routes.
type Handlers struct {
	campaigns  CampaignSender
	verifier   Verifier
	processes  Snapshotter
	adminEmail string
	validator  *validator.Validate
}

// NewHandlers builds the handler set. adminEmail receives bulk job reports.
func NewHandlers(campaigns CampaignSender, verifier Verifier, procs Snapshotter, adminEmail string) *Handlers {
	return &Handlers{
		campaigns:  campaigns,
		verifier:   verifier,
		processes:  procs,
		adminEmail: adminEmail,
		validator:  validator.New(),
	}
}

type singleVerifyRequest struct {
	Email     string `json:"email" validate:"required,email"`
	ContactID string `json:"contactId"`
}

type bulkVerifyRequest struct {
	Emails []string `json:"emails" validate:"required,min=1,max=1000,dive,required"`
}

type sendRequest struct {
	CampaignID  string                  `json:"campaignId" validate:"required_without=TestEmail"`
	SegmentID   string                  `json:"segmentId"`
	Criteria    *domain.SegmentCriteria `json:"criteria"`
	TestEmail   string                  `json:"testEmail" validate:"omitempty,email"`
	TestContent *domain.Content         `json:"testContent" validate:"required_with=TestEmail"`
}

// HandleVerifySingle probes one address synchronously.
//
//	POST /api/verify-smtp
func (h *Handlers) HandleVerifySingle(w http.ResponseWriter, r *http.Request) {
	var req singleVerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.verifier.CheckSingle(r.Context(), req.Email, req.ContactID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, res)
}

// HandleVerifyBulk queues a bulk job and answers 202 with its id.
//
//	PUT /api/verify-smtp
func (h *Handlers) HandleVerifyBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkVerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.verifier.StartBulkVerification(r.Context(), req.Emails, h.adminEmail)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.Accepted(w, res)
}

// HandleGetJob returns one verification job with its progress estimate.
//
//	GET /api/verification-jobs/{id}
func (h *Handlers) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	view, err := h.verifier.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, view)
}

// HandleProcesses returns the background work snapshot.
//
//	GET /api/processes?includeCompleted=true
func (h *Handlers) HandleProcesses(w http.ResponseWriter, r *http.Request) {
	include := false
	if v := r.URL.Query().Get("includeCompleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "includeCompleted must be a boolean", map[string]string{"includeCompleted": v})
			return
		}
		include = b
	}
	snap, err := h.processes.Snapshot(r.Context(), include)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, snap)
}

// HandleSend schedules a campaign or sends a test message.
//
//	POST /api/emails/send
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.campaigns.Send(r.Context(), campaign.SendRequest{
		CampaignID:  req.CampaignID,
		SegmentID:   req.SegmentID,
		Criteria:    req.Criteria,
		TestEmail:   req.TestEmail,
		TestContent: req.TestContent,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.OK(w, res)
}

// decode parses and validates the JSON body, writing a 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !httputil.Decode(w, r, dst) {
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var details []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details = append(details, validationMessage(fe))
			}
		} else {
			details = append(details, err.Error())
		}
		httputil.BadRequest(w, "validation failed", details)
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_without":
		return fmt.Sprintf("%s is required unless %s is set", field, lowerFirst(fe.Param()))
	case "required_with":
		return fmt.Sprintf("%s is required with %s", field, lowerFirst(fe.Param()))
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s entries", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
