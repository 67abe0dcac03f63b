package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/mailer"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/processes"
	"github.com/ignite/campaign-engine/internal/service/verification"
	"github.com/ignite/campaign-engine/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cret"

type acceptAll struct{}

func (acceptAll) Verify(context.Context, string) (domain.ProbeResult, error) {
	return domain.ProbeResult{Valid: true}, nil
}

type syncPool struct{}

func (syncPool) Submit(t worker.Task) error {
	t.Run(context.Background())
	return nil
}

type nopMail struct{}

func (nopMail) Send(context.Context, mailer.Message) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()

	verifier := verification.NewService(verification.Deps{
		Contacts: store,
		Jobs:     store,
		Prober:   acceptAll{},
		Pool:     syncPool{},
		Mail:     nopMail{},
	}, verification.Options{IncludeGeneric: true})
	sender := campaign.NewService(campaign.Deps{
		Contacts:  store,
		Segments:  store,
		Campaigns: store,
		Queue:     store,
		Locks:     distlock.NewFactory(nil, nil, 0),
		Mail:      nopMail{},
	}, campaign.Options{IncludeGeneric: true})
	procs := processes.NewService(store, store, store, nil, nil)

	router := NewRouter(RouterConfig{
		Handlers:   NewHandlers(sender, verifier, procs, "admin@example.com"),
		Health:     NewHealthChecker(nil, nil, nil, nil, 0),
		AdminToken: testToken,
	})
	return router, store
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "error")

	req = httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_BulkVerify(t *testing.T) {
	router, store := newTestRouter(t)
	emails := make([]string, 3)
	for i := range emails {
		emails[i] = fmt.Sprintf("u%d@example.com", i)
		store.PutContact(domain.Contact{ID: fmt.Sprintf("c%d", i), Email: emails[i], Status: domain.ContactVerified})
	}

	rec := do(t, router, http.MethodPut, "/api/verify-smtp", map[string]any{"emails": emails})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(3), body["total"])
	jobID, _ := body["jobId"].(string)
	require.NotEmpty(t, jobID)

	rec = do(t, router, http.MethodGet, "/api/verification-jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeBody(t, rec)
	assert.Equal(t, "completed", job["status"])
	assert.Equal(t, float64(100), job["progress"].(map[string]any)["percentage"])
}

func TestAPI_BulkVerifyRejects1001Emails(t *testing.T) {
	router, store := newTestRouter(t)
	emails := make([]string, 1001)
	for i := range emails {
		emails[i] = fmt.Sprintf("u%d@example.com", i)
	}

	rec := do(t, router, http.MethodPut, "/api/verify-smtp", map[string]any{"emails": emails})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "validation failed", body["error"])
	assert.NotEmpty(t, body["details"])

	jobs, err := store.ListJobs(context.Background(), repository.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestAPI_VerifySingle(t *testing.T) {
	router, store := newTestRouter(t)
	store.PutContact(domain.Contact{ID: "c1", Email: "ana@example.com", Status: domain.ContactPending})

	rec := do(t, router, http.MethodPost, "/api/verify-smtp", map[string]any{"email": "ana@example.com", "contactId": "c1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "verified", body["status"])

	rec = do(t, router, http.MethodPost, "/api/verify-smtp", map[string]any{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/verify-smtp", map[string]any{"email": "ana@example.com", "contactId": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_SendCampaign(t *testing.T) {
	router, store := newTestRouter(t)
	for i := 0; i < 7; i++ {
		store.PutContact(domain.Contact{ID: fmt.Sprintf("c%d", i), Email: fmt.Sprintf("u%d@example.com", i), Status: domain.ContactVerified})
	}
	store.PutCampaign(domain.Campaign{
		ID:         "spring",
		Status:     domain.CampaignDraft,
		Recipients: domain.Recipients{Type: domain.RecipientsCriteria, Criteria: &domain.SegmentCriteria{}},
		Content:    domain.Content{Subject: "Hi", FromEmail: "news@example.com", Text: "hello"},
	})

	rec := do(t, router, http.MethodPost, "/api/emails/send", map[string]any{"campaignId": "spring"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, float64(7), body["enqueued"])
	assert.Equal(t, float64(7), body["eligibleContacts"])
	assert.Len(t, store.QueueEntries("spring"), 4)

	rec = do(t, router, http.MethodPost, "/api/emails/send", map[string]any{"campaignId": "spring"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/emails/send", map[string]any{"campaignId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/emails/send", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Processes(t *testing.T) {
	router, store := newTestRouter(t)
	require.NoError(t, store.CreateJob(context.Background(), &domain.VerificationJob{ID: "j1", Total: 4, Status: domain.JobPending}))

	rec := do(t, router, http.MethodGet, "/api/processes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["jobs"], 1)
	assert.Contains(t, body, "queue")
	assert.Contains(t, body, "generatedAt")

	rec = do(t, router, http.MethodGet, "/api/processes?includeCompleted=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_NothingConfiguredIsHealthy(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestDetermineOverallStatus(t *testing.T) {
	assert.Equal(t, "unhealthy", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "down", Message: "ping failed: refused"},
	}))
	assert.Equal(t, "degraded", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "up"},
		"redis":    {Status: "down", Message: "ping failed: timeout"},
	}))
	assert.Equal(t, "healthy", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "up"},
		"s3":       {Status: "down", Message: "not configured"},
	}))
}

func TestStaticToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)

	assert.NoError(t, StaticToken(testToken).Authenticate(req))
	assert.Error(t, StaticToken("").Authenticate(req), "empty token locks the API")
	assert.Error(t, StaticToken("other").Authenticate(req))

	req.Header.Set("Authorization", testToken)
	assert.Error(t, StaticToken(testToken).Authenticate(req))
}
