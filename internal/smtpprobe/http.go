package smtpprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httpretry"
)

// HTTPProber asks an external probe service to check an address.
// The service takes {"email", "timeoutMs"} and answers {"valid", "reason"}.
type HTTPProber struct {
	client  httpretry.HTTPDoer
	url     string
	apiKey  string
	timeout time.Duration
}

// NewHTTPProber wraps client (usually a *httpretry.RetryClient).
func NewHTTPProber(client httpretry.HTTPDoer, url, apiKey string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{client: client, url: url, apiKey: apiKey, timeout: timeout}
}

type probeRequest struct {
	Email     string `json:"email"`
	TimeoutMs int64  `json:"timeoutMs"`
}

func (p *HTTPProber) Verify(ctx context.Context, email string) (domain.ProbeResult, error) {
	body, err := json.Marshal(probeRequest{Email: email, TimeoutMs: p.timeout.Milliseconds()})
	if err != nil {
		return domain.ProbeResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.ProbeResult{}, fmt.Errorf("probe service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out domain.ProbeResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ProbeResult{}, fmt.Errorf("decode probe response: %w", err)
	}
	return out, nil
}
