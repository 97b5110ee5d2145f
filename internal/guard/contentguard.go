package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Laisky/zap"

	"github.com/llmrouter/llmrouter/internal/logger"
	"github.com/llmrouter/llmrouter/internal/netutil"
)

// requestTimeout matches the original's check_guard 10-second deadline.
const requestTimeout = 10 * time.Second

// Decision is the external content guard's verdict for one request.
type Decision struct {
	Blocked bool
	Reason  string
}

// Client calls an external content-guard HTTP service. Any network or parse
// failure fails open (Decision{} — not blocked), matching the original's
// check_guard contract exactly.
type Client struct {
	URL        string
	Threshold  float64
	HTTPClient *http.Client
}

// NewClient builds a Client with a request-scoped timeout derived client.
// httpClient may be nil, in which case Check dials through a client whose
// transport refuses to connect to a private or local address (SSRF guard on
// the operator-configured GUARD_URL; see internal/netutil.NewGuardedHTTPClient).
func NewClient(url string, threshold float64, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = netutil.NewGuardedHTTPClient(requestTimeout)
	}
	return &Client{URL: url, Threshold: threshold, HTTPClient: httpClient}
}

type guardRequest struct {
	Messages []string `json:"messages"`
}

type guardResponse struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Check sends messages to the configured guard endpoint and returns its
// block decision. Disabled (empty URL) Clients always allow.
func (c *Client) Check(ctx context.Context, messages []string) Decision {
	if c.URL == "" {
		return Decision{}
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, err := json.Marshal(guardRequest{Messages: messages})
	if err != nil {
		logger.Logger.Error("content guard: failed to marshal request", zap.Error(err))
		return Decision{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		logger.Logger.Error("content guard: failed to build request", zap.Error(err))
		return Decision{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		logger.Logger.Warn("content guard: request failed, failing open", zap.Error(err))
		return Decision{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Logger.Warn("content guard: non-200 response, failing open", zap.Int("status", resp.StatusCode))
		return Decision{}
	}

	var result guardResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		logger.Logger.Warn("content guard: failed to decode response, failing open", zap.Error(err))
		return Decision{}
	}

	if result.Score >= c.Threshold {
		reason := result.Reason
		if reason == "" {
			reason = "Content blocked by guard"
		}
		return Decision{Blocked: true, Reason: reason}
	}

	return Decision{}
}
