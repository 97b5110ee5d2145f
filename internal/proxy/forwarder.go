package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/llmrouter/llmrouter/internal/httputil"
	"github.com/llmrouter/llmrouter/internal/logger"
	"github.com/llmrouter/llmrouter/internal/metrics"
	"github.com/llmrouter/llmrouter/internal/routerconfig"
	"github.com/llmrouter/llmrouter/internal/sseusage"
)

const (
	upstreamConnectTimeout = 10 * time.Second
	upstreamOverallTimeout = 300 * time.Second

	anthropicVersion  = "2023-06-01"
	anthropicOAuthBeta = "oauth-2025-04-20, claude-code-20250219"
	oauthTokenPrefix   = "sk-ant-oat"

	headerRouterTier     = "x-llm-router-tier"
	headerRouterModel    = "x-llm-router-model"
	headerRouterProvider = "x-llm-router-provider"
)

var hopByHopRequestHeaders = []string{"host", "content-length", "authorization", "x-api-key"}
var hopByHopResponseHeaders = []string{"transfer-encoding", "connection", "keep-alive"}

// newUpstreamClient builds the shared HTTP client used for every upstream
// forward, with the connect/overall deadlines from spec.md's timeout table.
func newUpstreamClient() *http.Client {
	dialer := &net.Dialer{Timeout: upstreamConnectTimeout}
	return &http.Client{
		Timeout: upstreamOverallTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: upstreamConnectTimeout,
		},
	}
}

// RouteMeta carries the routing decision forwardRequest attaches to the
// response as x-llm-router-* headers. Provider/Model/Tier are empty for the
// legacy (non-smart-routed) forward path, which emits no routing headers.
type RouteMeta struct {
	Tier     string
	Model    string
	Provider string
}

// forwardRequest sends body to targetURL with the given provider's
// credentials injected, updates the quota tracker from the response
// headers, and streams or buffers the response back to c depending on
// whether the request is trackable and the response is SSE.
//
// requestModel is the model the client asked for, used as the cost
// fallback when a response doesn't echo its own model.
func (p *Pipeline) forwardRequest(
	c *gin.Context,
	targetURL string,
	provider routerconfig.ProviderConfig,
	body []byte,
	trackable bool,
	requestModel string,
	route RouteMeta,
) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), upstreamOverallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		p.writeJSONError(c, http.StatusBadGateway, "upstream_connection_failed")
		return
	}

	for k, vv := range c.Request.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	for _, h := range hopByHopRequestHeaders {
		req.Header.Del(h)
	}
	req.ContentLength = int64(len(body))

	injectCredentials(req, provider)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.Logger.Warn("upstream connection failed", zap.Error(err), zap.String("url", targetURL))
		metrics.GlobalRecorder.RecordError("upstream_connection_failed", "forwarder")
		p.writeJSONError(c, http.StatusBadGateway, "upstream_connection_failed")
		return
	}
	defer resp.Body.Close()

	if p.quota != nil {
		p.quota.Update(resp.Header)
	}

	for k, vv := range resp.Header {
		lower := strings.ToLower(k)
		if containsFold(hopByHopResponseHeaders, lower) {
			continue
		}
		for _, v := range vv {
			c.Writer.Header().Add(k, v)
		}
	}
	if route.Tier != "" {
		c.Writer.Header().Set(headerRouterTier, route.Tier)
		c.Writer.Header().Set(headerRouterModel, route.Model)
		c.Writer.Header().Set(headerRouterProvider, route.Provider)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case trackable && strings.Contains(contentType, "text/event-stream"):
		p.streamSSE(c, resp, requestModel, route)
	case trackable:
		p.bufferAndRecord(c, resp, requestModel, route)
	default:
		c.Writer.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(c.Writer, resp.Body)
	}
}

func (p *Pipeline) streamSSE(c *gin.Context, resp *http.Response, requestModel string, route RouteMeta) {
	httputil.SetEventStreamHeaders(c)
	c.Writer.WriteHeader(resp.StatusCode)

	extractor := sseusage.New()
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			_, _ = extractor.Write(buf[:n])
			_, _ = c.Writer.Write(buf[:n])
			if flusher, ok := c.Writer.(http.Flusher); ok {
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}
	extractor.Finalize()

	usage := extractor.Usage()
	p.recordUsage(usage.Model, requestModel, usage.InputTokens, usage.OutputTokens, route)
}

func (p *Pipeline) bufferAndRecord(c *gin.Context, resp *http.Response, requestModel string, route RouteMeta) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.writeJSONError(c, http.StatusBadGateway, "upstream_connection_failed")
		return
	}

	c.Writer.WriteHeader(resp.StatusCode)
	_, _ = c.Writer.Write(body)

	if resp.StatusCode != http.StatusOK {
		return
	}

	var parsed struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens      *int `json:"input_tokens"`
			OutputTokens     *int `json:"output_tokens"`
			PromptTokens     *int `json:"prompt_tokens"`
			CompletionTokens *int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return
	}

	input := intOrZero(parsed.Usage.InputTokens, parsed.Usage.PromptTokens)
	output := intOrZero(parsed.Usage.OutputTokens, parsed.Usage.CompletionTokens)
	p.recordUsage(parsed.Model, requestModel, input, output, route)
}

func (p *Pipeline) recordUsage(responseModel, requestModel string, input, output int, route RouteMeta) {
	if input == 0 && output == 0 {
		return
	}
	model := responseModel
	if model == "" {
		model = requestModel
	}
	cost := p.budget.Record(model, input, output)
	metrics.GlobalRecorder.RecordForward(time.Now(), route.Tier, route.Provider, model, true, input, output, cost)
}

func intOrZero(primary, fallback *int) int {
	if primary != nil {
		return *primary
	}
	if fallback != nil {
		return *fallback
	}
	return 0
}

func containsFold(list []string, needle string) bool {
	for _, item := range list {
		if item == needle {
			return true
		}
	}
	return false
}

// injectCredentials sets authentication headers per spec.md §4.10: OpenAI
// providers get a Bearer token; Anthropic OAuth tokens (sk-ant-oat...) get
// a Bearer token plus the required beta flags and identity headers;
// ordinary Anthropic keys get x-api-key.
func injectCredentials(req *http.Request, provider routerconfig.ProviderConfig) {
	switch provider.Type {
	case "openai":
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	default:
		if strings.HasPrefix(provider.APIKey, oauthTokenPrefix) {
			req.Header.Set("Authorization", "Bearer "+provider.APIKey)
			req.Header.Set("anthropic-version", anthropicVersion)
			req.Header.Set("anthropic-beta", mergeBetaFlags(req.Header.Get("anthropic-beta")))
			req.Header.Set("user-agent", "llmrouter/1.0")
			req.Header.Set("x-app", "llmrouter")
			return
		}
		req.Header.Set("x-api-key", provider.APIKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	}
}

func mergeBetaFlags(existing string) string {
	required := strings.Split(anthropicOAuthBeta, ", ")
	seen := map[string]bool{}
	var flags []string
	for _, part := range strings.Split(existing, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		flags = append(flags, part)
	}
	for _, r := range required {
		if !seen[r] {
			seen[r] = true
			flags = append(flags, r)
		}
	}
	return strings.Join(flags, ", ")
}

func (p *Pipeline) writeJSONError(c *gin.Context, status int, errCode string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errCode})
}
