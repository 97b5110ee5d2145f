// Package proxy implements the request pipeline described in spec.md
// §4.10: guard checks, smart-tier classification, target resolution, and
// same-format or cross-format forwarding to the resolved upstream, falling
// back to a legacy pass-through forward on any routing failure. Grounded on
// the original proxy.py's single `proxy` handler, generalized into staged
// methods the way the teacher splits a relay controller into per-concern
// helpers (relay/controller/*.go).
package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/llmrouter/llmrouter/internal/bridge"
	"github.com/llmrouter/llmrouter/internal/budget"
	"github.com/llmrouter/llmrouter/internal/classifier"
	"github.com/llmrouter/llmrouter/internal/config"
	"github.com/llmrouter/llmrouter/internal/guard"
	"github.com/llmrouter/llmrouter/internal/httputil"
	"github.com/llmrouter/llmrouter/internal/logger"
	"github.com/llmrouter/llmrouter/internal/metrics"
	"github.com/llmrouter/llmrouter/internal/quota"
	"github.com/llmrouter/llmrouter/internal/relaymodel"
	"github.com/llmrouter/llmrouter/internal/routerconfig"
	"github.com/llmrouter/llmrouter/internal/sseusage"
)

// Pipeline wires together every stage of the request pipeline. It is safe
// for concurrent use: classifier/router config are read-only after Load,
// quota and budget have their own internal synchronization.
type Pipeline struct {
	cfg    *config.Config
	router *routerconfig.Config // nil when the smart router isn't configured

	classifier  *classifier.Classifier
	hiddenGuard guard.Mode
	content     *guard.Client
	quota       *quota.Tracker
	budget      *budget.Manager

	httpClient *http.Client
}

// New builds a Pipeline from the loaded ambient config and (optional)
// structured router config.
func New(cfg *config.Config, router *routerconfig.Config, budgetMgr *budget.Manager, quotaTracker *quota.Tracker) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		router:     router,
		quota:      quotaTracker,
		budget:     budgetMgr,
		httpClient: newUpstreamClient(),
		content:    guard.NewClient(cfg.GuardURL, cfg.GuardThreshold, nil),
	}
	if cfg.GuardStripHiddenUnicode {
		p.hiddenGuard = guard.ModeStrip
	} else {
		p.hiddenGuard = guard.ModeBlock
	}

	if router != nil && router.Enabled {
		p.classifier = classifier.New(classifier.Config{
			Thresholds:      router.Classifier.Thresholds,
			HeuristicBypass: router.Classifier.HeuristicBypass,
			DefaultTier:     router.DefaultTier,
		}, router.TierOrder, nil)
	}

	return p
}

// Ready reports whether the smart router is configured and loaded.
func (p *Pipeline) Ready() bool {
	return p.router != nil && p.router.Enabled && p.classifier != nil
}

// Handle is the gin handler for "ANY /*path".
func (p *Pipeline) Handle(c *gin.Context) {
	start := time.Now()
	defer func() {
		metrics.GlobalRecorder.RecordHTTPRequest(start, c.Request.URL.Path, c.Request.Method, statusString(c))
	}()

	body, err := httputil.GetRequestBody(c)
	if err != nil {
		p.writeJSONError(c, http.StatusBadRequest, "invalid_request_body")
		return
	}
	if err := httputil.LogClientRequestPayload(c, httputil.DefaultLogBodyLimit); err != nil {
		logger.Logger.Warn("failed to log client request payload", zap.Error(err))
	}

	var parsed map[string]any
	parseable := false
	if c.Request.Method == http.MethodPost && len(bytes.TrimSpace(body)) > 0 {
		if jsonErr := json.Unmarshal(body, &parsed); jsonErr == nil {
			parseable = true
		}
	}

	if parseable {
		newBody, blocked := p.runGuards(c, parsed)
		if blocked {
			return
		}
		if newBody != nil {
			body = newBody
			_ = json.Unmarshal(body, &parsed)
		}
	}

	trackable := c.Request.Method == http.MethodPost &&
		(strings.HasSuffix(c.Request.URL.Path, "/v1/messages") || strings.HasSuffix(c.Request.URL.Path, "/v1/chat/completions"))

	if p.Ready() && trackable && parseable {
		if p.tryRoute(c, parsed, body) {
			return
		}
	}

	p.legacyForward(c, body)
}

// runGuards executes the hidden-Unicode and external content guard stages.
// It returns a possibly-rewritten body (non-nil only if strip-mode made
// changes) and whether the request was blocked (response already written).
func (p *Pipeline) runGuards(c *gin.Context, parsed map[string]any) (rewrittenBody []byte, blocked bool) {
	texts, systemIsString := extractGuardTexts(parsed, p.cfg.LLMAPIProvider)
	if len(texts) == 0 {
		return nil, false
	}

	result := guard.Check(texts, p.hiddenGuard)
	if result.Blocked {
		metrics.GlobalRecorder.RecordGuardBlock("hidden_unicode")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "hidden_unicode_detected",
			"hits":  result.Hits,
		})
		return nil, true
	}

	var newBody []byte
	if len(result.Stripped) == len(texts) {
		changed := false
		for i := range texts {
			if texts[i] != result.Stripped[i] {
				changed = true
				break
			}
		}
		if changed {
			rewriteGuardTexts(parsed, result.Stripped, systemIsString)
			body, err := json.Marshal(parsed)
			if err == nil {
				newBody = body
			}
			texts = result.Stripped
		}
	}

	if !p.cfg.GuardEnabled {
		return newBody, false
	}

	decision := p.content.Check(c.Request.Context(), texts)
	if decision.Blocked {
		metrics.GlobalRecorder.RecordGuardBlock("content_guard")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":  "content_blocked",
			"reason": decision.Reason,
		})
		return nil, true
	}

	return newBody, false
}

// tryRoute attempts smart-tier routing. It returns true if it fully handled
// the response (success or a terminal error response); false means the
// caller should fall through to the legacy forward path.
func (p *Pipeline) tryRoute(c *gin.Context, parsed map[string]any, body []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.Error("panic during smart routing, falling back to legacy forward", zap.Any("recover", r))
		}
	}()

	req := buildClassifierRequest(parsed)
	tier := p.classifier.Classify(c.Request.Context(), req)
	metrics.GlobalRecorder.RecordClassifierTier(tier)

	if p.budget != nil {
		if requestModel, _ := parsed["model"].(string); requestModel != "" {
			estimated := p.budget.EstimatePreflightCost(requestModel, lastUserText(req))
			logger.Logger.Debug("pre-flight cost estimate", zap.String("model", requestModel), zap.Float64("estimated_usd", estimated))
		}
	}

	if p.quota != nil && p.quota.ShouldMaxPush() {
		maxTier := routerconfig.MaxPushTier(p.router)
		metrics.GlobalRecorder.RecordMaxPush(maxTier)
		tier = maxTier
	} else if p.budget != nil && p.budget.IsOverBudget() {
		if p.budget.OverBudgetAction() == "reject" {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "budget_exceeded"})
			return true
		}
		tier = routerconfig.LowestTier(p.router)
	} else if p.budget != nil && p.budget.ShouldDowngrade() {
		downgraded := routerconfig.DowngradeTier(p.router, tier, p.budget.DowngradeSteps())
		if downgraded != tier {
			metrics.GlobalRecorder.RecordDowngrade(tier, downgraded)
		}
		tier = downgraded
	}

	provider, model, extraParams, ok := routerconfig.ResolveTarget(p.router, tier, nil)
	if !ok {
		return false
	}

	route := RouteMeta{Tier: tier, Model: model, Provider: provider.Name}
	clientFormat := clientFormatOf(c.Request.URL.Path)

	if provider.Type == clientFormat {
		p.forwardSameFormat(c, parsed, *provider, model, extraParams, route)
		return true
	}

	p.forwardCrossFormat(c, body, *provider, model, route)
	return true
}

// lastUserText returns the text of the last user message, for the
// pre-flight cost estimate (which only needs a representative prompt, not
// the full message history).
func lastUserText(req classifier.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Text
		}
	}
	return ""
}

func clientFormatOf(path string) string {
	if strings.HasSuffix(path, "/v1/chat/completions") {
		return "openai"
	}
	return "anthropic"
}

// forwardSameFormat clones the parsed body, swaps in the target model, and
// shallow-merges extra_params (one level deep when both sides hold maps),
// then forwards through the same endpoint shape the client used.
func (p *Pipeline) forwardSameFormat(c *gin.Context, parsed map[string]any, provider routerconfig.ProviderConfig, model string, extraParams map[string]any, route RouteMeta) {
	clone := make(map[string]any, len(parsed)+len(extraParams))
	for k, v := range parsed {
		clone[k] = v
	}
	clone["model"] = model
	mergeExtraParams(clone, extraParams)

	body, err := json.Marshal(clone)
	if err != nil {
		p.legacyForwardParsed(c, parsed)
		return
	}

	endpoint := "/v1/messages"
	if provider.Type == "openai" {
		endpoint = "/v1/chat/completions"
	}
	targetURL := strings.TrimRight(provider.BaseURL, "/") + endpoint

	requestModel, _ := parsed["model"].(string)
	p.forwardRequest(c, targetURL, provider, body, true, requestModel, route)
}

// mergeExtraParams shallow-merges extra, one level deep when both sides are
// maps (used for nested shapes like thinking.budget_tokens).
func mergeExtraParams(dst, extra map[string]any) {
	for k, v := range extra {
		if existing, ok := dst[k].(map[string]any); ok {
			if incoming, ok := v.(map[string]any); ok {
				merged := make(map[string]any, len(existing)+len(incoming))
				for ek, ev := range existing {
					merged[ek] = ev
				}
				for ek, ev := range incoming {
					merged[ek] = ev
				}
				dst[k] = merged
				continue
			}
		}
		dst[k] = v
	}
}

// forwardCrossFormat bridges an Anthropic client request to an OpenAI-typed
// provider, translating the non-streaming or streaming response back to
// Anthropic's wire shape.
func (p *Pipeline) forwardCrossFormat(c *gin.Context, body []byte, provider routerconfig.ProviderConfig, model string, route RouteMeta) {
	var anthropicReq relaymodel.AnthropicRequest
	if err := json.Unmarshal(body, &anthropicReq); err != nil {
		p.writeJSONError(c, http.StatusBadGateway, "upstream_connection_failed")
		return
	}
	requestModel := anthropicReq.Model
	stream := anthropicReq.Stream

	openaiReq := relaymodel.OpenAIChatRequest{
		Model:    model,
		Messages: bridge.AnthropicToOpenAIMessages(&anthropicReq),
		Stream:   stream,
	}
	outBody, err := json.Marshal(openaiReq)
	if err != nil {
		p.writeJSONError(c, http.StatusBadGateway, "upstream_connection_failed")
		return
	}

	targetURL := strings.TrimRight(provider.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, targetURL, bytes.NewReader(outBody))
	if err != nil {
		p.writeJSONError(c, http.StatusBadGateway, "upstream_connection_failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	injectCredentials(req, provider)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.Logger.Warn("cross-format upstream connection failed", zap.Error(err))
		p.writeJSONError(c, http.StatusBadGateway, "upstream_connection_failed")
		return
	}
	defer resp.Body.Close()

	if p.quota != nil {
		p.quota.Update(resp.Header)
	}

	c.Writer.Header().Set(headerRouterTier, route.Tier)
	c.Writer.Header().Set(headerRouterModel, route.Model)
	c.Writer.Header().Set(headerRouterProvider, route.Provider)

	if stream {
		p.bridgeStream(c, resp, requestModel, route)
		return
	}
	p.bridgeNonStream(c, resp, requestModel, route)
}

func (p *Pipeline) bridgeStream(c *gin.Context, resp *http.Response, requestModel string, route RouteMeta) {
	httputil.SetEventStreamHeaders(c)
	c.Writer.WriteHeader(resp.StatusCode)

	translator := bridge.NewStreamTranslator(c.Writer, requestModel)
	extractor := sseusage.New()

	scanBuf := make([]byte, 64*1024)
	var pending []byte
	for {
		n, readErr := resp.Body.Read(scanBuf)
		if n > 0 {
			pending = append(pending, scanBuf[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := pending[:idx]
				pending = pending[idx+1:]
				forwardSSELine(translator, extractor, line)
			}
		}
		if readErr != nil {
			break
		}
	}
	if len(pending) > 0 {
		forwardSSELine(translator, extractor, pending)
	}
	_ = translator.Finish()

	usage := extractor.Usage()
	p.recordUsage(usage.Model, requestModel, usage.InputTokens, usage.OutputTokens, route)
	if flusher, ok := c.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
}

func forwardSSELine(translator *bridge.StreamTranslator, extractor *sseusage.Extractor, line []byte) {
	_, _ = extractor.Write(line)
	_, _ = extractor.Write([]byte("\n"))

	trimmed := bytes.TrimSpace(line)
	data, ok := bytes.CutPrefix(trimmed, []byte("data: "))
	if !ok || bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
		return
	}
	var chunk relaymodel.OpenAIStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return
	}
	_ = translator.Forward(chunk)
}

func (p *Pipeline) bridgeNonStream(c *gin.Context, resp *http.Response, requestModel string, route RouteMeta) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.writeJSONError(c, http.StatusBadGateway, "upstream_connection_failed")
		return
	}

	if resp.StatusCode != http.StatusOK {
		c.Writer.WriteHeader(resp.StatusCode)
		_, _ = c.Writer.Write(body)
		return
	}

	var openaiResp relaymodel.OpenAIChatResponse
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		c.Writer.WriteHeader(http.StatusBadGateway)
		_, _ = c.Writer.Write([]byte(`{"error":"upstream_connection_failed"}`))
		return
	}

	anthropicResp := bridge.OpenAIResponseToAnthropic(&openaiResp, requestModel)
	out, err := json.Marshal(anthropicResp)
	if err != nil {
		c.Writer.WriteHeader(http.StatusBadGateway)
		return
	}

	c.Writer.Header().Set("Content-Type", "application/json")
	c.Writer.WriteHeader(http.StatusOK)
	_, _ = c.Writer.Write(out)

	p.recordUsage(openaiResp.Model, requestModel, openaiResp.Usage.PromptTokens, openaiResp.Usage.CompletionTokens, route)
}

// legacyForward sends the request unmodified to LLM_API_BASE with default
// credential injection, per spec.md §4.10 step 8.
func (p *Pipeline) legacyForward(c *gin.Context, body []byte) {
	targetURL := strings.TrimRight(p.cfg.LLMAPIBase, "/") + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		targetURL += "?" + c.Request.URL.RawQuery
	}

	trackable := c.Request.Method == http.MethodPost &&
		(strings.HasSuffix(c.Request.URL.Path, "/v1/messages") || strings.HasSuffix(c.Request.URL.Path, "/v1/chat/completions"))

	var requestModel string
	if trackable {
		var m struct {
			Model string `json:"model"`
		}
		_ = json.Unmarshal(body, &m)
		requestModel = m.Model
	}

	provider := routerconfig.ProviderConfig{Type: p.cfg.LLMAPIProvider, BaseURL: p.cfg.LLMAPIBase, APIKey: p.cfg.LLMAPIKey}
	p.forwardRequest(c, targetURL, provider, body, trackable, requestModel, RouteMeta{})
}

func (p *Pipeline) legacyForwardParsed(c *gin.Context, parsed map[string]any) {
	body, err := json.Marshal(parsed)
	if err != nil {
		p.writeJSONError(c, http.StatusBadRequest, "invalid_request_body")
		return
	}
	p.legacyForward(c, body)
}

func statusString(c *gin.Context) string {
	return strconv.Itoa(c.Writer.Status())
}
