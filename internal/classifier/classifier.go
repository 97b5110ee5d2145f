// Package classifier assigns an inbound request to a routing tier using a
// cheap heuristic pre-filter backed by an optional external scorer. Grounded
// on the original proxy's classifier.py; the ML scoring path is narrowed to
// a single-method interface per spec.md §2, since no concrete scorer
// implementation is in scope.
package classifier

import (
	"context"

	"github.com/Laisky/zap"

	"github.com/llmrouter/llmrouter/internal/logger"
)

// Scorer returns a strong-model win-rate score in [0, 1] for prompt; higher
// means the request more plainly needs the strongest tier. Implementations
// are expected to fail open: any error falls back to the default tier.
type Scorer interface {
	Score(ctx context.Context, prompt string) (float64, error)
}

// HeuristicOnlyScorer is the zero-dependency default Scorer: it always
// errors, so classify_request's heuristic pre-filter and fail-open default
// are the only paths ever exercised unless a caller wires in a real scorer.
type HeuristicOnlyScorer struct{}

// Score always fails; see HeuristicOnlyScorer.
func (HeuristicOnlyScorer) Score(context.Context, string) (float64, error) {
	return 0, errNoScorer
}

var errNoScorer = scorerError("no scorer configured")

type scorerError string

func (e scorerError) Error() string { return string(e) }

// Config mirrors the original's ClassifierConfig: descending score
// thresholds paired one-to-one with tier_order[:-1].
type Config struct {
	Thresholds      []float64
	HeuristicBypass bool
	DefaultTier     string
}

// Classifier walks a request body through the heuristic pre-filter and,
// failing that, an external Scorer, to assign one of TierOrder's tiers.
type Classifier struct {
	cfg       Config
	tierOrder []string
	scorer    Scorer
}

// New builds a Classifier. tierOrder must be non-empty, highest tier first.
// scorer may be nil, in which case HeuristicOnlyScorer is used.
func New(cfg Config, tierOrder []string, scorer Scorer) *Classifier {
	if scorer == nil {
		scorer = HeuristicOnlyScorer{}
	}
	return &Classifier{cfg: cfg, tierOrder: tierOrder, scorer: scorer}
}

// Message is the minimal shape the classifier needs from a chat message; it
// tolerates both plain-string and content-block bodies.
type Message struct {
	Role    string
	Text    string
	IsBlock bool
}

// Request is the minimal shape the classifier needs from an inbound request
// body, extracted by the caller from the wire format (Anthropic or OpenAI).
type Request struct {
	Messages         []Message
	ToolCount        int
	ExtendedThinking bool
}

// Classify assigns a tier to req. It never errors: any internal failure
// (including a Scorer error) falls back to c.cfg.DefaultTier, or the lowest
// configured tier if DefaultTier is empty.
func (c *Classifier) Classify(ctx context.Context, req Request) string {
	defaultTier := c.cfg.DefaultTier
	if defaultTier == "" && len(c.tierOrder) > 0 {
		defaultTier = c.tierOrder[len(c.tierOrder)-1]
	}

	if len(c.tierOrder) == 0 {
		return defaultTier
	}

	if c.cfg.HeuristicBypass {
		if tier, ok := c.heuristicClassify(req); ok {
			logger.Logger.Debug("classifier: heuristic decision", zap.String("tier", tier))
			return tier
		}
	}

	prompt := lastUserMessageText(req.Messages)
	if prompt == "" {
		return defaultTier
	}

	score, err := c.scorer.Score(ctx, prompt)
	if err != nil {
		logger.Logger.Debug("classifier: scorer unavailable, using default tier",
			zap.Error(err), zap.String("default_tier", defaultTier))
		return defaultTier
	}

	tier := c.tierOrder[len(c.tierOrder)-1]
	for i, threshold := range c.cfg.Thresholds {
		if i >= len(c.tierOrder)-1 {
			break
		}
		if score > threshold {
			tier = c.tierOrder[i]
			break
		}
	}

	logger.Logger.Info("classifier: scored request", zap.Float64("score", score), zap.String("tier", tier))
	return tier
}

// heuristicClassify mirrors classifier.py's _heuristic_classify: it returns
// ok=false when no confident heuristic decision applies, deferring to the
// Scorer path.
func (c *Classifier) heuristicClassify(req Request) (tier string, ok bool) {
	highest := c.tierOrder[0]
	lowest := c.tierOrder[len(c.tierOrder)-1]

	msgCount := len(req.Messages)
	lastUserLen := len([]rune(lastUserMessageText(req.Messages)))

	if msgCount <= 3 && req.ToolCount == 0 && lastUserLen < 200 {
		return lowest, true
	}

	if msgCount > 20 || req.ToolCount > 5 {
		return highest, true
	}

	if req.ExtendedThinking {
		return highest, true
	}

	return "", false
}

// lastUserMessageText returns the text of the last message with role "user".
func lastUserMessageText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Text
		}
	}
	return ""
}

// Status is the classifier's snapshot for /router/status.
type Status struct {
	Initialized     bool      `json:"initialized"`
	Thresholds      []float64 `json:"thresholds"`
	TierOrder       []string  `json:"tier_order"`
	HeuristicBypass bool      `json:"heuristic_bypass"`
}

// Status reports the classifier's current configuration.
func (c *Classifier) Status() Status {
	_, isHeuristicOnly := c.scorer.(HeuristicOnlyScorer)
	return Status{
		Initialized:     !isHeuristicOnly,
		Thresholds:      c.cfg.Thresholds,
		TierOrder:       c.tierOrder,
		HeuristicBypass: c.cfg.HeuristicBypass,
	}
}
