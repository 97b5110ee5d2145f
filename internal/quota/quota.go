// Package quota tracks the most recently observed upstream rate-limit
// snapshot and decides when the proxy should opportunistically "max push" to
// the top tier before an unused rate-limit window resets. Grounded on the
// original proxy's budget.py QuotaTracker/QuotaSnapshot, with exact
// semantics pinned by test_quota_tracker.py.
package quota

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Laisky/zap"

	"github.com/llmrouter/llmrouter/internal/logger"
)

// DefaultPushWithinMinutes is used when a Tracker is constructed without an
// explicit window.
const DefaultPushWithinMinutes = 15

// Snapshot is the last-seen upstream rate-limit state.
type Snapshot struct {
	TokensLimit       int
	TokensRemaining   int
	TokensReset       time.Time
	RequestsLimit     int
	RequestsRemaining int
	RequestsReset     time.Time
	UpdatedAt         time.Time
}

// Tracker holds at most one Snapshot, replaced wholesale on every update.
type Tracker struct {
	pushWithinMinutes int
	latest            atomic.Pointer[Snapshot]
}

// New builds a Tracker. pushWithinMinutes <= 0 uses DefaultPushWithinMinutes.
func New(pushWithinMinutes int) *Tracker {
	if pushWithinMinutes <= 0 {
		pushWithinMinutes = DefaultPushWithinMinutes
	}
	return &Tracker{pushWithinMinutes: pushWithinMinutes}
}

const (
	headerTokensLimit       = "anthropic-ratelimit-tokens-limit"
	headerTokensRemaining   = "anthropic-ratelimit-tokens-remaining"
	headerTokensReset       = "anthropic-ratelimit-tokens-reset"
	headerRequestsLimit     = "anthropic-ratelimit-requests-limit"
	headerRequestsRemaining = "anthropic-ratelimit-requests-remaining"
	headerRequestsReset     = "anthropic-ratelimit-requests-reset"
)

// Update replaces the tracked snapshot from a set of response headers. It is
// a no-op when the tokens-reset header is absent, and leaves the previous
// snapshot untouched when a reset timestamp fails to parse. A missing or
// non-numeric limit or remaining header is read as 0 and does not keep the
// previous snapshot.
func (t *Tracker) Update(headers http.Header) {
	rawTokensReset := headers.Get(headerTokensReset)
	if rawTokensReset == "" {
		return
	}

	tokensReset, err := parseRFC3339(rawTokensReset)
	if err != nil {
		logger.Logger.Warn("quota tracker: malformed tokens-reset timestamp",
			zap.String("value", rawTokensReset), zap.Error(err))
		return
	}

	requestsReset := tokensReset
	if raw := headers.Get(headerRequestsReset); raw != "" {
		parsed, err := parseRFC3339(raw)
		if err != nil {
			logger.Logger.Warn("quota tracker: malformed requests-reset timestamp",
				zap.String("value", raw), zap.Error(err))
			return
		}
		requestsReset = parsed
	}

	snap := &Snapshot{
		TokensLimit:       parseIntDefault(headers.Get(headerTokensLimit), 0),
		TokensRemaining:   parseIntDefault(headers.Get(headerTokensRemaining), 0),
		TokensReset:       tokensReset,
		RequestsLimit:     parseIntDefault(headers.Get(headerRequestsLimit), 0),
		RequestsRemaining: parseIntDefault(headers.Get(headerRequestsRemaining), 0),
		RequestsReset:     requestsReset,
		UpdatedAt:         time.Now().UTC(),
	}
	t.latest.Store(snap)
}

func parseRFC3339(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Parse(time.RFC3339, value)
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return n
}

// ShouldMaxPush reports whether the proxy should opportunistically upgrade
// to the top tier: a snapshot must exist, the tokens-reset window must be
// strictly in (0, pushWithinMinutes] minutes away, and tokens must remain.
func (t *Tracker) ShouldMaxPush() bool {
	snap := t.latest.Load()
	if snap == nil {
		return false
	}
	if snap.TokensRemaining <= 0 {
		return false
	}

	minutes := time.Until(snap.TokensReset).Minutes()
	return minutes > 0 && minutes <= float64(t.pushWithinMinutes)
}

// Status is the quota tracker's snapshot for /router/status.
type Status struct {
	Available         bool      `json:"available"`
	TokensLimit       int       `json:"tokens_limit,omitempty"`
	TokensRemaining   int       `json:"tokens_remaining,omitempty"`
	TokensReset       time.Time `json:"tokens_reset,omitzero"`
	RequestsLimit     int       `json:"requests_limit,omitempty"`
	RequestsRemaining int       `json:"requests_remaining,omitempty"`
	RequestsReset     time.Time `json:"requests_reset,omitzero"`
	UpdatedAt         time.Time `json:"updated_at,omitzero"`
	MinutesUntilReset float64   `json:"minutes_until_reset,omitempty"`
	ShouldMaxPush     bool      `json:"should_max_push"`
}

// Status returns {available:false} when no snapshot has been observed yet.
func (t *Tracker) Status() Status {
	snap := t.latest.Load()
	if snap == nil {
		return Status{Available: false}
	}

	minutes := time.Until(snap.TokensReset).Minutes()
	if minutes < 0 {
		minutes = 0
	}

	return Status{
		Available:         true,
		TokensLimit:       snap.TokensLimit,
		TokensRemaining:   snap.TokensRemaining,
		TokensReset:       snap.TokensReset,
		RequestsLimit:     snap.RequestsLimit,
		RequestsRemaining: snap.RequestsRemaining,
		RequestsReset:     snap.RequestsReset,
		UpdatedAt:         snap.UpdatedAt,
		MinutesUntilReset: minutes,
		ShouldMaxPush:     t.ShouldMaxPush(),
	}
}

// Latest exposes the raw snapshot for callers (e.g. metrics collectors) that
// need fields beyond what Status serializes. Returns nil if unset.
func (t *Tracker) Latest() *Snapshot {
	return t.latest.Load()
}
