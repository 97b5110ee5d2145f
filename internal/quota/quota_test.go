package quota

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func headersAt(tokensReset time.Time, tokensRemaining int) http.Header {
	h := http.Header{}
	h.Set("anthropic-ratelimit-tokens-limit", "100000")
	h.Set("anthropic-ratelimit-tokens-remaining", strconv.Itoa(tokensRemaining))
	h.Set("anthropic-ratelimit-tokens-reset", tokensReset.UTC().Format(time.RFC3339))
	h.Set("anthropic-ratelimit-requests-limit", "1000")
	h.Set("anthropic-ratelimit-requests-remaining", "999")
	return h
}

func TestUpdate_NoTokensResetHeaderIsNoOp(t *testing.T) {
	tr := New(15)
	h := http.Header{}
	h.Set("anthropic-ratelimit-tokens-remaining", "500")
	tr.Update(h)
	require.Nil(t, tr.Latest())
}

func TestUpdate_RequestsResetDefaultsToTokensReset(t *testing.T) {
	tr := New(15)
	reset := time.Now().Add(10 * time.Minute)
	h := headersAt(reset, 500)
	h.Del("anthropic-ratelimit-requests-reset")
	tr.Update(h)

	snap := tr.Latest()
	require.NotNil(t, snap)
	require.WithinDuration(t, snap.TokensReset, snap.RequestsReset, time.Second)
}

func TestUpdate_MalformedTimestampLeavesPreviousSnapshotIntact(t *testing.T) {
	tr := New(15)
	reset := time.Now().Add(10 * time.Minute)
	tr.Update(headersAt(reset, 500))
	first := tr.Latest()
	require.NotNil(t, first)

	bad := http.Header{}
	bad.Set("anthropic-ratelimit-tokens-reset", "not-a-timestamp")
	tr.Update(bad)

	second := tr.Latest()
	require.Equal(t, first.TokensReset, second.TokensReset)
	require.Equal(t, first.TokensRemaining, second.TokensRemaining)
}

func TestUpdate_ParsesFractionalSecondsAndOffsets(t *testing.T) {
	tr := New(15)
	h := http.Header{}
	h.Set("anthropic-ratelimit-tokens-reset", "2026-07-30T12:00:00.123456Z")
	h.Set("anthropic-ratelimit-tokens-remaining", "42")
	tr.Update(h)
	snap := tr.Latest()
	require.NotNil(t, snap)
	require.Equal(t, 2026, snap.TokensReset.Year())

	tr2 := New(15)
	h2 := http.Header{}
	h2.Set("anthropic-ratelimit-tokens-reset", "2026-07-30T12:00:00+02:00")
	tr2.Update(h2)
	require.NotNil(t, tr2.Latest())
}

func TestShouldMaxPush_WithinWindowAndTokensRemaining(t *testing.T) {
	tr := New(15)
	tr.Update(headersAt(time.Now().Add(10*time.Minute), 500))
	require.True(t, tr.ShouldMaxPush())
}

func TestShouldMaxPush_BoundaryJustInsideWindow(t *testing.T) {
	tr := New(15)
	tr.Update(headersAt(time.Now().Add(14*time.Minute+54*time.Second), 500))
	require.True(t, tr.ShouldMaxPush())
}

func TestShouldMaxPush_BoundaryJustOutsideWindow(t *testing.T) {
	tr := New(15)
	tr.Update(headersAt(time.Now().Add(15*time.Minute+10*time.Second), 500))
	require.False(t, tr.ShouldMaxPush())
}

func TestShouldMaxPush_ZeroRemainingDespiteImminentReset(t *testing.T) {
	tr := New(15)
	tr.Update(headersAt(time.Now().Add(1*time.Minute), 0))
	require.False(t, tr.ShouldMaxPush())
}

func TestShouldMaxPush_ResetAlreadyPassed(t *testing.T) {
	tr := New(15)
	tr.Update(headersAt(time.Now().Add(-1*time.Minute), 500))
	require.False(t, tr.ShouldMaxPush())
}

func TestShouldMaxPush_NoSnapshotYet(t *testing.T) {
	tr := New(15)
	require.False(t, tr.ShouldMaxPush())
}

func TestStatus_UnavailableWhenNoSnapshot(t *testing.T) {
	tr := New(15)
	status := tr.Status()
	require.False(t, status.Available)
}

func TestStatus_ReflectsSnapshotAndClampsMinutes(t *testing.T) {
	tr := New(15)
	tr.Update(headersAt(time.Now().Add(-5*time.Minute), 500))
	status := tr.Status()
	require.True(t, status.Available)
	require.Equal(t, 0.0, status.MinutesUntilReset)
}

func TestUpdate_ExtraUnrelatedHeadersDoNotInterfere(t *testing.T) {
	tr := New(15)
	h := headersAt(time.Now().Add(10*time.Minute), 500)
	h.Set("x-request-id", "abc-123")
	h.Set("content-type", "application/json")
	tr.Update(h)
	require.True(t, tr.ShouldMaxPush())
}

func TestUpdate_CaseInsensitiveHeaderLookup(t *testing.T) {
	tr := New(15)
	h := http.Header{}
	// http.Header canonicalizes on Set/Get regardless of the case supplied.
	h.Set("Anthropic-Ratelimit-Tokens-Reset", time.Now().Add(10*time.Minute).UTC().Format(time.RFC3339))
	h.Set("Anthropic-Ratelimit-Tokens-Remaining", "77")
	tr.Update(h)
	snap := tr.Latest()
	require.NotNil(t, snap)
	require.Equal(t, 77, snap.TokensRemaining)
}

func TestUpdate_NonAnthropicHeadersIgnored(t *testing.T) {
	tr := New(15)
	h := http.Header{}
	h.Set("x-ratelimit-remaining-tokens", "100")
	h.Set("x-ratelimit-reset-tokens", "60s")
	tr.Update(h)
	require.Nil(t, tr.Latest())
}

func TestUpdate_RealisticTier2Scenario(t *testing.T) {
	tr := New(15)
	h := http.Header{}
	h.Set("anthropic-ratelimit-tokens-limit", "40000")
	h.Set("anthropic-ratelimit-tokens-remaining", "38210")
	h.Set("anthropic-ratelimit-tokens-reset", time.Now().Add(47*time.Second).UTC().Format(time.RFC3339Nano))
	h.Set("anthropic-ratelimit-requests-limit", "50")
	h.Set("anthropic-ratelimit-requests-remaining", "49")
	h.Set("anthropic-ratelimit-requests-reset", time.Now().Add(47*time.Second).UTC().Format(time.RFC3339Nano))
	tr.Update(h)

	snap := tr.Latest()
	require.NotNil(t, snap)
	require.Equal(t, 40000, snap.TokensLimit)
	require.Equal(t, 38210, snap.TokensRemaining)
	require.True(t, tr.ShouldMaxPush())
}
