package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_RecordForwardUpdatesCounterAndCost(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.RecordForward(time.Now(), "tier1", "anthropic", "claude-opus-4-6", true, 10, 20, 0.05)
	r.RecordForward(time.Now(), "tier1", "anthropic", "claude-opus-4-6", true, 10, 20, 0.05)

	require.Equal(t, float64(2), testutil.ToFloat64(r.forwardTotal.WithLabelValues("tier1", "anthropic", "claude-opus-4-6", "true")))
	require.InDelta(t, 0.10, testutil.ToFloat64(r.forwardCostUSD.WithLabelValues("tier1")), 1e-9)
}

func TestPrometheusRecorder_RecordDowngradeAndMaxPush(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.RecordDowngrade("tier1", "tier2")
	r.RecordMaxPush("tier1")

	require.Equal(t, float64(1), testutil.ToFloat64(r.downgrades.WithLabelValues("tier1", "tier2")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.maxPushes.WithLabelValues("tier1")))
}

func TestPrometheusRecorder_RecordGuardBlockAndError(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.RecordGuardBlock("hidden_unicode")
	r.RecordError("validation", "proxy")

	require.Equal(t, float64(1), testutil.ToFloat64(r.guardBlocks.WithLabelValues("hidden_unicode")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.errors.WithLabelValues("validation", "proxy")))
}

func TestMultiRecorder_FansOutToAllRecorders(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()
	a := NewPrometheusRecorder(regA)
	b := NewPrometheusRecorder(regB)
	multi := MultiRecorder{Recorders: []Recorder{a, b}}

	multi.RecordGuardBlock("content_guard")

	require.Equal(t, float64(1), testutil.ToFloat64(a.guardBlocks.WithLabelValues("content_guard")))
	require.Equal(t, float64(1), testutil.ToFloat64(b.guardBlocks.WithLabelValues("content_guard")))
}

func TestNoOpRecorder_NeverPanics(t *testing.T) {
	var r Recorder = NoOpRecorder{}
	r.RecordHTTPRequest(time.Now(), "/v1/messages", "POST", "200")
	r.RecordForward(time.Now(), "tier1", "anthropic", "m", true, 1, 1, 0.01)
	r.RecordClassifierTier("tier1")
	r.RecordDowngrade("tier1", "tier2")
	r.RecordMaxPush("tier1")
	r.RecordGuardBlock("content_guard")
	r.RecordError("x", "y")
}
