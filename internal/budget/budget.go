// Package budget tracks a rolling-window log of recorded costs and signals
// when the proxy should warn, downgrade, or reject based on configured
// hourly/daily/monthly limits. Grounded on the original proxy's budget.py
// BudgetManager; the FIFO-log-under-a-mutex design matches the teacher's
// dominant concurrency idiom for shared in-memory counters.
package budget

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmrouter/llmrouter/internal/costtable"
)

// maxEntryAge is the hard cap on retained cost history regardless of
// configured window lengths.
const maxEntryAge = 31 * 24 * time.Hour

// Window describes one budget window's limit and alert thresholds.
type Window struct {
	LimitUSD        float64
	WarnAtPct       int
	DowngradeAtPct  int
}

// Config is the budget manager's static configuration. Any window left nil
// is simply not evaluated by the predicates below.
type Config struct {
	Hourly  *Window
	Daily   *Window
	Monthly *Window

	DowngradeSteps  int
	OverBudgetAction string // "allow" | "reject"

	MaxPushWithinMinutes int
	MaxPushTier          string
}

// Entry is one accounted request.
type Entry struct {
	Timestamp    time.Time
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Manager is the budget manager described in spec.md §4.2. It is safe for
// concurrent use.
type Manager struct {
	cfg   Config
	costs *costtable.Table

	mu      sync.Mutex
	entries []Entry

	spendGauge   *prometheus.GaugeVec
	entriesTotal prometheus.Counter
}

// New builds a Manager. costs may be nil to use the package default pricing
// table. registerer may be nil to skip Prometheus registration (e.g. tests).
func New(cfg Config, costs *costtable.Table, registerer prometheus.Registerer) *Manager {
	if costs == nil {
		costs = costtable.Default
	}

	m := &Manager{
		cfg:   cfg,
		costs: costs,
		spendGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llmrouter_budget_spend_usd",
			Help: "Current spend within each configured budget window.",
		}, []string{"window"}),
		entriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llmrouter_cost_entries_total",
			Help: "Total number of cost entries recorded.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(m.spendGauge, m.entriesTotal)
	}

	return m
}

// EstimatePreflightCost tokenizes prompt with tiktoken and prices it as pure
// input cost, before the request is sent upstream and before any real usage
// figures exist. Used only for observability (logged, not enforced): the
// over-budget/downgrade decisions still key off the rolling log from Record.
func (m *Manager) EstimatePreflightCost(model, prompt string) float64 {
	return m.costs.EstimateCost(model, prompt)
}

// Record computes the cost of a request and appends it to the rolling log,
// pruning anything older than the hard 31-day cap. It never fails.
func (m *Manager) Record(model string, inputTokens, outputTokens int) float64 {
	cost := m.costs.Cost(model, inputTokens, outputTokens)
	entry := Entry{
		Timestamp:    time.Now().UTC(),
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
	}

	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.prune(entry.Timestamp)
	m.mu.Unlock()

	m.entriesTotal.Inc()
	m.refreshGauges()
	return cost
}

// prune removes entries older than maxEntryAge relative to now. Caller must
// hold m.mu.
func (m *Manager) prune(now time.Time) {
	cutoff := now.Add(-maxEntryAge)
	i := 0
	for i < len(m.entries) && m.entries[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.entries = append([]Entry(nil), m.entries[i:]...)
	}
}

// windowSpend sums the cost of entries within dur of now.
func (m *Manager) windowSpend(dur time.Duration) float64 {
	cutoff := time.Now().UTC().Add(-dur)

	m.mu.Lock()
	defer m.mu.Unlock()

	var sum float64
	for _, e := range m.entries {
		if !e.Timestamp.Before(cutoff) {
			sum += e.CostUSD
		}
	}
	return sum
}

// HourlySpend returns total spend in the trailing hour.
func (m *Manager) HourlySpend() float64 { return m.windowSpend(time.Hour) }

// DailySpend returns total spend in the trailing 24 hours.
func (m *Manager) DailySpend() float64 { return m.windowSpend(24 * time.Hour) }

// MonthlySpend returns total spend in the trailing 30 days.
func (m *Manager) MonthlySpend() float64 { return m.windowSpend(30 * 24 * time.Hour) }

type windowCheck struct {
	window *Window
	spend  float64
}

func (m *Manager) checks() []windowCheck {
	return []windowCheck{
		{m.cfg.Hourly, m.HourlySpend()},
		{m.cfg.Daily, m.DailySpend()},
		{m.cfg.Monthly, m.MonthlySpend()},
	}
}

// IsWarning reports whether any configured window has crossed its warn-at
// threshold.
func (m *Manager) IsWarning() bool {
	for _, c := range m.checks() {
		if c.window == nil {
			continue
		}
		if c.spend >= c.window.LimitUSD*float64(c.window.WarnAtPct)/100 {
			return true
		}
	}
	return false
}

// ShouldDowngrade reports whether any configured window has crossed its
// downgrade-at threshold.
func (m *Manager) ShouldDowngrade() bool {
	for _, c := range m.checks() {
		if c.window == nil {
			continue
		}
		if c.spend >= c.window.LimitUSD*float64(c.window.DowngradeAtPct)/100 {
			return true
		}
	}
	return false
}

// IsOverBudget reports whether any configured window has reached its limit.
func (m *Manager) IsOverBudget() bool {
	for _, c := range m.checks() {
		if c.window == nil {
			continue
		}
		if c.spend >= c.window.LimitUSD {
			return true
		}
	}
	return false
}

// OverBudgetAction returns the configured policy ("allow" | "reject").
func (m *Manager) OverBudgetAction() string { return m.cfg.OverBudgetAction }

// DowngradeSteps returns the configured number of tiers to step down.
func (m *Manager) DowngradeSteps() int { return m.cfg.DowngradeSteps }

// MaxPushTier returns the configured max-push target tier, which may be empty.
func (m *Manager) MaxPushTier() string { return m.cfg.MaxPushTier }

// WindowStatus is a snapshot of a single budget window for /router/status.
type WindowStatus struct {
	SpendUSD float64 `json:"spend_usd"`
	LimitUSD float64 `json:"limit_usd"`
	Pct      float64 `json:"pct"`
}

// Status is the budget manager's snapshot for /router/status.
type Status struct {
	Hourly           *WindowStatus `json:"hourly,omitempty"`
	Daily            *WindowStatus `json:"daily,omitempty"`
	Monthly          *WindowStatus `json:"monthly,omitempty"`
	ShouldDowngrade  bool          `json:"should_downgrade"`
	IsWarning        bool          `json:"is_warning"`
	OverBudget       bool          `json:"over_budget"`
	OverBudgetAction string        `json:"over_budget_action"`
}

func windowStatus(w *Window, spend float64) *WindowStatus {
	if w == nil {
		return nil
	}
	pct := 0.0
	if w.LimitUSD > 0 {
		pct = round1(spend / w.LimitUSD * 100)
	}
	return &WindowStatus{
		SpendUSD: round4(spend),
		LimitUSD: w.LimitUSD,
		Pct:      pct,
	}
}

func round1(v float64) float64 { return float64(int(v*10+0.5)) / 10 }
func round4(v float64) float64 { return float64(int(v*10000+0.5)) / 10000 }

// Status returns the full budget snapshot for the status endpoint.
func (m *Manager) Status() Status {
	return Status{
		Hourly:           windowStatus(m.cfg.Hourly, m.HourlySpend()),
		Daily:            windowStatus(m.cfg.Daily, m.DailySpend()),
		Monthly:          windowStatus(m.cfg.Monthly, m.MonthlySpend()),
		ShouldDowngrade:  m.ShouldDowngrade(),
		IsWarning:        m.IsWarning(),
		OverBudget:       m.IsOverBudget(),
		OverBudgetAction: m.cfg.OverBudgetAction,
	}
}

func (m *Manager) refreshGauges() {
	m.spendGauge.WithLabelValues("hourly").Set(m.HourlySpend())
	m.spendGauge.WithLabelValues("daily").Set(m.DailySpend())
	m.spendGauge.WithLabelValues("monthly").Set(m.MonthlySpend())
}
