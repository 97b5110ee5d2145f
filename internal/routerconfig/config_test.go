package routerconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
enabled: true
default_tier: tier1
providers:
  anthropic:
    type: anthropic
    base_url: https://api.anthropic.com/
    api_key: ${TEST_ANTHROPIC_KEY}
  openai:
    type: openai
    base_url: https://api.openai.com
    api_key: sk-static-test-key
classifier:
  router: mf
  thresholds: [0.7, 0.3]
  heuristic_bypass: true
tiers:
  tier1:
    - provider: anthropic
      model: claude-opus-4-6
  tier2:
    - provider: anthropic
      model: claude-sonnet-4-5-20250929
  tier3:
    - provider: openai
      model: gpt-4o-mini
budgets:
  hourly:
    limit_usd: 5.0
    warn_at_pct: 80
    downgrade_at_pct: 90
  downgrade_steps: 1
  over_budget_action: allow
`

const legacyClassifierConfig = `
providers:
  openai:
    type: openai
    base_url: https://api.openai.com
    api_key: sk-test
classifier:
  tier1_threshold: 0.6
  tier3_threshold: 0.2
tiers:
  tier1:
    - provider: openai
      model: gpt-4o
  tier2:
    - provider: openai
      model: gpt-4o-mini
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "router-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileReturnsNilNil(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestLoad_ParsesProvidersTiersAndBudgets(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test-value")
	path := writeTempConfig(t, sampleConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	require.Equal(t, "sk-ant-test-value", cfg.Providers["anthropic"].APIKey)
	require.Equal(t, "https://api.anthropic.com", cfg.Providers["anthropic"].BaseURL)
	require.Equal(t, []string{"tier1", "tier2", "tier3"}, cfg.TierOrder)
	require.Equal(t, []float64{0.7, 0.3}, cfg.Classifier.Thresholds)
	require.NotNil(t, cfg.Budgets.Hourly)
	require.Equal(t, 5.0, cfg.Budgets.Hourly.LimitUSD)
}

func TestLoad_EmptyEnvVarInterpolatesToEmptyString(t *testing.T) {
	os.Unsetenv("TEST_ANTHROPIC_KEY")
	path := writeTempConfig(t, sampleConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "", cfg.Providers["anthropic"].APIKey)
}

const minimalBudgetConfig = `
providers:
  openai:
    type: openai
    base_url: https://api.openai.com
    api_key: sk-test
tiers:
  tier1:
    - provider: openai
      model: gpt-4o
budgets:
  hourly:
    limit_usd: 5.0
`

func TestLoad_BudgetWindowAndConfigDefaultWhenOmitted(t *testing.T) {
	path := writeTempConfig(t, minimalBudgetConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Budgets.Hourly)
	require.Equal(t, 80, cfg.Budgets.Hourly.WarnAtPct)
	require.Equal(t, 90, cfg.Budgets.Hourly.DowngradeAtPct)
	require.Equal(t, 1, cfg.Budgets.DowngradeSteps)
	require.Equal(t, "allow", cfg.Budgets.OverBudgetAction)
}

func TestLoad_LegacyClassifierThresholds(t *testing.T) {
	path := writeTempConfig(t, legacyClassifierConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []float64{0.6, 0.2}, cfg.Classifier.Thresholds)
}

func TestResolveTarget_SkipsExcludedAndKeylessProviders(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test-value")
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	provider, model, _, ok := ResolveTarget(cfg, "tier1", nil)
	require.True(t, ok)
	require.Equal(t, "anthropic", provider.Name)
	require.Equal(t, "claude-opus-4-6", model)

	_, _, _, ok = ResolveTarget(cfg, "tier1", map[string]bool{"anthropic": true})
	require.False(t, ok)
}

func TestDowngradeTier_ClampsAtLowest(t *testing.T) {
	cfg := &Config{TierOrder: []string{"tier1", "tier2", "tier3"}}
	require.Equal(t, "tier2", DowngradeTier(cfg, "tier1", 1))
	require.Equal(t, "tier3", DowngradeTier(cfg, "tier1", 5))
	require.Equal(t, "unknown", DowngradeTier(cfg, "unknown", 1))
}

func TestLowestTier_FallsBackToDefaultTierWhenNoTiersConfigured(t *testing.T) {
	cfg := &Config{DefaultTier: "tier1"}
	require.Equal(t, "tier1", LowestTier(cfg))
}

func TestMaxPushTier_FallsBackToHighestTier(t *testing.T) {
	cfg := &Config{TierOrder: []string{"tier1", "tier2"}}
	require.Equal(t, "tier1", MaxPushTier(cfg))

	cfg.Budgets.MaxPushTier = "tier2"
	require.Equal(t, "tier2", MaxPushTier(cfg))
}
