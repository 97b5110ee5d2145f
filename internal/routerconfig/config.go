// Package routerconfig loads the smart router's YAML configuration:
// providers, per-tier model lists, classifier thresholds, and budget
// windows. Grounded on the original proxy's router_config.py, including its
// ${ENV_VAR} interpolation and legacy two-threshold classifier shape.
package routerconfig

import (
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/llmrouter/llmrouter/internal/logger"
)

// DefaultConfigPath is used when ROUTER_CONFIG_PATH is unset.
const DefaultConfigPath = "/app/router-config.yaml"

// ProviderConfig describes one upstream LLM provider.
type ProviderConfig struct {
	Name    string `yaml:"-"`
	Type    string `yaml:"type" validate:"required,oneof=anthropic openai"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// TierModel is one candidate (provider, model) pair within a tier, tried in
// list order until one has a usable API key.
type TierModel struct {
	Provider    string         `yaml:"provider" validate:"required"`
	Model       string         `yaml:"model" validate:"required"`
	ExtraParams map[string]any `yaml:"extra_params"`
}

// ClassifierConfig configures the request classifier. Thresholds is
// descending; len(Thresholds) should equal len(tier_order)-1.
type ClassifierConfig struct {
	Router          string    `yaml:"router"`
	Thresholds      []float64 `yaml:"-"`
	HeuristicBypass bool      `yaml:"heuristic_bypass"`
}

// classifierRaw mirrors the YAML document shape, including the legacy
// two-threshold fields kept for config-file backward compatibility.
type classifierRaw struct {
	Router          string    `yaml:"router"`
	Thresholds      []float64 `yaml:"thresholds"`
	Tier1Threshold  *float64  `yaml:"tier1_threshold"`
	Tier3Threshold  *float64  `yaml:"tier3_threshold"`
	HeuristicBypass *bool     `yaml:"heuristic_bypass"`
}

// UnmarshalYAML supports both the current `thresholds` list and the legacy
// `tier1_threshold`/`tier3_threshold` pair.
func (c *ClassifierConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := classifierRaw{Router: "mf"}
	heuristic := true
	raw.HeuristicBypass = &heuristic
	if err := value.Decode(&raw); err != nil {
		return errors.Wrap(err, "decode classifier config")
	}

	c.Router = raw.Router
	if c.Router == "" {
		c.Router = "mf"
	}
	c.HeuristicBypass = raw.HeuristicBypass == nil || *raw.HeuristicBypass

	if len(raw.Thresholds) > 0 {
		c.Thresholds = raw.Thresholds
		return nil
	}

	t1, t3 := 0.7, 0.3
	if raw.Tier1Threshold != nil {
		t1 = *raw.Tier1Threshold
	}
	if raw.Tier3Threshold != nil {
		t3 = *raw.Tier3Threshold
	}
	c.Thresholds = []float64{t1, t3}
	return nil
}

// BudgetWindow is one budget period's limit and alert thresholds.
type BudgetWindow struct {
	LimitUSD       float64 `yaml:"limit_usd" validate:"gt=0"`
	WarnAtPct      int     `yaml:"warn_at_pct"`
	DowngradeAtPct int     `yaml:"downgrade_at_pct"`
}

// defaultWarnAtPct and defaultDowngradeAtPct mirror the original
// router_config.py BudgetWindow dataclass's field defaults, applied when the
// YAML document omits them.
const (
	defaultWarnAtPct      = 80
	defaultDowngradeAtPct = 90
)

// budgetWindowRaw mirrors BudgetWindow's YAML shape with pointer fields so
// UnmarshalYAML can tell "omitted" apart from "explicitly zero".
type budgetWindowRaw struct {
	LimitUSD       float64 `yaml:"limit_usd"`
	WarnAtPct      *int    `yaml:"warn_at_pct"`
	DowngradeAtPct *int    `yaml:"downgrade_at_pct"`
}

// UnmarshalYAML defaults WarnAtPct to 80 and DowngradeAtPct to 90 when the
// document omits them, matching the original's BudgetWindow dataclass
// defaults.
func (w *BudgetWindow) UnmarshalYAML(value *yaml.Node) error {
	var raw budgetWindowRaw
	if err := value.Decode(&raw); err != nil {
		return errors.Wrap(err, "decode budget window")
	}

	w.LimitUSD = raw.LimitUSD
	w.WarnAtPct = defaultWarnAtPct
	if raw.WarnAtPct != nil {
		w.WarnAtPct = *raw.WarnAtPct
	}
	w.DowngradeAtPct = defaultDowngradeAtPct
	if raw.DowngradeAtPct != nil {
		w.DowngradeAtPct = *raw.DowngradeAtPct
	}
	return nil
}

// BudgetConfig configures the budget manager's windows and overflow policy.
type BudgetConfig struct {
	Hourly  *BudgetWindow `yaml:"hourly"`
	Daily   *BudgetWindow `yaml:"daily"`
	Monthly *BudgetWindow `yaml:"monthly"`

	DowngradeSteps   int    `yaml:"downgrade_steps"`
	OverBudgetAction string `yaml:"over_budget_action" validate:"omitempty,oneof=allow reject"`

	// MaxPushWithinMinutes and MaxPushTier resolve the "max push tier"
	// ambiguity: both are first-class fields here rather than inferred.
	MaxPushWithinMinutes int    `yaml:"max_push_within_minutes"`
	MaxPushTier          string `yaml:"max_push_tier"`
}

// budgetConfigRaw mirrors BudgetConfig's YAML shape so the two values that
// default per the original's BudgetConfig dataclass can be told apart when
// absent: DowngradeSteps is a pointer, and OverBudgetAction is defaulted
// when it is the empty string.
type budgetConfigRaw struct {
	Hourly  *BudgetWindow `yaml:"hourly"`
	Daily   *BudgetWindow `yaml:"daily"`
	Monthly *BudgetWindow `yaml:"monthly"`

	DowngradeSteps   *int    `yaml:"downgrade_steps"`
	OverBudgetAction string  `yaml:"over_budget_action"`

	MaxPushWithinMinutes int    `yaml:"max_push_within_minutes"`
	MaxPushTier          string `yaml:"max_push_tier"`
}

// UnmarshalYAML defaults DowngradeSteps to 1 and OverBudgetAction to "allow"
// when the document omits them, matching the original's BudgetConfig
// dataclass defaults (downgrade_steps=1, over_budget_action="allow").
func (b *BudgetConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw budgetConfigRaw
	if err := value.Decode(&raw); err != nil {
		return errors.Wrap(err, "decode budget config")
	}

	b.Hourly = raw.Hourly
	b.Daily = raw.Daily
	b.Monthly = raw.Monthly
	b.MaxPushWithinMinutes = raw.MaxPushWithinMinutes
	b.MaxPushTier = raw.MaxPushTier

	b.DowngradeSteps = 1
	if raw.DowngradeSteps != nil {
		b.DowngradeSteps = *raw.DowngradeSteps
	}

	b.OverBudgetAction = raw.OverBudgetAction
	if b.OverBudgetAction == "" {
		b.OverBudgetAction = "allow"
	}
	return nil
}

// Config is the fully parsed router configuration.
type Config struct {
	Enabled     bool                    `yaml:"enabled"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Classifier  ClassifierConfig        `yaml:"classifier"`
	Tiers       map[string][]TierModel  `yaml:"tiers"`
	TierOrder   []string                `yaml:"-"`
	Budgets     BudgetConfig            `yaml:"budgets"`
	DefaultTier string                  `yaml:"default_tier"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolateEnv replaces ${VAR} placeholders with environment variable
// values, logging a warning for any variable that is unset or empty.
func interpolateEnv(value string) string {
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		val := os.Getenv(name)
		if val == "" {
			logger.Logger.Warn("router config: environment variable is not set", zap.String("var", name))
		}
		return val
	})
}

// interpolateNode walks a YAML node tree in place, interpolating every
// string scalar. Mirrors the original's _interpolate_recursive over
// dicts/lists/strings.
func interpolateNode(node *yaml.Node) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!str" {
		node.Value = interpolateEnv(node.Value)
		return
	}
	for _, child := range node.Content {
		interpolateNode(child)
	}
}

// tierOrderFromNode walks the document node to recover the YAML-source
// insertion order of the `tiers` mapping's keys, which a Go map cannot
// preserve on its own.
func tierOrderFromNode(doc *yaml.Node) []string {
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if key.Value != "tiers" {
			continue
		}
		tiersNode := root.Content[i+1]
		if tiersNode.Kind != yaml.MappingNode {
			return nil
		}
		order := make([]string, 0, len(tiersNode.Content)/2)
		for j := 0; j+1 < len(tiersNode.Content); j += 2 {
			order = append(order, tiersNode.Content[j].Value)
		}
		return order
	}
	return nil
}

var validate = validator.New()

// Load reads and parses a router configuration file. A missing file is not
// an error: it returns (nil, nil) so the caller can fall back to legacy
// (non-smart-routing) mode, matching the original's load_config contract.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ROUTER_CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Logger.Info("router config not found, smart routing disabled", zap.String("path", path))
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read router config %s", path)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse router config %s", path)
	}
	interpolateNode(&doc)

	cfg := &Config{
		Enabled:     true,
		DefaultTier: "tier1",
		Budgets:     BudgetConfig{DowngradeSteps: 1, OverBudgetAction: "allow"},
	}
	if err := doc.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "decode router config %s", path)
	}

	for name, provider := range cfg.Providers {
		provider.Name = name
		if provider.Type == "" {
			provider.Type = "openai"
		}
		provider.BaseURL = strings.TrimRight(provider.BaseURL, "/")
		cfg.Providers[name] = provider
	}

	cfg.TierOrder = tierOrderFromNode(&doc)
	if cfg.TierOrder == nil {
		cfg.TierOrder = make([]string, 0, len(cfg.Tiers))
		for name := range cfg.Tiers {
			cfg.TierOrder = append(cfg.TierOrder, name)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validate router config")
	}

	validateSemantics(cfg)

	logger.Logger.Info("router config loaded",
		zap.Int("providers", len(cfg.Providers)),
		zap.Int("tiers", len(cfg.TierOrder)),
		zap.String("classifier_router", cfg.Classifier.Router))

	return cfg, nil
}

// validateSemantics logs (but does not fail on) the original's non-fatal
// consistency warnings: threshold-count mismatch and unknown provider
// references from tier entries.
func validateSemantics(cfg *Config) {
	expected := len(cfg.TierOrder) - 1
	if expected < 0 {
		expected = 0
	}
	if len(cfg.Classifier.Thresholds) != expected {
		logger.Logger.Warn("router config: threshold count does not match tier count",
			zap.Int("thresholds", len(cfg.Classifier.Thresholds)),
			zap.Int("tiers", len(cfg.TierOrder)),
			zap.Int("expected_thresholds", expected))
	}

	for tierName, models := range cfg.Tiers {
		for _, m := range models {
			if _, ok := cfg.Providers[m.Provider]; !ok {
				logger.Logger.Warn("router config: tier references unknown provider",
					zap.String("tier", tierName), zap.String("provider", m.Provider))
			}
		}
	}
}

// ResolveTarget picks the first tier model whose provider is not excluded
// and has a non-empty API key. exclude may be nil.
func ResolveTarget(cfg *Config, tier string, exclude map[string]bool) (*ProviderConfig, string, map[string]any, bool) {
	for _, tm := range cfg.Tiers[tier] {
		if exclude[tm.Provider] {
			continue
		}
		provider, ok := cfg.Providers[tm.Provider]
		if !ok || provider.APIKey == "" {
			continue
		}
		return &provider, tm.Model, tm.ExtraParams, true
	}
	return nil, "", nil, false
}

// DowngradeTier moves tier down by steps positions in TierOrder, clamped to
// the lowest tier. Unknown tiers are returned unchanged.
func DowngradeTier(cfg *Config, tier string, steps int) string {
	if len(cfg.TierOrder) == 0 {
		return tier
	}
	idx := indexOf(cfg.TierOrder, tier)
	if idx < 0 {
		return tier
	}
	newIdx := idx + steps
	if newIdx > len(cfg.TierOrder)-1 {
		newIdx = len(cfg.TierOrder) - 1
	}
	return cfg.TierOrder[newIdx]
}

// LowestTier returns the cheapest configured tier, falling back to
// DefaultTier when no tiers are configured.
func LowestTier(cfg *Config) string {
	if len(cfg.TierOrder) > 0 {
		return cfg.TierOrder[len(cfg.TierOrder)-1]
	}
	return cfg.DefaultTier
}

func indexOf(haystack []string, needle string) int {
	for i, v := range haystack {
		if v == needle {
			return i
		}
	}
	return -1
}

// MaxPushTier resolves the effective max-push target: the configured value,
// or tier_order[0] if unset.
func MaxPushTier(cfg *Config) string {
	if cfg.Budgets.MaxPushTier != "" {
		return cfg.Budgets.MaxPushTier
	}
	if len(cfg.TierOrder) > 0 {
		return cfg.TierOrder[0]
	}
	return ""
}
