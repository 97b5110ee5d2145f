// Package costtable resolves a pure per-request USD cost from a model name
// and token counts. It is grounded on the original proxy's cost_table.py and
// generalized the way the teacher's relay/pricing package resolves model
// ratios: exact match, then prefix match in both directions, then a
// conservative default.
package costtable

import (
	"github.com/pkoukk/tiktoken-go"
)

// EstimateTokens counts prompt tokens with tiktoken before a response (and
// its real usage figures) exists; the pipeline logs the resulting estimate
// at debug level and does not enforce the budget with it. Falls back to
// cl100k_base for any model tiktoken doesn't recognize by name.
func EstimateTokens(text, model string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return len([]rune(text)) / 4
		}
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateCost is a pre-flight cost estimate for a not-yet-sent request: it
// tokenizes prompt with EstimateTokens and prices it as pure input cost
// (no output tokens exist yet to estimate).
func (t *Table) EstimateCost(model, prompt string) float64 {
	return t.Cost(model, EstimateTokens(prompt, model), 0)
}

// PerMillion holds USD pricing per one million tokens for a single model.
type PerMillion struct {
	InputUSD  float64
	OutputUSD float64
}

// DefaultInputPerMillion and DefaultOutputPerMillion are the conservative
// fallback prices used when a model has no known pricing entry.
const (
	DefaultInputPerMillion  = 3.00
	DefaultOutputPerMillion = 15.00
)

// defaultModelCosts mirrors the original proxy's MODEL_COSTS table. Prices
// are USD per 1M tokens, (input, output).
var defaultModelCosts = orderedCosts{
	{"claude-opus-4-6", PerMillion{15.00, 75.00}},
	{"claude-opus-4-20250514", PerMillion{15.00, 75.00}},
	{"claude-sonnet-4-5-20250929", PerMillion{3.00, 15.00}},
	{"claude-sonnet-4-20250514", PerMillion{3.00, 15.00}},
	{"claude-sonnet-3-5-20241022", PerMillion{3.00, 15.00}},
	{"claude-3-5-haiku-20241022", PerMillion{0.80, 4.00}},
	{"claude-3-haiku-20240307", PerMillion{0.25, 1.25}},
	{"gpt-4o", PerMillion{2.50, 10.00}},
	{"gpt-4o-mini", PerMillion{0.15, 0.60}},
	{"gpt-4-turbo", PerMillion{10.00, 30.00}},
	{"gpt-4", PerMillion{30.00, 60.00}},
	{"gpt-3.5-turbo", PerMillion{0.50, 1.50}},
	{"o1", PerMillion{15.00, 60.00}},
	{"o1-mini", PerMillion{3.00, 12.00}},
	{"o3-mini", PerMillion{1.10, 4.40}},
	{"gemini-2.0-flash", PerMillion{0.10, 0.40}},
	{"gemini-1.5-flash", PerMillion{0.075, 0.30}},
	{"gemini-1.5-pro", PerMillion{1.25, 5.00}},
	{"gemini-2.0-pro", PerMillion{1.25, 5.00}},
}

type modelCostEntry struct {
	model string
	cost  PerMillion
}

type orderedCosts []modelCostEntry

// Table is a pure model->price lookup. The zero value has no entries and
// prices every model at the default fallback rates; construct with New to
// get the built-in pricing table or an operator-provided override (e.g.
// loaded from the same router config document).
type Table struct {
	entries orderedCosts
	byModel map[string]PerMillion
}

// New builds a Table from a model->price map. Passing nil falls back to the
// built-in default pricing data. Entries of an override map follow map
// iteration order, so when a model prefix-matches several override keys,
// which of them wins is not defined.
func New(overrides map[string]PerMillion) *Table {
	if len(overrides) == 0 {
		return &Table{entries: defaultModelCosts, byModel: toIndex(defaultModelCosts)}
	}

	entries := make(orderedCosts, 0, len(overrides))
	for model, price := range overrides {
		entries = append(entries, modelCostEntry{model, price})
	}
	return &Table{entries: entries, byModel: toIndex(entries)}
}

func toIndex(entries orderedCosts) map[string]PerMillion {
	idx := make(map[string]PerMillion, len(entries))
	for _, e := range entries {
		idx[e.model] = e.cost
	}
	return idx
}

// Default is the package-level table used by callers that don't need a
// custom price list.
var Default = New(nil)

// Cost computes the USD cost for a request against model using inputTokens
// and outputTokens. It never errors: unknown models fall back to the
// conservative default pricing.
func (t *Table) Cost(model string, inputTokens, outputTokens int) float64 {
	price, ok := t.lookup(model)
	if !ok {
		price = PerMillion{DefaultInputPerMillion, DefaultOutputPerMillion}
	}
	return (float64(inputTokens)*price.InputUSD + float64(outputTokens)*price.OutputUSD) / 1_000_000
}

// lookup resolves the pricing entry for model: exact match first, then a
// prefix match in either direction (the first hit in table iteration order
// wins), matching the original proxy's get_cost semantics.
func (t *Table) lookup(model string) (PerMillion, bool) {
	if price, ok := t.byModel[model]; ok {
		return price, true
	}

	for _, e := range t.entries {
		if len(model) >= len(e.model) && model[:len(e.model)] == e.model {
			return e.cost, true
		}
		if len(e.model) >= len(model) && e.model[:len(model)] == model {
			return e.cost, true
		}
	}

	return PerMillion{}, false
}

// Cost is a convenience wrapper around Default.Cost.
func Cost(model string, inputTokens, outputTokens int) float64 {
	return Default.Cost(model, inputTokens, outputTokens)
}
