// Package pricing computes per-request cost from token counts. Rates are in
// dollars per million tokens.
package pricing

import (
	"fmt"
	"strings"
)

const perMillion = 1_000_000.0

// ReasoningPricing holds the reasoning provider's rates.
type ReasoningPricing struct {
	InputCacheHit  float64 `yaml:"input_cache_hit_price"`
	InputCacheMiss float64 `yaml:"input_cache_miss_price"`
	Output         float64 `yaml:"output_price"`
}

// ModelPricing holds the rates of one response-provider model tier.
type ModelPricing struct {
	Input      float64 `yaml:"input_price"`
	Output     float64 `yaml:"output_price"`
	CacheWrite float64 `yaml:"cache_write_price"`
	CacheRead  float64 `yaml:"cache_read_price"`
}

// ResponsePricing holds the response provider's tiers.
type ResponsePricing struct {
	Sonnet ModelPricing `yaml:"claude_3_sonnet"`
	Haiku  ModelPricing `yaml:"claude_3_haiku"`
	Opus   ModelPricing `yaml:"claude_3_opus"`
}

func DefaultReasoning() ReasoningPricing {
	return ReasoningPricing{InputCacheHit: 0.14, InputCacheMiss: 0.55, Output: 2.19}
}

func DefaultResponse() ResponsePricing {
	return ResponsePricing{
		Sonnet: ModelPricing{Input: 3.0, Output: 15.0, CacheWrite: 3.75, CacheRead: 0.30},
		Haiku:  ModelPricing{Input: 0.80, Output: 4.0, CacheWrite: 1.0, CacheRead: 0.08},
		Opus:   ModelPricing{Input: 15.0, Output: 75.0, CacheWrite: 18.75, CacheRead: 1.50},
	}
}

// ReasoningCost prices a reasoning stage. Cached tokens are a subset of input;
// the uncached remainder is clamped at zero.
func ReasoningCost(input, output, cached int, p ReasoningPricing) float64 {
	miss := input - cached
	if miss < 0 {
		miss = 0
	}
	return float64(cached)/perMillion*p.InputCacheHit +
		float64(miss)/perMillion*p.InputCacheMiss +
		float64(output)/perMillion*p.Output
}

// CacheOverflow reports the data-quality condition where the provider reports
// more cached tokens than input tokens.
func CacheOverflow(input, cached int) bool {
	return cached > input
}

// ResponseCost prices a response stage using the tier selected by model.
func ResponseCost(model string, input, output, cacheWrite, cacheRead int, p ResponsePricing) float64 {
	tier := SelectTier(model, p)
	return float64(input)/perMillion*tier.Input +
		float64(output)/perMillion*tier.Output +
		float64(cacheWrite)/perMillion*tier.CacheWrite +
		float64(cacheRead)/perMillion*tier.CacheRead
}

// SelectTier maps a model name to its rates. Unrecognised models are priced
// as sonnet.
func SelectTier(model string, p ResponsePricing) ModelPricing {
	switch {
	case strings.Contains(model, "claude-3-5-sonnet"):
		return p.Sonnet
	case strings.Contains(model, "claude-3-5-haiku"):
		return p.Haiku
	case strings.Contains(model, "claude-3-opus"):
		return p.Opus
	default:
		return p.Sonnet
	}
}

// FormatCost renders a dollar amount with three decimals.
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.3f", cost)
}
