package usecase

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// Price is USD per one million tokens.
type Price struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Models served by a local Ollama daemon are priced through this prefix.
const localPricePrefix = "ollama/"

var defaultPrice = Price{Input: 0.15, Output: 0.6}

func DefaultPriceTable() map[string]Price {
	return map[string]Price{
		"gpt-4o":            {Input: 2.5, Output: 10},
		"gpt-4o-mini":       {Input: 0.15, Output: 0.6},
		"gpt-4.1":           {Input: 2, Output: 8},
		"gpt-4.1-mini":      {Input: 0.4, Output: 1.6},
		"o3-mini":           {Input: 1.1, Output: 4.4},
		"claude-3-5-sonnet": {Input: 3, Output: 15},
		"claude-3-5-haiku":  {Input: 0.8, Output: 4},
		"claude-sonnet-4":   {Input: 3, Output: 15},
		"claude-haiku-4":    {Input: 1, Output: 5},
		"claude-opus-4":     {Input: 15, Output: 75},
		localPricePrefix:    {},
	}
}

// CostEstimator approximates token usage and price of a completion.
type CostEstimator struct {
	prices map[string]Price
}

// NewCostEstimator merges overrides on top of the built-in table.
func NewCostEstimator(overrides map[string]Price) *CostEstimator {
	prices := DefaultPriceTable()
	for model, price := range overrides {
		prices[strings.ToLower(strings.TrimSpace(model))] = price
	}
	return &CostEstimator{prices: prices}
}

// Estimate counts tokens as runes/2 and prices them by the longest model
// prefix in the table; unknown models use gpt-4o-mini pricing.
func (e *CostEstimator) Estimate(prompt, answer, model string) domain.CostInfo {
	in := utf8.RuneCountInString(prompt) / 2
	out := utf8.RuneCountInString(answer) / 2
	price := e.lookup(model)
	usd := (float64(in)*price.Input + float64(out)*price.Output) / 1_000_000
	return domain.CostInfo{
		Model:        model,
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      math.Round(usd*1e6) / 1e6,
	}
}

// EstimateFor prices local providers at zero regardless of the model name.
func (e *CostEstimator) EstimateFor(provider domain.ProviderID, prompt, answer, model string) domain.CostInfo {
	key := model
	if provider == domain.ProviderOllama {
		key = localPricePrefix + model
	}
	info := e.Estimate(prompt, answer, key)
	info.Model = model
	info.Provider = string(provider)
	return info
}

func (e *CostEstimator) lookup(model string) Price {
	model = strings.ToLower(strings.TrimSpace(model))
	if price, ok := e.prices[model]; ok {
		return price
	}
	best := ""
	for prefix := range e.prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultPrice
	}
	return e.prices[best]
}
