package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

func TestComplexityEstimatorLongQueryWithCodesIsComplex(t *testing.T) {
	query := "MXJ6-10 與 CDQ2B20 " + strings.Repeat("查", 190)
	e := NewComplexityEstimator(DefaultComplexityThresholds())
	if got := e.Estimate(query, 1); got != domain.ComplexityComplex {
		t.Fatalf("expected complex, got %s", got)
	}
}

func TestComplexityEstimatorShortPlainQueryIsSimple(t *testing.T) {
	e := NewComplexityEstimator(DefaultComplexityThresholds())
	if got := e.Estimate("氣缸的安裝方式說明", 1); got != domain.ComplexitySimple {
		t.Fatalf("expected simple, got %s", got)
	}
}

func TestComplexityEstimatorSignals(t *testing.T) {
	e := NewComplexityEstimator(ComplexityThresholds{QueryLength: 100, ModelCount: 2, DocCount: 5})
	tests := []struct {
		name    string
		query   string
		results int
		want    domain.Complexity
	}{
		{name: "comparison keyword", query: "兩款墊片比較", results: 1, want: domain.ComplexityComplex},
		{name: "english comparison", query: "MXJ versus MXH", results: 1, want: domain.ComplexityComplex},
		{name: "analysis keyword", query: "銷售趨勢", results: 1, want: domain.ComplexityComplex},
		{name: "two codes", query: "MXJ6-10 CDQ2B20", results: 1, want: domain.ComplexityComplex},
		{name: "one code", query: "MXJ6-10 規格", results: 1, want: domain.ComplexitySimple},
		{name: "many results", query: "墊片", results: 6, want: domain.ComplexityComplex},
		{name: "results at threshold", query: "墊片", results: 5, want: domain.ComplexitySimple},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Estimate(tt.query, tt.results); got != tt.want {
				t.Fatalf("Estimate(%q, %d) = %s, want %s", tt.query, tt.results, got, tt.want)
			}
		})
	}
}

func TestSelectSlot(t *testing.T) {
	tests := []struct {
		domainType domain.DomainType
		complexity domain.Complexity
		want       domain.Slot
	}{
		{domain.DomainTechnical, domain.ComplexityComplex, domain.SlotComplex},
		{domain.DomainTechnical, domain.ComplexitySimple, domain.SlotSimple},
		{domain.DomainBusiness, domain.ComplexityComplex, domain.SlotBusiness},
		{domain.DomainPersonal, domain.ComplexitySimple, domain.SlotPersonal},
		{domain.DomainMixed, domain.ComplexityComplex, domain.SlotDefault},
	}
	for _, tt := range tests {
		if got := SelectSlot(tt.domainType, tt.complexity); got != tt.want {
			t.Fatalf("SelectSlot(%s, %s) = %s, want %s", tt.domainType, tt.complexity, got, tt.want)
		}
	}
}

func TestTierTableOverrides(t *testing.T) {
	table := DefaultTierTable(domain.ProviderAnthropic)
	if got := table.Tier(domain.SlotComplex).Model; got != "claude-3-5-sonnet-20240620" {
		t.Fatalf("unexpected default complex model %q", got)
	}

	table = table.WithOverrides(map[domain.Slot]string{
		domain.SlotComplex: "claude-sonnet-4-20250514",
		domain.SlotDefault: "claude-haiku-4-5-20251001",
	})
	if got := table.Tier(domain.SlotComplex); got.Model != "claude-sonnet-4-20250514" || got.MaxTokens != 4000 {
		t.Fatalf("unexpected complex tier %+v", got)
	}
	if got := table.Tier(domain.SlotBusiness).Model; got != "claude-haiku-4-5-20251001" {
		t.Fatalf("expected default override to apply, got %q", got)
	}
	if got := table.Tier("unknown"); got.Slot != domain.SlotDefault {
		t.Fatalf("expected default tier for unknown slot, got %+v", got)
	}
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()
	tests := []struct {
		query string
		want  domain.DomainType
	}{
		{query: "今天拜訪客戶的日報", want: domain.DomainBusiness},
		{query: "墊片的規格", want: domain.DomainTechnical},
		{query: "smc 電磁閥", want: domain.DomainTechnical},
		{query: "客戶問 MXJ6-10", want: domain.DomainTechnical},
		{query: "你好", want: domain.DomainMixed},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.query); got != tt.want {
			t.Fatalf("Classify(%q) = %s, want %s", tt.query, got, tt.want)
		}
	}
}

func TestCostEstimator(t *testing.T) {
	e := NewCostEstimator(map[string]Price{"my-model": {Input: 1, Output: 2}})

	info := e.Estimate(strings.Repeat("a", 2000), strings.Repeat("b", 1000), "gpt-4o-2024-08-06")
	if info.InputTokens != 1000 || info.OutputTokens != 500 {
		t.Fatalf("unexpected token counts %+v", info)
	}
	// 1000*2.5/1e6 + 500*10/1e6
	if info.CostUSD != 0.0075 {
		t.Fatalf("expected gpt-4o pricing, got %v", info.CostUSD)
	}

	if got := e.Estimate("xxxx", "yy", "gpt-4o-mini-2024-07-18"); got.CostUSD != 0.000001 {
		t.Fatalf("expected cost rounded to six decimals, got %v", got.CostUSD)
	}

	unknown := e.Estimate(strings.Repeat("a", 2_000_000), "", "mystery")
	if unknown.CostUSD != 0.15 {
		t.Fatalf("expected gpt-4o-mini fallback pricing, got %v", unknown.CostUSD)
	}

	overridden := e.Estimate(strings.Repeat("a", 2_000_000), "", "my-model")
	if overridden.CostUSD != 1 {
		t.Fatalf("expected overlay price, got %v", overridden.CostUSD)
	}

	local := e.EstimateFor(domain.ProviderOllama, strings.Repeat("a", 2_000_000), "", "gpt-4o")
	if local.CostUSD != 0 || local.Model != "gpt-4o" || local.Provider != "ollama" {
		t.Fatalf("expected free local model, got %+v", local)
	}
}
