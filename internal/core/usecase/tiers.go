package usecase

import (
	"strings"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// TierTable maps slots to the model tier used for completion calls.
type TierTable struct {
	provider domain.ProviderID
	tiers    map[domain.Slot]domain.ModelTier
}

var defaultSlotModels = map[domain.ProviderID]map[domain.Slot]string{
	domain.ProviderOpenAI: {
		domain.SlotComplex:  "gpt-4o",
		domain.SlotSimple:   "gpt-4o-mini",
		domain.SlotBusiness: "gpt-4o-mini",
		domain.SlotPersonal: "gpt-4o-mini",
		domain.SlotDefault:  "gpt-4o-mini",
	},
	domain.ProviderAnthropic: {
		domain.SlotComplex:  "claude-3-5-sonnet-20240620",
		domain.SlotSimple:   "claude-3-5-haiku-20241022",
		domain.SlotBusiness: "claude-3-5-haiku-20241022",
		domain.SlotPersonal: "claude-3-5-haiku-20241022",
		domain.SlotDefault:  "claude-3-5-haiku-20241022",
	},
	domain.ProviderOllama: {
		domain.SlotComplex:  "llama3.1",
		domain.SlotSimple:   "llama3.1",
		domain.SlotBusiness: "llama3.1",
		domain.SlotPersonal: "llama3.1",
		domain.SlotDefault:  "llama3.1",
	},
}

// DefaultTierTable returns the built-in tiers for provider. Unknown providers
// get the OpenAI model names.
func DefaultTierTable(provider domain.ProviderID) TierTable {
	models, ok := defaultSlotModels[provider]
	if !ok {
		models = defaultSlotModels[domain.ProviderOpenAI]
	}
	tiers := map[domain.Slot]domain.ModelTier{
		domain.SlotComplex:  {Slot: domain.SlotComplex, Model: models[domain.SlotComplex], Temperature: 0.1, MaxTokens: 4000},
		domain.SlotSimple:   {Slot: domain.SlotSimple, Model: models[domain.SlotSimple], Temperature: 0.1, MaxTokens: 2000},
		domain.SlotBusiness: {Slot: domain.SlotBusiness, Model: models[domain.SlotBusiness], Temperature: 0, MaxTokens: 2000},
		domain.SlotPersonal: {Slot: domain.SlotPersonal, Model: models[domain.SlotPersonal], Temperature: 0.1, MaxTokens: 2000},
		domain.SlotDefault:  {Slot: domain.SlotDefault, Model: models[domain.SlotDefault], Temperature: 0.1, MaxTokens: 2000},
	}
	return TierTable{provider: provider, tiers: tiers}
}

// WithOverrides replaces tier model names. A default-slot override applies to
// every slot without its own override.
func (t TierTable) WithOverrides(models map[domain.Slot]string) TierTable {
	out := TierTable{provider: t.provider, tiers: make(map[domain.Slot]domain.ModelTier, len(t.tiers))}
	fallback := strings.TrimSpace(models[domain.SlotDefault])
	for slot, tier := range t.tiers {
		if m := strings.TrimSpace(models[slot]); m != "" {
			tier.Model = m
		} else if fallback != "" {
			tier.Model = fallback
		}
		out.tiers[slot] = tier
	}
	return out
}

func (t TierTable) Provider() domain.ProviderID {
	return t.provider
}

// Tier returns the tier for slot, or the default tier for unknown slots.
func (t TierTable) Tier(slot domain.Slot) domain.ModelTier {
	if tier, ok := t.tiers[slot]; ok {
		return tier
	}
	return t.tiers[domain.SlotDefault]
}

// SelectSlot picks the tier slot for a domain type and complexity.
func SelectSlot(domainType domain.DomainType, complexity domain.Complexity) domain.Slot {
	switch domainType {
	case domain.DomainTechnical:
		if complexity == domain.ComplexityComplex {
			return domain.SlotComplex
		}
		return domain.SlotSimple
	case domain.DomainBusiness:
		return domain.SlotBusiness
	case domain.DomainPersonal:
		return domain.SlotPersonal
	default:
		return domain.SlotDefault
	}
}
