package domain

import "strings"

type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// Slot is a purpose-based model tier kept stable across providers.
type Slot string

const (
	SlotComplex  Slot = "complex"
	SlotSimple   Slot = "simple"
	SlotBusiness Slot = "business"
	SlotPersonal Slot = "personal"
	SlotDefault  Slot = "default"
)

var AllSlots = []Slot{SlotComplex, SlotSimple, SlotBusiness, SlotPersonal, SlotDefault}

// EnvName is the upper-case suffix used by <PROVIDER>_MODEL_<SLOT> variables.
func (s Slot) EnvName() string {
	return strings.ToUpper(string(s))
}

type ModelTier struct {
	Slot        Slot    `json:"slot" yaml:"slot"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderOllama    ProviderID = "ollama"
)

// ParseProviderID normalizes provider names and aliases.
func ParseProviderID(raw string) (ProviderID, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "openai", "gpt":
		return ProviderOpenAI, true
	case "anthropic", "claude":
		return ProviderAnthropic, true
	case "ollama", "local":
		return ProviderOllama, true
	default:
		return "", false
	}
}

func (p ProviderID) EnvName() string {
	return strings.ToUpper(string(p))
}

type RoutingMode string

const (
	RoutingSingle RoutingMode = "single"
	RoutingAuto   RoutingMode = "auto"
)

// ProviderRoute describes how completions are routed. SlotModels holds the
// per-provider slot overrides; a missing entry means "use the provider default".
type ProviderRoute struct {
	Mode       RoutingMode
	Primary    ProviderID
	Fallback   ProviderID
	SlotModels map[ProviderID]map[Slot]string
}

func (r ProviderRoute) HasFallback() bool {
	return r.Mode == RoutingAuto && r.Fallback != "" && r.Fallback != r.Primary
}

// SlotModel returns the override for provider/slot, then the provider's
// default-slot override, then fallback.
func (r ProviderRoute) SlotModel(provider ProviderID, slot Slot, fallback string) string {
	models := r.SlotModels[provider]
	if m := strings.TrimSpace(models[slot]); m != "" {
		return m
	}
	if m := strings.TrimSpace(models[SlotDefault]); m != "" {
		return m
	}
	return fallback
}
