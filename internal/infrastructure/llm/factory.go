package llm

import (
	"fmt"
	"strings"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/llm/openai"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

type FactoryConfig struct {
	OpenAI    openai.Config
	Anthropic anthropic.Config
	OllamaURL string
}

// Factory builds provider clients on demand. Clients for the same
// provider share one breaker executor.
type Factory struct {
	cfg      FactoryConfig
	executor *resilience.Executor
	ollama   *ollama.Client
}

func NewFactory(cfg FactoryConfig, executor *resilience.Executor) *Factory {
	f := &Factory{cfg: cfg, executor: executor}
	if strings.TrimSpace(cfg.OllamaURL) != "" {
		f.ollama = ollama.New(cfg.OllamaURL, executor)
	}
	return f
}

func (f *Factory) NewProvider(provider domain.ProviderID, model string) (ports.CompletionProvider, error) {
	if strings.TrimSpace(model) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new provider", fmt.Errorf("empty model for %s", provider))
	}
	switch provider {
	case domain.ProviderOpenAI:
		if strings.TrimSpace(f.cfg.OpenAI.APIKey) == "" {
			return nil, domain.WrapError(domain.ErrNotInitialized, "new provider", fmt.Errorf("openai api key is not configured"))
		}
		return openai.NewProvider(f.cfg.OpenAI, model, f.executor), nil
	case domain.ProviderAnthropic:
		if strings.TrimSpace(f.cfg.Anthropic.APIKey) == "" {
			return nil, domain.WrapError(domain.ErrNotInitialized, "new provider", fmt.Errorf("anthropic api key is not configured"))
		}
		return anthropic.NewProvider(f.cfg.Anthropic, model, f.executor), nil
	case domain.ProviderOllama:
		if f.ollama == nil {
			return nil, domain.WrapError(domain.ErrNotInitialized, "new provider", fmt.Errorf("ollama url is not configured"))
		}
		return ollama.NewProvider(f.ollama, model), nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "new provider", fmt.Errorf("unknown provider %q", provider))
	}
}
