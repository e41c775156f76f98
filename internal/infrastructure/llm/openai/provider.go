package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func newClient(cfg Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return openai.NewClientWithConfig(clientCfg)
}

// Provider completes prompts with a single chat model.
type Provider struct {
	client   *openai.Client
	model    string
	executor *resilience.Executor
}

func NewProvider(cfg Config, model string, executor *resilience.Executor) *Provider {
	return &Provider{
		client:   newClient(cfg),
		model:    model,
		executor: executor,
	}
}

func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if isReasoningModel(model) {
		chatReq.MaxCompletionTokens = req.MaxTokens
	} else {
		chatReq.Temperature = float32(req.Temperature)
		chatReq.MaxTokens = req.MaxTokens
	}

	var answer string
	err := p.executor.Execute(ctx, "openai.chat", func(ctx context.Context) error {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return parseAPIError("chat", err)
		}
		if len(resp.Choices) == 0 {
			return domain.WrapError(domain.ErrProvider, "openai chat", errors.New("empty choices"))
		}
		answer = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	}, classifyProviderError)
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return "", domain.WrapError(domain.ErrProvider, "openai chat", err)
		}
		return "", err
	}
	return answer, nil
}

// Reasoning models reject temperature and use max_completion_tokens.
func isReasoningModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func parseAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		kind := domain.ErrProvider
		if isQuotaCode(apiErr.Type) || isQuotaCode(code) || domain.IsQuotaMessage(apiErr.Message) {
			kind = domain.ErrProviderQuota
		}
		return domain.WrapError(kind, "openai "+op, fmt.Errorf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		kind := domain.ErrProvider
		if domain.IsQuotaMessage(string(reqErr.Body)) || reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			kind = domain.ErrProviderQuota
		}
		return domain.WrapError(kind, "openai "+op, err)
	}

	return domain.WrapError(domain.ErrProvider, "openai "+op, err)
}

func isQuotaCode(code string) bool {
	switch code {
	case "insufficient_quota", "rate_limit_exceeded", "rate_limit_error", "requests", "tokens":
		return true
	default:
		return false
	}
}

// Quota answers are not backend faults and must not trip the breaker.
func classifyProviderError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrProviderQuota) {
		return false
	}
	return true
}
