package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://api.anthropic.com"

// Error types that mean "try another vendor": the account is throttled or
// the service is shedding load.
const (
	errTypeRateLimit  = "rate_limit_error"
	errTypeOverloaded = "overloaded_error"
)

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider calls the Messages API for one model.
type Provider struct {
	client   sdk.Client
	model    string
	executor *resilience.Executor
}

func NewProvider(cfg Config, model string, executor *resilience.Executor) *Provider {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		// Failover is the router's job; the SDK must not retry on its own.
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Provider{
		client:   sdk.NewClient(opts...),
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
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Temperature: sdk.Float(req.Temperature),
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}

	var answer string
	err := p.executor.Execute(ctx, "anthropic.messages", func(ctx context.Context) error {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return err
		}
		text, err := messageText(msg)
		if err != nil {
			return err
		}
		answer = text
		return nil
	}, classifyError)
	if err != nil {
		return "", wrapError(err)
	}
	return answer, nil
}

func messageText(msg *sdk.Message) (string, error) {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic messages: empty content")
	}
	return strings.TrimSpace(sb.String()), nil
}

// apiErrorBody pulls type and message out of the error envelope
// {"type":"error","error":{"type":...,"message":...}}.
func apiErrorBody(apiErr *sdk.Error) (errType, message string) {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(apiErr.RawJSON()), &envelope) != nil {
		return "", ""
	}
	return envelope.Error.Type, envelope.Error.Message
}

func isQuota(err error) bool {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	errType, message := apiErrorBody(apiErr)
	return errType == errTypeRateLimit || errType == errTypeOverloaded || domain.IsQuotaMessage(message)
}

func classifyError(err error) bool {
	if errors.Is(err, context.Canceled) || isQuota(err) {
		return false
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}

func wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isQuota(err) {
		return domain.WrapError(domain.ErrProviderQuota, "anthropic messages", err)
	}
	return domain.WrapError(domain.ErrProvider, "anthropic messages", err)
}
