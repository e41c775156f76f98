package cohere

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cosdk "github.com/cohere-ai/cohere-go/v2"
	coclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/core"
	"github.com/cohere-ai/cohere-go/v2/option"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://api.cohere.com"

// Compressor asks the hosted rerank endpoint for the most relevant documents.
type Compressor struct {
	client   *coclient.Client
	model    string
	topN     int
	executor *resilience.Executor
}

type Options struct {
	BaseURL    string
	TopN       int
	HTTPClient *http.Client
	Executor   *resilience.Executor
}

func New(apiKey, model string, opts Options) *Compressor {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Compressor{
		client: coclient.NewClient(
			option.WithToken(apiKey),
			option.WithBaseURL(baseURL),
			option.WithHTTPClient(httpClient),
			// The reranker falls back to input order on failure; no SDK retries.
			option.WithMaxAttempts(1),
		),
		model:    model,
		topN:     opts.TopN,
		executor: opts.Executor,
	}
}

// Compress returns documents in relevance order, at most TopN of them.
func (c *Compressor) Compress(ctx context.Context, query string, documents []string) ([]string, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	topN := c.topN
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	var out []string
	err := c.executor.Execute(ctx, "cohere.rerank", func(ctx context.Context) error {
		ranked, err := c.rerank(ctx, query, documents, topN)
		if err != nil {
			return err
		}
		out = ranked
		return nil
	}, classifyError)
	if err != nil {
		return nil, wrapError(err)
	}
	return out, nil
}

func (c *Compressor) rerank(ctx context.Context, query string, documents []string, topN int) ([]string, error) {
	items := make([]*cosdk.RerankRequestDocumentsItem, 0, len(documents))
	for _, d := range documents {
		items = append(items, &cosdk.RerankRequestDocumentsItem{String: d})
	}
	resp, err := c.client.Rerank(ctx, &cosdk.RerankRequest{
		Model:     cosdk.String(c.model),
		Query:     query,
		Documents: items,
		TopN:      cosdk.Int(topN),
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil {
			continue
		}
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("cohere rerank: index %d out of range", r.Index)
		}
		out = append(out, documents[r.Index])
	}
	return out, nil
}

func statusCode(err error) (int, bool) {
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	return apiErr.StatusCode, true
}

func isQuota(err error) bool {
	status, ok := statusCode(err)
	if ok && status == http.StatusTooManyRequests {
		return true
	}
	return ok && domain.IsQuotaMessage(err.Error())
}

func classifyError(err error) bool {
	if errors.Is(err, context.Canceled) || isQuota(err) {
		return false
	}
	if status, ok := statusCode(err); ok {
		return status >= 500
	}
	return true
}

func wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isQuota(err) {
		return domain.WrapError(domain.ErrProviderQuota, "cohere rerank", err)
	}
	return domain.WrapError(domain.ErrProvider, "cohere rerank", err)
}
