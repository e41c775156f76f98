package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

// Metric is the collection's distance function; it decides how qdrant
// scores are turned into distances.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricEuclid Metric = "euclid"
)

type Options struct {
	ContentKey string
	SourceKey  string
	Metric     Metric
	Executor   *resilience.Executor
	HTTPClient *http.Client
}

// Client answers similarity queries against one qdrant collection.
type Client struct {
	baseURL    string
	collection string
	embedder   ports.Embedder
	httpClient *http.Client
	executor   *resilience.Executor

	contentKey string
	sourceKey  string
	metric     Metric
}

func New(baseURL, collection string, embedder ports.Embedder, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	contentKey := opts.ContentKey
	if contentKey == "" {
		contentKey = "text"
	}
	sourceKey := opts.SourceKey
	if sourceKey == "" {
		sourceKey = "source"
	}
	metric := opts.Metric
	if metric == "" {
		metric = MetricCosine
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		embedder:   embedder,
		httpClient: httpClient,
		executor:   opts.Executor,
		contentKey: contentKey,
		sourceKey:  sourceKey,
		metric:     metric,
	}
}

// StatusError is a non-2xx qdrant response.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("qdrant search status: %s", e.Status)
	}
	return fmt.Sprintf("qdrant search status: %s: %s", e.Status, strings.TrimSpace(e.Body))
}

// SimilaritySearch embeds text and returns the k nearest chunks.
func (c *Client) SimilaritySearch(ctx context.Context, text string, k int) ([]domain.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}

	var out []domain.VectorHit
	err := c.executor.Execute(ctx, "qdrant.search", func(ctx context.Context) error {
		vector, err := c.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		hits, err := c.search(ctx, vector, k)
		if err != nil {
			return err
		}
		out = hits
		return nil
	}, classifyQdrantError)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "vector search", err)
	}
	return out, nil
}

func (c *Client) search(ctx context.Context, vector []float32, limit int) ([]domain.VectorHit, error) {
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": []string{c.contentKey, c.sourceKey, "filename"},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(raw)}
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.VectorHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		content := getStringPayload(r.Payload, c.contentKey)
		if content == "" {
			continue
		}
		source := getStringPayload(r.Payload, c.sourceKey)
		if source == "" {
			source = getStringPayload(r.Payload, "filename")
		}
		out = append(out, domain.VectorHit{
			Content:  content,
			Source:   source,
			Distance: c.distance(r.Score),
		})
	}
	return out, nil
}

// distance converts a qdrant score into a non-negative distance where
// smaller means closer.
func (c *Client) distance(score float64) float64 {
	switch c.metric {
	case MetricEuclid:
		return score
	default:
		d := 1 - score
		if d < 0 {
			return 0
		}
		return d
	}
}

func classifyQdrantError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
