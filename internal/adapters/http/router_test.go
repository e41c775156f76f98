package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/knowledge-qa/internal/config"
	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

type answererFake struct {
	result    domain.QueryResult
	err       error
	reloadErr error

	lastQuery, lastMode, lastUser string
	cleared, reloads              int
}

func (f *answererFake) Ask(_ context.Context, query, mode, userID string) (domain.QueryResult, error) {
	f.lastQuery, f.lastMode, f.lastUser = query, mode, userID
	return f.result, f.err
}

func (f *answererFake) Stats() domain.EngineStats {
	return domain.EngineStats{KeywordIndex: 42, RoutingMode: "auto", Primary: "openai", Fallback: "anthropic"}
}

func (f *answererFake) ClearCache(context.Context) error {
	f.cleared++
	return nil
}

func (f *answererFake) Reload(context.Context) error {
	f.reloads++
	return f.reloadErr
}

func newTestHandler(cfg config.Config, qa *answererFake) http.Handler {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewRouter(cfg, qa, nil, logger).Handler()
}

func postAsk(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAskReturnsQueryResult(t *testing.T) {
	qa := &answererFake{result: domain.QueryResult{
		Answer:     "行程 10mm",
		Sources:    []string{"mxj.pdf"},
		DomainType: "technical",
	}}
	res := postAsk(t, newTestHandler(config.Config{}, qa), `{"query":"MXJ6-10 行程?","user_id":" u1 "}`)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var got domain.QueryResult
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Answer != "行程 10mm" || len(got.Sources) != 1 {
		t.Fatalf("unexpected result %+v", got)
	}
	if qa.lastMode != "smart" || qa.lastUser != "u1" {
		t.Fatalf("expected default mode and trimmed user, got mode=%q user=%q", qa.lastMode, qa.lastUser)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestAskRejectsInvalidJSON(t *testing.T) {
	res := postAsk(t, newTestHandler(config.Config{}, &answererFake{}), `{"query":`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAskRejectsOversizedBody(t *testing.T) {
	body := `{"query":"` + strings.Repeat("a", maxAskBodyBytes) + `"}`
	res := postAsk(t, newTestHandler(config.Config{}, &answererFake{}), body)
	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}

func TestAskMapsDomainErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"not initialized": {domain.WrapError(domain.ErrNotInitialized, "ask", errors.New("engine is not wired")), http.StatusServiceUnavailable},
		"invalid":         {domain.WrapError(domain.ErrInvalidInput, "ask", errors.New("bad")), http.StatusBadRequest},
		"deadline":        {context.DeadlineExceeded, http.StatusGatewayTimeout},
		"unknown":         {errors.New("boom"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := postAsk(t, newTestHandler(config.Config{}, &answererFake{err: tc.err}), `{"query":"q"}`)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

func TestAskRejectsWrongMethod(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/ask", nil)
	res := httptest.NewRecorder()
	newTestHandler(config.Config{}, &answererFake{}).ServeHTTP(res, req)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestStatsAndHealth(t *testing.T) {
	handler := newTestHandler(config.Config{}, &answererFake{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"keyword_index_size":42`) {
		t.Fatalf("unexpected stats response %d %s", res.Code, res.Body.String())
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", res.Code)
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	qa := &answererFake{}
	handler := newTestHandler(config.Config{APIAdminToken: "secret"}, qa)

	req := httptest.NewRequest(http.MethodDelete, "/v1/cache", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized || qa.cleared != 0 {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/cache", nil)
	req.Header.Set("Authorization", "Bearer secret")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || qa.cleared != 1 {
		t.Fatalf("expected cache cleared with token, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/reload", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer wrong")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized || qa.reloads != 0 {
		t.Fatalf("expected 401 for wrong token, got %d", res.Code)
	}
}

func TestReloadSurfacesCacheFailure(t *testing.T) {
	qa := &answererFake{reloadErr: domain.WrapError(domain.ErrCachePersistence, "clear cache", errors.New("redis down"))}
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/reload", nil)
	res := httptest.NewRecorder()
	newTestHandler(config.Config{}, qa).ServeHTTP(res, req)

	if res.Code != http.StatusServiceUnavailable || qa.reloads != 1 {
		t.Fatalf("expected 503 after reload attempt, got %d", res.Code)
	}
}
