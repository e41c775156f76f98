package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

const defaultClientCacheSize = 12

// ErrorClass tells the router whether a failed call may fail over.
type ErrorClass int

const (
	ErrorClassNone ErrorClass = iota
	ErrorClassQuota
	ErrorClassOther
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassNone:
		return "ok"
	case ErrorClassQuota:
		return "quota"
	default:
		return "error"
	}
}

// Invocation is the outcome of one provider call.
type Invocation struct {
	Provider domain.ProviderID
	Model    string
	Slot     domain.Slot
	Text     string
	Class    ErrorClass
	Err      error
}

type RouteRequest struct {
	Slot         domain.Slot
	Tier         domain.ModelTier
	Prompt       string
	SystemPrompt string
}

type Completion struct {
	Text       string
	Provider   domain.ProviderID
	Model      string
	Slot       domain.Slot
	FailedOver bool
}

type clientKey struct {
	provider domain.ProviderID
	model    string
}

// ProviderRouter sends completions to the primary provider and, in auto
// mode, retries once on the fallback provider after a quota error.
type ProviderRouter struct {
	route   domain.ProviderRoute
	factory ports.ProviderFactory
	logger  *slog.Logger
	metrics ports.MetricsRecorder

	mu      sync.Mutex
	clients *lru.Cache[clientKey, ports.CompletionProvider]
}

func NewProviderRouter(
	route domain.ProviderRoute,
	factory ports.ProviderFactory,
	cacheSize int,
	logger *slog.Logger,
	metrics ports.MetricsRecorder,
) (*ProviderRouter, error) {
	if factory == nil {
		return nil, domain.WrapError(domain.ErrNotInitialized, "provider router", errors.New("provider factory is nil"))
	}
	if route.Primary == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "provider router", errors.New("primary provider is empty"))
	}
	if route.Mode == "" {
		route.Mode = domain.RoutingSingle
	}
	if cacheSize <= 0 {
		cacheSize = defaultClientCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	clients, err := lru.New[clientKey, ports.CompletionProvider](cacheSize)
	if err != nil {
		return nil, err
	}
	return &ProviderRouter{
		route:   route,
		factory: factory,
		logger:  logger,
		metrics: metrics,
		clients: clients,
	}, nil
}

func (r *ProviderRouter) Route() domain.ProviderRoute {
	return r.route
}

// Complete runs req on the primary provider. Only a quota failure in auto
// mode reaches the fallback, and only once.
func (r *ProviderRouter) Complete(ctx context.Context, req RouteRequest) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	slot := req.Slot
	if slot == "" {
		slot = req.Tier.Slot
	}

	primaryModel := r.route.SlotModel(r.route.Primary, slot, req.Tier.Model)
	r.logger.Info("llm_route_resolved",
		"provider", r.route.Primary,
		"model", primaryModel,
		"slot", slot,
		"mode", r.route.Mode,
	)
	primary := r.invoke(ctx, r.route.Primary, primaryModel, slot, req)
	if primary.Class == ErrorClassNone {
		return completionFrom(primary, false), nil
	}
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}

	if primary.Class != ErrorClassQuota || !r.route.HasFallback() {
		return Completion{}, domain.WrapError(domain.ErrProvider, "complete", primary.Err)
	}

	fallbackModel := r.route.SlotModel(r.route.Fallback, slot, DefaultTierTable(r.route.Fallback).Tier(slot).Model)
	r.logger.Warn("llm_failover",
		"from_provider", r.route.Primary,
		"from_model", primaryModel,
		"provider", r.route.Fallback,
		"model", fallbackModel,
		"slot", slot,
		"mode", r.route.Mode,
		"error", primary.Err,
	)
	r.metrics.RecordFailover(string(r.route.Primary), string(r.route.Fallback))

	fallback := r.invoke(ctx, r.route.Fallback, fallbackModel, slot, req)
	if fallback.Class == ErrorClassNone {
		return completionFrom(fallback, true), nil
	}
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	combined := fmt.Errorf("primary %s/%s: %v; fallback %s/%s: %v",
		primary.Provider, primary.Model, primary.Err,
		fallback.Provider, fallback.Model, fallback.Err)
	return Completion{}, domain.WrapError(domain.ErrFailoverExhausted, "complete", combined)
}

func (r *ProviderRouter) invoke(ctx context.Context, provider domain.ProviderID, model string, slot domain.Slot, req RouteRequest) Invocation {
	inv := Invocation{Provider: provider, Model: model, Slot: slot}

	client, err := r.client(provider, model)
	if err == nil {
		inv.Text, err = client.Complete(ctx, ports.CompletionRequest{
			Model:        model,
			Prompt:       req.Prompt,
			SystemPrompt: req.SystemPrompt,
			Temperature:  req.Tier.Temperature,
			MaxTokens:    req.Tier.MaxTokens,
		})
	}
	inv.Err = err
	inv.Class = classifyInvocationError(err)
	r.metrics.RecordProviderCall(string(provider), model, string(slot), inv.Class.String())
	return inv
}

func (r *ProviderRouter) client(provider domain.ProviderID, model string) (ports.CompletionProvider, error) {
	key := clientKey{provider: provider, model: model}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients.Get(key); ok {
		return c, nil
	}
	c, err := r.factory.NewProvider(provider, model)
	if err != nil {
		return nil, err
	}
	r.clients.Add(key, c)
	return c, nil
}

// Invalidate drops every cached client handle.
func (r *ProviderRouter) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients.Purge()
}

func classifyInvocationError(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorClassNone
	case errors.Is(err, domain.ErrProviderQuota), domain.IsQuotaMessage(err.Error()):
		return ErrorClassQuota
	default:
		return ErrorClassOther
	}
}

func completionFrom(inv Invocation, failedOver bool) Completion {
	return Completion{
		Text:       inv.Text,
		Provider:   inv.Provider,
		Model:      inv.Model,
		Slot:       inv.Slot,
		FailedOver: failedOver,
	}
}
