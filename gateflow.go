// Package gateflow provides a top-level convenience entry point for embedding
// the caching proxy in another process with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/gateflow"
//
//	p, err := gateflow.New(
//		gateflow.WithProvider("openai", provider, router.Profile{Name: "openai"}),
//	)
//	resp, err := p.Chat(ctx, req)
//
// The cmd/gateflow binary wires the same components from a full configuration
// file; this package is the library-facing subset for in-process use.
package gateflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/config"
	internalcache "github.com/BaSui01/gateflow/internal/cache"
	"github.com/BaSui01/gateflow/internal/pool"
	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/cache"
	"github.com/BaSui01/gateflow/llm/coalesce"
	"github.com/BaSui01/gateflow/llm/dispatch"
	"github.com/BaSui01/gateflow/llm/embedding"
	"github.com/BaSui01/gateflow/llm/health"
	"github.com/BaSui01/gateflow/llm/router"
)

// Proxy is an in-process caching LLM proxy. It bundles the cache hierarchy,
// request coalescing, adaptive routing and circuit breaking behind a single
// Chat call.
type Proxy struct {
	cfg        *config.Config
	logger     *zap.Logger
	dispatcher *dispatch.Dispatcher
	tracker    *health.Tracker
	workers    *pool.WorkerPool
	redis      *internalcache.Manager
}

type options struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers map[string]llm.Provider
	profiles  []router.Profile
	embedder  embedding.Provider
}

// Option configures the proxy created by [New].
type Option func(*options)

// WithConfig supplies a full configuration. Defaults are used when omitted.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProvider registers a pre-built upstream provider together with its
// routing profile. At least one provider is required.
func WithProvider(name string, p llm.Provider, profile router.Profile) Option {
	return func(o *options) {
		if profile.Name == "" {
			profile.Name = name
		}
		o.providers[name] = p
		o.profiles = append(o.profiles, profile)
	}
}

// WithEmbedder enables semantic cache matching with the given embedding
// client. Without it the shared tier answers exact matches only.
func WithEmbedder(e embedding.Provider) Option {
	return func(o *options) { o.embedder = e }
}

// New creates a proxy. The hot tier is always active; the shared Redis tier
// joins the hierarchy when enabled in the configuration.
func New(opts ...Option) (*Proxy, error) {
	o := &options{providers: make(map[string]llm.Provider)}
	for _, opt := range opts {
		opt(o)
	}

	if len(o.providers) == 0 {
		return nil, fmt.Errorf("gateflow: at least one provider is required")
	}
	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	workers := pool.New(pool.Config{
		Workers:     cfg.Pool.Workers,
		QueueSize:   cfg.Pool.QueueSize,
		IdleTimeout: cfg.Pool.IdleTimeout,
	})

	var tiers []cache.Tier
	if cfg.Cache.Hot.Enabled {
		tiers = append(tiers, cache.NewHotTier(cache.HotConfig{
			Capacity: cfg.Cache.Hot.Capacity,
			TTL:      cfg.Cache.Hot.TTL,
		}))
	}

	var shared *cache.SharedTier
	var redisManager *internalcache.Manager
	if cfg.Cache.Shared.Enabled {
		redisManager = internalcache.NewManager(internalcache.Config{
			Addr:                cfg.Redis.Addr,
			Password:            cfg.Redis.Password,
			DB:                  cfg.Redis.DB,
			MaxRetries:          cfg.Redis.MaxRetries,
			PoolSize:            cfg.Redis.PoolSize,
			MinIdleConns:        cfg.Redis.MinIdleConns,
			HealthCheckInterval: cfg.Redis.HealthCheckInterval,
		}, logger)

		shared = cache.NewSharedTier(redisManager.Client(), workers, cache.SharedConfig{
			TTL:       cfg.Cache.Shared.TTL,
			KeyPrefix: cfg.Cache.Shared.KeyPrefix,
			Semantic: cache.SemanticConfig{
				Enabled:       cfg.Cache.Shared.Semantic.Enabled,
				Threshold:     cfg.Cache.Shared.Semantic.Threshold,
				MaxCandidates: cfg.Cache.Shared.Semantic.MaxCandidates,
				ScanCount:     cfg.Cache.Shared.Semantic.ScanCount,
			},
		}, logger)
		tiers = append(tiers, shared)
	}

	tracker := health.NewTracker(health.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		EWMAAlpha:        cfg.Breaker.EWMAAlpha,
	}, logger)

	engine := router.NewEngine(router.Config{
		Weights: router.Weights{
			Cost:        cfg.Routing.CostWeight,
			Performance: cfg.Routing.PerfWeight,
			Reliability: cfg.Routing.ReliabilityWeight,
		},
	}, tracker, logger)
	engine.Register(o.profiles...)

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		MaxAttempts:           cfg.Routing.MaxAttempts,
		CallTimeout:           cfg.Dispatch.CallTimeout,
		RequestTimeout:        cfg.Dispatch.RequestTimeout,
		SemanticAuthoritative: cfg.Cache.Shared.Semantic.Authoritative,
		EmbedTimeout:          cfg.Dispatch.EmbedTimeout,
		MemoCapacity:          cfg.Dispatch.MemoCapacity,
	}, dispatch.Deps{
		Hierarchy: cache.NewHierarchy(tiers, workers, logger),
		Shared:    shared,
		Group:     coalesce.NewGroup(),
		Engine:    engine,
		Tracker:   tracker,
		Providers: o.providers,
		Embedder:  o.embedder,
		Runner:    workers,
		Logger:    logger,
	})

	return &Proxy{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatcher,
		tracker:    tracker,
		workers:    workers,
		redis:      redisManager,
	}, nil
}

// Chat serves a completion request through the full cache/route/call chain.
func (p *Proxy) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return p.dispatcher.Dispatch(ctx, req)
}

// Invalidate removes the cached entry for an equivalent request from every
// reachable tier.
func (p *Proxy) Invalidate(ctx context.Context, req *llm.ChatRequest) error {
	return p.dispatcher.Invalidate(ctx, req)
}

// Health returns the current breaker snapshot for every tracked provider.
func (p *Proxy) Health() []health.ProviderHealth {
	return p.tracker.SnapshotAll()
}

// Close releases background workers and the Redis connection, if any.
func (p *Proxy) Close() error {
	p.workers.Close()
	if p.redis != nil {
		return p.redis.Close()
	}
	return nil
}
