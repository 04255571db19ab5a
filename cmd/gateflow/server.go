package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/config"
	internalcache "github.com/BaSui01/gateflow/internal/cache"
	"github.com/BaSui01/gateflow/internal/database"
	"github.com/BaSui01/gateflow/internal/metrics"
	"github.com/BaSui01/gateflow/internal/pool"
	"github.com/BaSui01/gateflow/internal/server"
	"github.com/BaSui01/gateflow/internal/telemetry"
	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/cache"
	"github.com/BaSui01/gateflow/llm/coalesce"
	"github.com/BaSui01/gateflow/llm/dispatch"
	"github.com/BaSui01/gateflow/llm/embedding"
	"github.com/BaSui01/gateflow/llm/health"
	"github.com/BaSui01/gateflow/llm/router"
	"github.com/BaSui01/gateflow/providers"
	"github.com/BaSui01/gateflow/providers/anthropic"
	"github.com/BaSui01/gateflow/providers/openaicompat"
)

// Server 汇集代理的全部运行期组件，并负责装配与关闭顺序。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager *server.Manager
	collector   *metrics.Collector

	cacheManager *internalcache.Manager
	mongoClient  *mongo.Client
	workerPool   *pool.WorkerPool

	tracker    *health.Tracker
	prober     *health.Prober
	engine     *router.Engine
	dispatcher *dispatch.Dispatcher
	telemetry  *telemetry.Providers

	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器实例，组件在 Start 时装配。
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Start 按依赖顺序装配组件并启动 HTTP 服务。
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("gateflow", nil, s.logger)

	tp, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	s.telemetry = tp

	s.workerPool = pool.New(pool.Config{
		Workers:     s.cfg.Pool.Workers,
		QueueSize:   s.cfg.Pool.QueueSize,
		IdleTimeout: s.cfg.Pool.IdleTimeout,
	}, pool.WithPanicHandler(func(v any) {
		s.logger.Error("Background task panicked", zap.Any("panic", v))
	}))

	hierarchy, shared, err := s.buildCacheHierarchy()
	if err != nil {
		return fmt.Errorf("failed to build cache hierarchy: %w", err)
	}

	providerMap, err := s.buildProviders()
	if err != nil {
		return fmt.Errorf("failed to build providers: %w", err)
	}

	s.tracker = health.NewTracker(health.Config{
		FailureThreshold: s.cfg.Breaker.FailureThreshold,
		Cooldown:         s.cfg.Breaker.Cooldown,
		EWMAAlpha:        s.cfg.Breaker.EWMAAlpha,
		OnStateChange: func(provider string, from, to health.State) {
			s.collector.RecordBreakerTransition(provider, from.String(), to.String())
		},
	}, s.logger)

	s.engine = router.NewEngine(router.Config{
		Weights: router.Weights{
			Cost:        s.cfg.Routing.CostWeight,
			Performance: s.cfg.Routing.PerfWeight,
			Reliability: s.cfg.Routing.ReliabilityWeight,
		},
	}, s.tracker, s.logger)

	for _, pc := range s.cfg.Providers {
		s.engine.Register(router.Profile{
			Name:         pc.Name,
			Capabilities: pc.Capabilities,
			InputPrice:   pc.InputPrice,
			OutputPrice:  pc.OutputPrice,
		})
	}

	var embedder embedding.Provider
	if s.cfg.Embedding.Enabled {
		embedder = embedding.NewOpenAIClient(embedding.Config{
			BaseURL:    s.cfg.Embedding.BaseURL,
			APIKey:     s.cfg.Embedding.APIKey,
			Model:      s.cfg.Embedding.Model,
			Dimensions: s.cfg.Embedding.Dimensions,
			Timeout:    s.cfg.Embedding.Timeout,
		})
	}

	s.dispatcher = dispatch.NewDispatcher(dispatch.Config{
		MaxAttempts:           s.cfg.Routing.MaxAttempts,
		CallTimeout:           s.cfg.Dispatch.CallTimeout,
		RequestTimeout:        s.cfg.Dispatch.RequestTimeout,
		SemanticAuthoritative: s.cfg.Cache.Shared.Semantic.Authoritative,
		EmbedTimeout:          s.cfg.Dispatch.EmbedTimeout,
		MemoCapacity:          s.cfg.Dispatch.MemoCapacity,
	}, dispatch.Deps{
		Hierarchy: hierarchy,
		Shared:    shared,
		Group:     coalesce.NewGroup(),
		Engine:    s.engine,
		Tracker:   s.tracker,
		Providers: providerMap,
		Embedder:  embedder,
		Runner:    s.workerPool,
		Observer:  s.collector,
		Logger:    s.logger,
	})

	if s.cfg.Breaker.ProbeInterval > 0 {
		s.prober = health.NewProber(s.tracker, providerMap,
			s.cfg.Breaker.ProbeInterval, s.cfg.Dispatch.CallTimeout, s.logger)
		// Start 会阻塞在探活循环里，必须放到后台
		go s.prober.Start(context.Background())
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All components started",
		zap.String("addr", s.cfg.Server.Addr),
		zap.Int("providers", len(providerMap)),
		zap.Bool("semantic_cache", s.cfg.Cache.Shared.Enabled && s.cfg.Cache.Shared.Semantic.Enabled),
		zap.Bool("archive", s.cfg.Cache.Archive.Enabled),
	)

	return nil
}

// buildCacheHierarchy 按配置装配启用的缓存层。共享层需要
// Redis 连接就绪，Archive 层按后端类型选择存储。
func (s *Server) buildCacheHierarchy() (*cache.Hierarchy, *cache.SharedTier, error) {
	var tiers []cache.Tier
	var shared *cache.SharedTier

	if s.cfg.Cache.Hot.Enabled {
		tiers = append(tiers, cache.NewHotTier(cache.HotConfig{
			Capacity: s.cfg.Cache.Hot.Capacity,
			TTL:      s.cfg.Cache.Hot.TTL,
		}))
	}

	if s.cfg.Cache.Shared.Enabled {
		s.cacheManager = internalcache.NewManager(internalcache.Config{
			Addr:                s.cfg.Redis.Addr,
			Password:            s.cfg.Redis.Password,
			DB:                  s.cfg.Redis.DB,
			MaxRetries:          s.cfg.Redis.MaxRetries,
			PoolSize:            s.cfg.Redis.PoolSize,
			MinIdleConns:        s.cfg.Redis.MinIdleConns,
			HealthCheckInterval: s.cfg.Redis.HealthCheckInterval,
		}, s.logger)

		shared = cache.NewSharedTier(s.cacheManager.Client(), s.workerPool, cache.SharedConfig{
			TTL:       s.cfg.Cache.Shared.TTL,
			KeyPrefix: s.cfg.Cache.Shared.KeyPrefix,
			Semantic: cache.SemanticConfig{
				Enabled:       s.cfg.Cache.Shared.Semantic.Enabled,
				Threshold:     s.cfg.Cache.Shared.Semantic.Threshold,
				MaxCandidates: s.cfg.Cache.Shared.Semantic.MaxCandidates,
				ScanCount:     s.cfg.Cache.Shared.Semantic.ScanCount,
			},
		}, s.logger)
		tiers = append(tiers, shared)
	}

	if s.cfg.Cache.Archive.Enabled {
		store, err := s.buildArchiveStore()
		if err != nil {
			return nil, nil, err
		}
		tiers = append(tiers, cache.NewArchiveTier(store, cache.ArchiveConfig{
			TTL: s.cfg.Cache.Archive.TTL,
		}, s.logger))
	}

	return cache.NewHierarchy(tiers, s.workerPool, s.logger), shared, nil
}

// buildArchiveStore 按配置的后端类型创建 Archive 存储。
func (s *Server) buildArchiveStore() (cache.ArchiveStore, error) {
	switch s.cfg.Cache.Archive.Backend {
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(s.cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		s.mongoClient = client

		coll := client.Database(s.cfg.Mongo.Database).Collection(s.cfg.Mongo.Collection)
		store := cache.NewMongoStore(coll, s.logger)

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Mongo.Timeout)
		defer cancel()
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure mongodb indexes: %w", err)
		}
		return store, nil

	case "gorm", "":
		db, err := database.Open(s.cfg.Database.Driver, s.cfg.Database.DSN(), s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive database: %w", err)
		}
		return cache.NewGormStore(db, s.logger), nil

	default:
		return nil, fmt.Errorf("unknown archive backend: %s", s.cfg.Cache.Archive.Backend)
	}
}

// buildProviders 按配置创建上游适配器。
func (s *Server) buildProviders() (map[string]llm.Provider, error) {
	if len(s.cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	providerMap := make(map[string]llm.Provider, len(s.cfg.Providers))
	for _, pc := range s.cfg.Providers {
		cfg := providers.Config{
			Name:    pc.Name,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}

		switch pc.Type {
		case "openai":
			providerMap[pc.Name] = openaicompat.New(cfg, s.logger)
		case "anthropic":
			providerMap[pc.Name] = anthropic.New(cfg, s.logger)
		default:
			return nil, fmt.Errorf("unknown provider type %q for provider %q", pc.Type, pc.Name)
		}

		s.logger.Info("Provider registered",
			zap.String("provider", pc.Name),
			zap.String("type", pc.Type),
			zap.String("model", pc.Model))
	}

	return providerMap, nil
}

// startHTTPServer 注册路由、构建中间件链并启动监听。
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/providers/health", s.handleProvidersHealth)
	mux.HandleFunc("/v1/cache/invalidate", s.handleCacheInvalidate)
	mux.Handle("/metrics", promhttp.Handler())

	skipAuthPaths := []string{"/healthz", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares,
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
	if s.cfg.Server.JWTSecret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWTSecret, skipAuthPaths, s.logger))
	} else {
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            s.cfg.Server.Addr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		MaxConns:        s.cfg.Server.MaxConns,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if s.cfg.Server.TLSCertFile != "" && s.cfg.Server.TLSKeyFile != "" {
		return s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	}
	return s.httpManager.Start()
}

// WaitForShutdown 等待退出信号并执行清理。
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 按依赖逆序关闭全部组件。
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.prober != nil {
		s.prober.Stop()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.workerPool != nil {
		s.workerPool.Close()
	}

	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Redis shutdown error", zap.Error(err))
		}
	}

	if s.mongoClient != nil {
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			s.logger.Error("MongoDB shutdown error", zap.Error(err))
		}
	}

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
