package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/cache"
	"github.com/BaSui01/gateflow/llm/coalesce"
	"github.com/BaSui01/gateflow/llm/embedding"
	"github.com/BaSui01/gateflow/llm/fingerprint"
	"github.com/BaSui01/gateflow/llm/health"
	"github.com/BaSui01/gateflow/llm/router"
)

// 响应 Metadata 中的缓存注解键，HTTP 层据此生成响应头。
const (
	MetaCache       = "cache"
	MetaCacheTier   = "cache_tier"
	MetaCacheMatch  = "cache_match"
	MetaApproximate = "cache_approximate"
)

// Config 是调度器的运行参数。
type Config struct {
	// MaxAttempts 限制一次未命中调用中实际发起的上游尝试数。
	MaxAttempts int `yaml:"max_attempts"`

	// CallTimeout 是单次上游调用的超时。
	CallTimeout time.Duration `yaml:"call_timeout"`

	// RequestTimeout 是整个请求（含降级链）的总预算。
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// SemanticAuthoritative 为 true 时语义命中视同精确命中，
	// 否则在响应上标注近似标记。
	SemanticAuthoritative bool `yaml:"semantic_authoritative"`

	// EmbedTimeout 是异步嵌入调用的超时。
	EmbedTimeout time.Duration `yaml:"embed_timeout"`

	// MemoCapacity 是进程内向量备忘录的容量。
	MemoCapacity int `yaml:"memo_capacity"`
}

// DefaultConfig 返回默认调度参数。
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		CallTimeout:    30 * time.Second,
		RequestTimeout: 120 * time.Second,
		EmbedTimeout:   10 * time.Second,
		MemoCapacity:   4096,
	}
}

// Deps 汇集调度器的全部协作组件。Shared、Embedder、Observer
// 允许为 nil，对应能力自动退化。
type Deps struct {
	Hierarchy *cache.Hierarchy
	Shared    *cache.SharedTier
	Group     *coalesce.Group
	Engine    *router.Engine
	Tracker   *health.Tracker
	Providers map[string]llm.Provider
	Embedder  embedding.Provider
	Runner    cache.TaskRunner
	Observer  Observer
	Logger    *zap.Logger
}

// Dispatcher 串联缓存、合并、路由与上游调用。
type Dispatcher struct {
	cfg       Config
	hierarchy *cache.Hierarchy
	shared    *cache.SharedTier
	group     *coalesce.Group
	engine    *router.Engine
	tracker   *health.Tracker
	providers map[string]llm.Provider
	embedder  embedding.Provider
	runner    cache.TaskRunner
	memo      *embedMemo
	obs       Observer
	logger    *zap.Logger
}

// NewDispatcher 创建调度器。
func NewDispatcher(cfg Config, deps Deps) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}
	obs := deps.Observer
	if obs == nil {
		obs = NopObserver()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		hierarchy: deps.Hierarchy,
		shared:    deps.Shared,
		group:     deps.Group,
		engine:    deps.Engine,
		tracker:   deps.Tracker,
		providers: deps.Providers,
		embedder:  deps.Embedder,
		runner:    deps.Runner,
		memo:      newEmbedMemo(cfg.MemoCapacity),
		obs:       obs,
		logger:    logger.With(zap.String("component", "dispatcher")),
	}
}

// Dispatch 处理一次补全请求。命中缓存直接返回注解副本；未命中
// 时经单航班合并走上游，成功结果异步写回全部缓存层。
func (d *Dispatcher) Dispatch(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	budget := d.cfg.RequestTimeout
	if req.Timeout > 0 && req.Timeout < budget {
		budget = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	fp := fingerprint.Generate(req)
	if vec, ok := d.memo.get(fp.ExactHash); ok {
		fp = fp.WithEmbedding(vec)
	}

	res := d.hierarchy.Lookup(ctx, fp)
	tierName := ""
	if res.Hit() {
		tierName = string(res.Entry.TierOrigin)
	}
	d.obs.ObserveCache(tierName, res.Hit(), res.Degraded)

	if res.Hit() {
		d.obs.ObserveOutcome(OutcomeCacheHit)
		return d.annotateHit(res.Entry), nil
	}

	resp, shared, err := d.group.Do(ctx, fp.ExactHash, func(fctx context.Context) (*llm.ChatResponse, error) {
		return d.fetch(fctx, req, fp)
	})
	d.obs.ObserveCoalesce(shared)
	if err != nil {
		d.obs.ObserveOutcome(OutcomeFailed)
		return nil, err
	}

	if shared {
		d.obs.ObserveOutcome(OutcomeCoalesced)
	} else {
		d.obs.ObserveOutcome(OutcomeUpstream)
	}
	return annotate(resp, map[string]string{MetaCache: "miss"}), nil
}

// Invalidate 删除请求对应的缓存条目，并遗忘同键的在途计算，
// 使后续请求必然重新穿透到上游。
func (d *Dispatcher) Invalidate(ctx context.Context, req *llm.ChatRequest) error {
	fp := fingerprint.Generate(req)
	d.group.Forget(fp.ExactHash)
	d.memo.forget(fp.ExactHash)
	return d.hierarchy.Invalidate(ctx, fp)
}

// fetch 执行一次真正的上游调用：按路由计划逐个尝试候选，
// 每次往返都回报健康追踪器。成功后同步触发异步回填。
func (d *Dispatcher) fetch(ctx context.Context, req *llm.ChatRequest, fp fingerprint.Fingerprint) (*llm.ChatResponse, error) {
	plan, err := d.engine.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	attempts := 0
	var lastErr error
	for _, cand := range plan {
		if attempts >= d.cfg.MaxAttempts {
			break
		}
		// 档案有、适配器无的候选直接跳过；先于 Admit 判断，
		// 否则会白白占用半开状态的试探名额
		provider, ok := d.providers[cand.Provider]
		if !ok {
			continue
		}
		// 半开状态只放行单个试探请求，其余候选跳过
		if !d.tracker.Admit(cand.Provider) {
			continue
		}
		attempts++

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		start := time.Now()
		resp, callErr := provider.Completion(callCtx, req)
		latency := time.Since(start)
		cancel()

		d.tracker.Report(cand.Provider, latency, callErr)
		d.obs.ObserveAttempt(cand.Provider, latency, callErr)

		if callErr == nil {
			d.afterSuccess(req, fp, resp)
			return resp, nil
		}

		d.logger.Warn("upstream attempt failed",
			zap.String("provider", cand.Provider),
			zap.Duration("latency", latency),
			zap.Error(callErr))
		lastErr = callErr

		// 请求方错误换候选也无济于事，立即终止降级链
		if !llm.IsRetryable(callErr) {
			return nil, callErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", llm.ErrNoProviderAvailable, lastErr)
	}
	return nil, llm.ErrNoProviderAvailable
}

// afterSuccess 调度成功结果的回填：缓存写入立即入队，嵌入生成
// 延后执行。两者都不阻塞响应路径。
func (d *Dispatcher) afterSuccess(req *llm.ChatRequest, fp fingerprint.Fingerprint, resp *llm.ChatResponse) {
	now := time.Now()
	d.hierarchy.Store(&cache.Entry{
		Key:       fp,
		Response:  resp,
		CreatedAt: now,
	})
	d.scheduleEmbedding(req, fp)
}

// scheduleEmbedding 异步生成请求的语义向量并回填共享层边车。
// 嵌入失败只影响该条目的语义可检索性，精确缓存不受影响。
func (d *Dispatcher) scheduleEmbedding(req *llm.ChatRequest, fp fingerprint.Fingerprint) {
	if d.embedder == nil || fp.HasEmbedding() {
		return
	}
	text := fingerprint.SemanticText(req)
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.EmbedTimeout)
		defer cancel()

		vec, err := embedding.EmbedOne(ctx, d.embedder, text)
		if err != nil {
			d.logger.Debug("embedding generation failed",
				zap.String("hash", fp.ExactHash),
				zap.Error(err))
			return
		}
		d.memo.put(fp.ExactHash, vec)
		if d.shared != nil {
			if err := d.shared.AttachEmbedding(ctx, fp.WithEmbedding(vec)); err != nil {
				d.logger.Debug("embedding attach failed",
					zap.String("hash", fp.ExactHash),
					zap.Error(err))
			}
		}
	}
	if d.runner == nil {
		go task()
		return
	}
	if err := d.runner.Submit(task); err != nil {
		d.logger.Debug("embedding task dropped", zap.Error(err))
	}
}

// annotateHit 生成命中条目的注解副本，原条目保持只读。
func (d *Dispatcher) annotateHit(entry *cache.Entry) *llm.ChatResponse {
	meta := map[string]string{
		MetaCache:      "hit",
		MetaCacheTier:  string(entry.TierOrigin),
		MetaCacheMatch: string(entry.Match),
	}
	if entry.Match == cache.MatchSemantic && !d.cfg.SemanticAuthoritative {
		meta[MetaApproximate] = "true"
	}
	return annotate(entry.Response, meta)
}

// annotate 返回带附加元数据的响应浅拷贝，不修改原响应。
func annotate(resp *llm.ChatResponse, extra map[string]string) *llm.ChatResponse {
	out := *resp
	out.Metadata = make(map[string]string, len(resp.Metadata)+len(extra))
	for k, v := range resp.Metadata {
		out.Metadata[k] = v
	}
	for k, v := range extra {
		out.Metadata[k] = v
	}
	return &out
}
