package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/gateflow/llm/fingerprint"
)

// LookupResult 汇总一次层级查找。Entry 为 nil 表示全层未命中；
// Degraded 记录本次查找中不可达的层，供上层打点与降级观测。
type LookupResult struct {
	Entry    *Entry
	Tier     string
	Degraded []string
}

// Hit 判断本次查找是否命中。
func (r *LookupResult) Hit() bool { return r.Entry != nil }

// Hierarchy 按固定顺序（快 → 慢）编排各缓存层。
// 不变量：查找严格顺序进行、命中即停；较慢层命中后异步回写到
// 所有更快的层；任何层不可用都按未命中继续，绝不向上抛错。
type Hierarchy struct {
	tiers   []Tier
	runner  TaskRunner
	logger  *zap.Logger
	timeout time.Duration // 单个后台写任务的超时

	dropped atomic.Int64
}

// NewHierarchy 创建层级编排器，tiers 按查找顺序排列。
// runner 为 nil 时后台任务直接起 goroutine。
func NewHierarchy(tiers []Tier, runner TaskRunner, logger *zap.Logger) *Hierarchy {
	return &Hierarchy{
		tiers:   tiers,
		runner:  runner,
		logger:  logger.With(zap.String("component", "cache_hierarchy")),
		timeout: 5 * time.Second,
	}
}

// Lookup 依序查找，命中即返回。在第 N 层（N>0）命中时触发
// 向更快各层的异步回写。
func (h *Hierarchy) Lookup(ctx context.Context, key fingerprint.Fingerprint) *LookupResult {
	res := &LookupResult{}
	for i, tier := range h.tiers {
		entry, outcome := tier.Get(ctx, key)
		switch outcome {
		case OutcomeHit:
			res.Entry = entry
			res.Tier = tier.Name()
			if i > 0 {
				h.writeBack(entry, h.tiers[:i])
			}
			return res
		case OutcomeUnavailable:
			res.Degraded = append(res.Degraded, tier.Name())
		case OutcomeMiss:
			// 继续下一层
		}
	}
	return res
}

// Store 把新条目异步写入全部层。成功的上游响应走这里，
// 响应已经交付，写入失败只影响未来命中率。
func (h *Hierarchy) Store(entry *Entry) {
	for _, tier := range h.tiers {
		h.putAsync(tier, entry)
	}
}

// Invalidate 并行失效所有层中的指定键。
func (h *Hierarchy) Invalidate(ctx context.Context, key fingerprint.Fingerprint) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, tier := range h.tiers {
		tier := tier
		g.Go(func() error {
			return tier.Invalidate(gctx, key)
		})
	}
	return g.Wait()
}

// Dropped 返回因后台队列满而被丢弃的任务数。
func (h *Hierarchy) Dropped() int64 { return h.dropped.Load() }

// writeBack 把较慢层命中的条目推入所有更快的层。
func (h *Hierarchy) writeBack(entry *Entry, faster []Tier) {
	for _, tier := range faster {
		h.putAsync(tier, entry)
	}
}

func (h *Hierarchy) putAsync(tier Tier, entry *Entry) {
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := tier.Put(ctx, entry); err != nil {
			h.logger.Debug("async cache put failed",
				zap.String("tier", tier.Name()),
				zap.Error(err),
			)
		}
	}
	h.submit(task)
}

func (h *Hierarchy) submit(task func()) {
	if h.runner == nil {
		go task()
		return
	}
	if err := h.runner.Submit(task); err != nil {
		h.dropped.Add(1)
		h.logger.Warn("async cache task dropped", zap.Error(err))
	}
}
