package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/health"
	"github.com/BaSui01/gateflow/llm/tokenizer"
)

// Weights 三项子分的权重，三者之和必须为 1（容差 ±0.001）。
type Weights struct {
	Cost        float64 `yaml:"cost" json:"cost"`
	Performance float64 `yaml:"performance" json:"performance"`
	Reliability float64 `yaml:"reliability" json:"reliability"`
}

// Validate 校验权重配置。
func (w Weights) Validate() error {
	sum := w.Cost + w.Performance + w.Reliability
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("routing weights must sum to 1, got %.3f", sum)
	}
	if w.Cost < 0 || w.Performance < 0 || w.Reliability < 0 {
		return fmt.Errorf("routing weights must be non-negative")
	}
	return nil
}

// DefaultWeights 默认权重：可靠性略重于成本与性能。
func DefaultWeights() Weights {
	return Weights{Cost: 0.3, Performance: 0.3, Reliability: 0.4}
}

// Profile 是一个已注册 Provider 的静态路由档案。
// 价格按每千 Token 的美元计，用于请求级成本估算。
type Profile struct {
	Name         string   `yaml:"name" json:"name"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
	InputPrice   float64  `yaml:"input_price" json:"input_price"`
	OutputPrice  float64  `yaml:"output_price" json:"output_price"`
}

func (p *Profile) supports(capability string) bool {
	if len(p.Capabilities) == 0 {
		return capability == llm.CapabilityChat
	}
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Candidate 是一次路由决策产出的临时评分结果，不做持久化。
type Candidate struct {
	Provider         string
	CostScore        float64
	PerfScore        float64
	ReliabilityScore float64
	CompositeScore   float64
	Latency          time.Duration
	EstimatedCost    float64
}

// Config 路由引擎配置
type Config struct {
	Weights Weights
}

// Engine 路由引擎。候选档案注册后只读（Register 仅在装配期调用），
// 健康数据每次 Plan 时从 Tracker 取快照，保证决策反映最新状态。
type Engine struct {
	cfg     Config
	tracker *health.Tracker
	logger  *zap.Logger

	mu       sync.RWMutex
	profiles []Profile
}

// NewEngine 创建路由引擎。
func NewEngine(cfg Config, tracker *health.Tracker, logger *zap.Logger) *Engine {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	return &Engine{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(zap.String("component", "router")),
	}
}

// Register 注册候选 Provider 档案。
func (e *Engine) Register(profiles ...Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles = append(e.profiles, profiles...)
}

// Plan 为请求产出完整的降级链：按综合分降序排列的候选列表。
// 过滤规则：能力不匹配或熔断打开（Open）的 Provider 不进入候选集；
// HalfOpen 保留在候选集中，由调用方在发起时通过 Tracker.Admit 竞争
// 唯一的试探名额。候选集为空时返回 ErrNoProviderAvailable。
//
// 排序是全序：综合分降序，同分取延迟估计最低，再同取名称字典序，
// 同一输入永远产出同一条链。
func (e *Engine) Plan(_ context.Context, req *llm.ChatRequest) ([]Candidate, error) {
	e.mu.RLock()
	profiles := e.profiles
	e.mu.RUnlock()

	capability := req.CapabilityOrDefault()
	inTokens, outTokens := e.estimateTokens(req)

	type scored struct {
		profile  Profile
		snapshot health.ProviderHealth
		cost     float64
	}
	eligible := make([]scored, 0, len(profiles))
	for _, p := range profiles {
		if !p.supports(capability) {
			continue
		}
		snap := e.tracker.Snapshot(p.Name)
		if snap.State == health.StateOpen {
			continue
		}
		cost := float64(inTokens)/1000*p.InputPrice + float64(outTokens)/1000*p.OutputPrice
		eligible = append(eligible, scored{profile: p, snapshot: snap, cost: cost})
	}
	if len(eligible) == 0 {
		return nil, llm.ErrNoProviderAvailable
	}

	// 成本与延迟做相对归一化：最便宜/最快者得满分，
	// 其余按比例衰减；无延迟样本的候选乐观给满分。
	minCost, minLatency := math.MaxFloat64, time.Duration(math.MaxInt64)
	for _, s := range eligible {
		if s.cost < minCost {
			minCost = s.cost
		}
		if s.snapshot.Latency > 0 && s.snapshot.Latency < minLatency {
			minLatency = s.snapshot.Latency
		}
	}

	w := e.cfg.Weights
	candidates := make([]Candidate, 0, len(eligible))
	for _, s := range eligible {
		costScore := 1.0
		if s.cost > 0 {
			costScore = minCost / s.cost
		}
		perfScore := 1.0
		if s.snapshot.Latency > 0 && minLatency > 0 && minLatency != time.Duration(math.MaxInt64) {
			perfScore = float64(minLatency) / float64(s.snapshot.Latency)
		}
		relScore := s.snapshot.SuccessRate

		candidates = append(candidates, Candidate{
			Provider:         s.profile.Name,
			CostScore:        costScore,
			PerfScore:        perfScore,
			ReliabilityScore: relScore,
			CompositeScore:   w.Cost*costScore + w.Performance*perfScore + w.Reliability*relScore,
			Latency:          s.snapshot.Latency,
			EstimatedCost:    s.cost,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.Latency != b.Latency {
			return a.Latency < b.Latency
		}
		return a.Provider < b.Provider
	})

	e.logger.Debug("routing plan built",
		zap.String("capability", capability),
		zap.Int("candidates", len(candidates)),
		zap.String("selected", candidates[0].Provider),
		zap.Float64("score", candidates[0].CompositeScore),
	)
	return candidates, nil
}

// estimateTokens 估算请求的输入/输出 Token 量。已知模型走 tiktoken
// 精确计数，失败或未知模型退回字符估算器；输出量取 MaxTokens 的
// 一半作为期望值，未设置时用固定预算。
func (e *Engine) estimateTokens(req *llm.ChatRequest) (in, out int) {
	msgs := make([]tokenizer.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	in, err := tokenizer.ForModel(req.Model).CountMessages(msgs)
	if err != nil || in <= 0 {
		in = 256
	}

	out = req.MaxTokens / 2
	if out <= 0 {
		out = 512
	}
	return in, out
}
