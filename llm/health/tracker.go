package health

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常放行）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中，路由时剔除）
	StateOpen
	// StateHalfOpen 半开状态（只放行一次试探请求）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 健康追踪配置
type Config struct {
	// FailureThreshold 连续失败多少次后熔断
	FailureThreshold int

	// Cooldown 熔断冷却时长（Open -> HalfOpen 的等待时间）
	Cooldown time.Duration

	// EWMAAlpha 指数滑动平均的衰减系数，越大越看重新样本
	EWMAAlpha float64

	// OnStateChange 状态变更回调（异步触发，用于打点）
	OnStateChange func(provider string, from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		EWMAAlpha:        0.3,
	}
}

// ProviderHealth 单个 Provider 的健康快照，供路由引擎打分。
type ProviderHealth struct {
	Provider            string
	State               State
	SuccessRate         float64       // EWMA 成功率 (0-1)
	Latency             time.Duration // EWMA 延迟
	ConsecutiveFailures int
	LastStateChange     time.Time
	LastFailureAt       time.Time // 零值表示从未失败
}

// providerState Provider 档案，mu 保证单 Provider 内迁移串行
type providerState struct {
	mu sync.Mutex

	state               State
	consecutiveFailures int
	successRate         float64
	latency             time.Duration
	latencySeeded       bool
	lastStateChange     time.Time
	lastFailureAt       time.Time
	trialInFlight       bool // HalfOpen 下试探名额是否已占用
}

// Tracker 以 Provider 为键的健康档案注册表。
// 外层读写锁只保护 map 结构，档案内容由各自的互斥锁保护。
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	providers map[string]*providerState
}

// NewTracker 创建健康追踪器
func NewTracker(cfg Config, logger *zap.Logger) *Tracker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.EWMAAlpha <= 0 || cfg.EWMAAlpha > 1 {
		cfg.EWMAAlpha = DefaultConfig().EWMAAlpha
	}
	return &Tracker{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "health_tracker")),
		providers: make(map[string]*providerState),
	}
}

// Admit 判断此刻能否向指定 Provider 发起调用。
// Closed 直接放行；Open 在冷却期满后迁移到 HalfOpen 并放行
// 唯一的试探请求；HalfOpen 下名额被占用时拒绝。
func (t *Tracker) Admit(provider string) bool {
	p := t.ensure(provider)
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(p.lastStateChange) >= t.cfg.Cooldown {
			t.transition(provider, p, StateHalfOpen)
			p.trialInFlight = true
			return true
		}
		return false

	case StateHalfOpen:
		if p.trialInFlight {
			return false
		}
		p.trialInFlight = true
		return true

	default:
		return false
	}
}

// Report 回报一次 Provider 往返的结果。所有路径（未命中调用、
// 降级重试、主动探活）都必须经过这里，EWMA 与状态机一并更新。
// 客户端错误（4xx 且非限流）是调用方的问题，不计入熔断失败。
func (t *Tracker) Report(provider string, latency time.Duration, err error) {
	p := t.ensure(provider)
	success := err == nil || llm.IsClientError(err)

	p.mu.Lock()
	defer p.mu.Unlock()

	// EWMA 更新：成功率按 0/1 样本衰减，延迟首个样本直接落位
	sample := 0.0
	if success {
		sample = 1.0
	}
	p.successRate = t.cfg.EWMAAlpha*sample + (1-t.cfg.EWMAAlpha)*p.successRate
	if latency > 0 {
		if !p.latencySeeded {
			p.latency = latency
			p.latencySeeded = true
		} else {
			p.latency = time.Duration(t.cfg.EWMAAlpha*float64(latency) + (1-t.cfg.EWMAAlpha)*float64(p.latency))
		}
	}

	if success {
		t.onSuccess(provider, p)
	} else {
		t.onFailure(provider, p)
	}
}

// onSuccess 处理成功往返
func (t *Tracker) onSuccess(provider string, p *providerState) {
	switch p.state {
	case StateClosed:
		p.consecutiveFailures = 0

	case StateHalfOpen:
		// 试探成功，恢复放行
		t.logger.Info("熔断器恢复正常", zap.String("provider", provider))
		t.transition(provider, p, StateClosed)
		p.consecutiveFailures = 0
		p.trialInFlight = false

	case StateOpen:
		// 熔断前派发的在途调用迟到了，只计入统计
	}
}

// onFailure 处理失败往返
func (t *Tracker) onFailure(provider string, p *providerState) {
	p.consecutiveFailures++
	p.lastFailureAt = time.Now()

	switch p.state {
	case StateClosed:
		if p.consecutiveFailures >= t.cfg.FailureThreshold {
			t.logger.Warn("熔断器打开",
				zap.String("provider", provider),
				zap.Int("consecutive_failures", p.consecutiveFailures),
				zap.Int("threshold", t.cfg.FailureThreshold),
			)
			t.transition(provider, p, StateOpen)
		}

	case StateHalfOpen:
		// 试探失败，重新熔断并重置冷却计时
		t.logger.Warn("熔断器试探失败，重新打开", zap.String("provider", provider))
		t.transition(provider, p, StateOpen)
		p.trialInFlight = false

	case StateOpen:
		// 已在熔断中，保持现状
	}
}

// State 返回 Provider 当前熔断状态。
func (t *Tracker) State(provider string) State {
	p := t.ensure(provider)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot 返回 Provider 的健康快照。
func (t *Tracker) Snapshot(provider string) ProviderHealth {
	p := t.ensure(provider)
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProviderHealth{
		Provider:            provider,
		State:               p.state,
		SuccessRate:         p.successRate,
		Latency:             p.latency,
		ConsecutiveFailures: p.consecutiveFailures,
		LastStateChange:     p.lastStateChange,
		LastFailureAt:       p.lastFailureAt,
	}
}

// SnapshotAll 返回全部已知 Provider 的健康快照。
func (t *Tracker) SnapshotAll() []ProviderHealth {
	t.mu.RLock()
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	t.mu.RUnlock()

	out := make([]ProviderHealth, 0, len(names))
	for _, name := range names {
		out = append(out, t.Snapshot(name))
	}
	return out
}

// Reset 手动恢复 Provider 到关闭状态。
func (t *Tracker) Reset(provider string) {
	p := t.ensure(provider)
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.state
	t.transition(provider, p, StateClosed)
	p.consecutiveFailures = 0
	p.trialInFlight = false

	t.logger.Info("熔断器已重置",
		zap.String("provider", provider),
		zap.String("from_state", old.String()),
	)
}

// transition 迁移状态并触发回调，调用方必须持有档案锁。
func (t *Tracker) transition(provider string, p *providerState, to State) {
	from := p.state
	p.state = to
	p.lastStateChange = time.Now()

	if t.cfg.OnStateChange != nil && from != to {
		go t.cfg.OnStateChange(provider, from, to)
	}
}

// ensure 取出或懒建 Provider 档案。新档案乐观起步：
// 成功率记满分，让新 Provider 有机会拿到流量。
func (t *Tracker) ensure(provider string) *providerState {
	t.mu.RLock()
	p, ok := t.providers[provider]
	t.mu.RUnlock()
	if ok {
		return p
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok = t.providers[provider]; ok {
		return p
	}
	p = &providerState{
		state:           StateClosed,
		successRate:     1.0,
		lastStateChange: time.Now(),
	}
	t.providers[provider] = p
	return p
}
