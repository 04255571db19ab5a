package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
)

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 缓存指标
	cacheLookupsTotal  *prometheus.CounterVec
	cacheDegradedTotal *prometheus.CounterVec

	// 合并指标
	coalesceTotal *prometheus.CounterVec

	// 上游指标
	providerAttemptsTotal *prometheus.CounterVec
	providerLatency       *prometheus.HistogramVec
	providerTokensUsed    *prometheus.CounterVec

	// 熔断指标
	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec

	// 请求结局
	requestOutcomes *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时使用默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.cacheLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache hierarchy lookups by hit tier",
		},
		[]string{"tier", "result"},
	)

	c.cacheDegradedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_tier_degraded_total",
			Help:      "Lookups during which a tier was unreachable",
		},
		[]string{"tier"},
	)

	c.coalesceTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_requests_total",
			Help:      "Cache-miss requests by coalescing role",
		},
		[]string{"role"}, // leader / follower
	)

	c.providerAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Upstream call attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	c.providerLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Upstream call latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	c.providerTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_used_total",
			Help:      "Tokens consumed upstream",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.breakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"provider", "from", "to"},
	)

	c.breakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state (0=Closed, 1=Open, 2=HalfOpen)",
		},
		[]string{"provider"},
	)

	c.requestOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_outcomes_total",
			Help:      "Final request outcomes",
		},
		[]string{"outcome"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTokens 记录上游响应的令牌消耗
func (c *Collector) RecordTokens(provider, model string, promptTokens, completionTokens int) {
	c.providerTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.providerTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// RecordBreakerTransition 记录熔断状态迁移，供 health.Tracker 的
// OnStateChange 回调接驳。
func (c *Collector) RecordBreakerTransition(provider, from, to string) {
	c.breakerTransitions.WithLabelValues(provider, from, to).Inc()
	c.breakerState.WithLabelValues(provider).Set(stateValue(to))
}

// --- dispatch.Observer 实现 ---

// ObserveCache 记录一次缓存层级查找。
func (c *Collector) ObserveCache(tier string, hit bool, degraded []string) {
	if hit {
		c.cacheLookupsTotal.WithLabelValues(tier, "hit").Inc()
	} else {
		c.cacheLookupsTotal.WithLabelValues("none", "miss").Inc()
	}
	for _, d := range degraded {
		c.cacheDegradedTotal.WithLabelValues(d).Inc()
	}
}

// ObserveCoalesce 记录一次合并角色。
func (c *Collector) ObserveCoalesce(shared bool) {
	role := "leader"
	if shared {
		role = "follower"
	}
	c.coalesceTotal.WithLabelValues(role).Inc()
}

// ObserveAttempt 记录一次上游调用尝试。
func (c *Collector) ObserveAttempt(provider string, latency time.Duration, err error) {
	result := "ok"
	switch {
	case err == nil:
	case llm.IsClientError(err):
		result = "client_error"
	default:
		result = "error"
	}
	c.providerAttemptsTotal.WithLabelValues(provider, result).Inc()
	c.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// ObserveOutcome 记录请求最终结局。
func (c *Collector) ObserveOutcome(status string) {
	c.requestOutcomes.WithLabelValues(status).Inc()
}

// statusCode 将 HTTP 状态码折叠为类别标签，避免基数爆炸
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func stateValue(state string) float64 {
	switch state {
	case "Open":
		return 1
	case "HalfOpen":
		return 2
	default:
		return 0
	}
}
