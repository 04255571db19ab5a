package health

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
)

var errProbeUnhealthy = errors.New("health probe reported unhealthy")

// Prober 周期性探活：对每个 Provider 调用 HealthCheck 并把结果
// 回报给 Tracker。探活与真实流量走同一条统计通道，熔断中的
// Provider 也会被持续观察。
type Prober struct {
	tracker   *Tracker
	providers map[string]llm.Provider
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	stopCh    chan struct{}
}

// NewProber 创建探活器。interval 为探活周期，timeout 为单次
// 探活的超时上限。
func NewProber(tracker *Tracker, providers map[string]llm.Provider, interval, timeout time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{
		tracker:   tracker,
		providers: providers,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.With(zap.String("component", "health_prober")),
		stopCh:    make(chan struct{}),
	}
}

// Start 启动探活循环，阻塞直到 ctx 取消或 Stop 被调用。
func (p *Prober) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// Stop 停止探活循环。
func (p *Prober) Stop() {
	close(p.stopCh)
}

// ProbeAll 立即对全部 Provider 探活一轮。
func (p *Prober) ProbeAll(ctx context.Context) {
	for name, provider := range p.providers {
		p.probe(ctx, name, provider)
	}
}

func (p *Prober) probe(ctx context.Context, name string, provider llm.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	status, err := provider.HealthCheck(probeCtx)
	latency := time.Since(start)

	if err == nil && status != nil {
		if status.Latency > 0 {
			latency = status.Latency
		}
		if !status.Healthy {
			err = errProbeUnhealthy
		}
	}

	if err != nil {
		p.logger.Warn("provider 探活失败",
			zap.String("provider", name),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}
	p.tracker.Report(name, latency, err)
}
