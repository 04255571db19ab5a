package dispatch

import "time"

// Observer 接收调度过程中的观测事件。具体实现由指标层提供，
// 调度器本身不依赖任何指标库。
type Observer interface {
	// ObserveCache 记录一次缓存层级查找的结果。tier 为命中层名
	// （未命中时为空），degraded 为本次查找中不可达的层名。
	ObserveCache(tier string, hit bool, degraded []string)

	// ObserveCoalesce 记录一次合并结果。shared 为 true 表示
	// 本次调用共享了他人的在途计算。
	ObserveCoalesce(shared bool)

	// ObserveAttempt 记录一次上游调用尝试。
	ObserveAttempt(provider string, latency time.Duration, err error)

	// ObserveOutcome 记录整个请求的最终结局。
	ObserveOutcome(status string)
}

// 最终结局分类。
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeUpstream  = "upstream"
	OutcomeCoalesced = "coalesced"
	OutcomeFailed    = "failed"
)

type nopObserver struct{}

func (nopObserver) ObserveCache(string, bool, []string)         {}
func (nopObserver) ObserveCoalesce(bool)                        {}
func (nopObserver) ObserveAttempt(string, time.Duration, error) {}
func (nopObserver) ObserveOutcome(string)                       {}

// NopObserver 返回丢弃所有事件的观测器。
func NopObserver() Observer { return nopObserver{} }
