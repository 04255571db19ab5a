// Package health 维护每个上游 Provider 的健康档案：
// 熔断器状态机（Closed / Open / HalfOpen）加指数滑动平均的
// 成功率与延迟统计。
//
// 所有 Provider 往返——无论来自未命中路径还是主动探活——都要
// 通过 Report 回报结果；路由引擎只消费 Snapshot，状态迁移全部
// 收敛在 Tracker 内部，按 Provider 串行。
package health
