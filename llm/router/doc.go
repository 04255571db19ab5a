// Package router 实现多因子加权路由：对按能力筛选出的候选
// Provider 计算成本、性能、可靠性三项归一化子分的加权和，
// 产出确定性的降级链（fallback chain）供调度器逐个尝试。
// 熔断中（Open）的 Provider 不进入候选集。
package router
