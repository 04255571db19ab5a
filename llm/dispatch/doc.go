// Package dispatch 是请求的主干流水线：指纹 → 缓存层级查找 →
// 单航班合并 → 路由选择 → 上游调用 → 异步回填（缓存写入与嵌入）。
//
// 调度器对调用方只暴露 Dispatch 与 Invalidate 两个操作。所有降级
// （缓存层不可达、嵌入失败、候选耗尽）都在内部吸收为更慢的路径，
// 只有候选集耗尽和超时会以错误形式冒出。
package dispatch
