// Package coalesce 提供请求合并（single-flight）能力。
//
// 缓存未命中时，相同指纹的并发请求只允许一次上游调用：
// 第一个请求成为 leader 发起真实调用，其余请求挂起等待并
// 共享同一结果。等待者取消只影响它自己，leader 的上游调用
// 继续执行，结果照常进入缓存。
//
// 合并窗口即调用的在途时长，调用结束后键自动释放，后续
// 请求重新计算。
package coalesce
