/*
包 llm 定义 GateFlow 代理的统一领域模型：规范化的请求与响应、
Provider 适配接口、以及缓存与路由共享的错误分类。

# 概述

GateFlow 位于业务方与多家大模型服务商之间。请求进入代理后先被
规范化为 ChatRequest，之后的指纹计算、缓存查找、路由决策与上游
调用全部围绕该统一模型进行，屏蔽各服务商在接口与错误语义上的差异。

# 核心类型

  - ChatRequest / ChatResponse：规范化的补全请求与响应。
  - Provider：上游适配器接口，路由引擎通过它发起真实调用。
  - Error：带错误码、HTTP 状态与可重试标记的类型化错误。
  - ErrCacheUnavailable 等哨兵错误：缓存与路由层的降级分类。

# 子包

  - fingerprint：请求规范化与缓存键指纹。
  - cache：Hot/Shared/Archive 三级缓存与层级编排。
  - coalesce：同指纹并发请求合并（single-flight）。
  - health：Provider 熔断状态机与滚动统计。
  - router：多因子评分与确定性候选排序。
  - dispatch：请求编排状态机。
  - embedding / tokenizer：外部嵌入能力与 token 估算。
*/
package llm
