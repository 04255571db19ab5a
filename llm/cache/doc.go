/*
包 cache 实现 GateFlow 的三级缓存：进程内 Hot 层（LRU + 绝对过期）、
跨实例共享的 Shared 层（Redis，精确 + 语义近邻查找）、以及可选的
Archive 层（抽象 KV，长尾条目落盘）。

# 查找规则

Hierarchy 按 Hot → Shared → Archive 的固定顺序查找，命中即停。
在较慢层命中后，条目被异步回写到所有更快的层（写回不阻塞响应）。
任何一层后端不可达都不会让查找失败：该层按未命中处理，降级事件
通过日志与查找结果暴露。

# 层结果

每层的 Get 返回封闭的三态结果 Hit | Miss | Unavailable，
上层据此在一个有限分支集合内做降级决策，而不是捕获任意错误。
*/
package cache
