/*
包 metrics 基于 Prometheus 收集代理的运行指标。

# 概述

Collector 覆盖四个观测面：HTTP 入口、缓存层级、请求合并与
上游调用（含熔断状态）。调度器通过 Observer 接口上报事件，
本包是该接口的唯一生产实现。

指标按构造时传入的 namespace 前缀注册，测试传入独立的
Registry 避免重复注册冲突。
*/
package metrics
