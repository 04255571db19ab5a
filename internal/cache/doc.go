/*
包 cache 管理共享缓存层使用的 Redis 连接生命周期。

# 概述

本包封装 go-redis 客户端的创建、健康检查与优雅关闭。与上层
缓存语义解耦：共享层只需要一个 *redis.Client，本包负责把配置
变成可用的连接并持续监控其健康状况。

Redis 不可达不是启动失败：代理在共享层降级的状态下照常服务，
后台健康检查持续探测，连接恢复后共享层自动恢复工作。

# 核心类型

  - Manager：连接管理器，持有 Redis 客户端与连接池配置，
    暴露 Client/Ping/Healthy/Close。
  - Config：连接配置，包含地址、密码、连接池大小与健康检查间隔。
*/
package cache
