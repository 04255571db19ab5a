/*
包 database 为归档缓存层提供关系型存储的连接管理。

# 概述

Open 按驱动打开 GORM 连接（postgres / mysql / sqlite），
PoolManager 负责连接池参数、健康检查与事务辅助。归档层
是最慢也最持久的一层，数据库不可达时归档层按不可用降级，
不影响热层与共享层的服务。

sqlite 使用纯 Go 实现（glebarez/sqlite），无 CGO 依赖，
单机部署与测试共用同一条代码路径。
*/
package database
