/*
包 migration 管理归档缓存表的 Schema 迁移，基于 golang-migrate
实现，支持 PostgreSQL、MySQL 与 SQLite 三种方言。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌进二进制，部署时无需
携带额外文件。当前唯一的表是 cache_entries：归档层按指纹哈希
存储序列化的缓存条目及其过期时间。

# 核心类型

  - Migrator：迁移操作接口（Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close）。
  - DefaultMigrator：基于 golang-migrate 的默认实现。
  - CLI：migrate 子命令使用的终端输出封装。
*/
package migration
