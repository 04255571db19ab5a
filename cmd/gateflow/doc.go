// gateflow 是缓存加速 LLM 代理的服务入口。
//
// 使用方法:
//
//	gateflow serve                       # 启动代理
//	gateflow serve --config config.yaml  # 指定配置文件
//	gateflow version                     # 显示版本信息
//	gateflow health                      # 健康检查
//	gateflow migrate up                  # 运行归档库迁移
//	gateflow migrate down                # 回滚最后一次迁移
//	gateflow migrate status              # 查看迁移状态
package main
