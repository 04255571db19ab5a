// 包 config 提供统一配置加载：默认值 → YAML 文件 → 环境变量覆盖。
// 环境变量覆盖通过结构体 env 标签的反射递归实现，
// 嵌套结构的键名以下划线拼接（如 GATEFLOW_CACHE_HOT_CAPACITY）。
package config
