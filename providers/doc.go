// 包 providers 提供上游适配器的公共配置、错误映射与 OpenAI 兼容
// 协议类型。具体适配器位于子包：openaicompat 覆盖所有兼容 OpenAI
// 协议的上游，anthropic 处理 Claude 的差异化协议（x-api-key 认证、
// system 消息单独传递、tool_use 内容块）。
//
// 所有适配器实现 llm.Provider 接口，错误统一映射为 llm.Error，
// 由调度层据此决定重试、降级与熔断计数。
package providers
