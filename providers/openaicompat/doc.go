// 包 openaicompat 实现兼容 OpenAI 聊天协议的上游适配器。
// 绝大多数上游（OpenAI、DeepSeek、Qwen、本地 vLLM 等）共用同一
// 协议，只在名称、地址与默认模型上有差异，全部通过 Config 注入。
package openaicompat
