// 包 anthropic 实现 Claude 的上游适配器。
// Claude 协议与 OpenAI 兼容协议有几处关键差异：
//  1. 认证使用 x-api-key 请求头而非 Bearer Token
//  2. system 消息从消息列表提取后单独传递
//  3. 工具调用以 tool_use/tool_result 内容块表达
//  4. 过载返回 529 而非 503
package anthropic
