// Package tokenizer 提供请求的 Token 计数能力，供路由引擎做成本
// 估算。OpenAI 系模型走 tiktoken 精确计数，其余模型使用区分
// CJK 与 ASCII 的字符估算器。
package tokenizer

// Message 是计数用的轻量消息结构，避免与 llm 包形成循环依赖。
type Message struct {
	Role    string
	Content string
}

// Counter 统一的 Token 计数接口。
type Counter interface {
	// CountTokens 返回给定文本的 Token 数。
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 Token 数，
	// 含每条消息的角色标记与分隔符开销。
	CountMessages(messages []Message) (int, error)

	// Name 返回计数器名称。
	Name() string
}

// ForModel 返回给定模型的计数器。已知 tiktoken 编码的模型
// （含前缀匹配）返回精确计数器，其余退回估算器。
func ForModel(model string) Counter {
	if t, ok := newTiktoken(model); ok {
		return t
	}
	return NewEstimator()
}
