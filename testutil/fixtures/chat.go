// 测试数据工厂，提供预置的 ChatRequest 与 ChatResponse 样例。
package fixtures

import (
	"time"

	"github.com/BaSui01/gateflow/llm"
)

// SimpleRequest 返回单轮用户提问请求
func SimpleRequest(content string) *llm.ChatRequest {
	return &llm.ChatRequest{
		Model: "gpt-4o",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: content},
		},
	}
}

// RequestWithSystem 返回带系统提示的请求
func RequestWithSystem(system, content string) *llm.ChatRequest {
	return &llm.ChatRequest{
		Model: "gpt-4o",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: content},
		},
	}
}

// RequestWithTenant 返回带租户标识的请求
func RequestWithTenant(tenant, content string) *llm.ChatRequest {
	req := SimpleRequest(content)
	req.TenantID = tenant
	return req
}

// Conversation 返回多轮对话请求
func Conversation(turns int) *llm.ChatRequest {
	messages := make([]llm.Message, 0, turns*2)
	for i := 0; i < turns; i++ {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: "question"},
			llm.Message{Role: llm.RoleAssistant, Content: "answer"},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "final question"})
	return &llm.ChatRequest{Model: "gpt-4o", Messages: messages}
}

// SimpleResponse 返回简单的文本响应
func SimpleResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "resp-001",
		Provider: "mock",
		Model:    "gpt-4o",
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				FinishReason: "stop",
				Message: llm.Message{
					Role:    llm.RoleAssistant,
					Content: content,
				},
			},
		},
		Usage: llm.ChatUsage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
		CreatedAt: time.Now(),
	}
}

// ResponseWithUsage 返回带自定义 Token 使用量的响应
func ResponseWithUsage(content string, promptTokens, completionTokens int) *llm.ChatResponse {
	resp := SimpleResponse(content)
	resp.Usage = llm.ChatUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
	return resp
}

// ResponseFromProvider 返回标注来源 Provider 的响应
func ResponseFromProvider(provider, content string) *llm.ChatResponse {
	resp := SimpleResponse(content)
	resp.Provider = provider
	return resp
}

// TruncatedResponse 返回因长度截断的响应
func TruncatedResponse(content string) *llm.ChatResponse {
	resp := SimpleResponse(content)
	resp.Choices[0].FinishReason = "length"
	return resp
}
