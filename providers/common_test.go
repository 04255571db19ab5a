package providers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/gateflow/llm"
)

// --- MapHTTPError ---

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		msg       string
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, "bad key", llm.ErrUnauthorized, false},
		{http.StatusForbidden, "denied", llm.ErrForbidden, false},
		{http.StatusTooManyRequests, "slow down", llm.ErrRateLimited, true},
		{http.StatusBadRequest, "bad input", llm.ErrInvalidRequest, false},
		{http.StatusBadRequest, "insufficient quota", llm.ErrQuotaExceeded, false},
		{http.StatusBadGateway, "bad gateway", llm.ErrUpstreamError, true},
		{http.StatusServiceUnavailable, "unavailable", llm.ErrUpstreamError, true},
		{529, "overloaded", llm.ErrModelOverloaded, true},
		{http.StatusInternalServerError, "boom", llm.ErrUpstreamError, true},
		{http.StatusNotFound, "no such model", llm.ErrUpstreamError, false},
	}

	for _, tt := range tests {
		e := MapHTTPError(tt.status, tt.msg, "p")
		assert.Equal(t, tt.wantCode, e.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, e.Retryable, "status %d", tt.status)
		assert.Equal(t, tt.status, e.HTTPStatus)
		assert.Equal(t, "p", e.Provider)
	}
}

// --- ReadErrorMessage ---

func TestReadErrorMessage(t *testing.T) {
	msg := ReadErrorMessage(strings.NewReader(`{"error":{"message":"boom","type":"server_error"}}`))
	assert.Equal(t, "boom (type: server_error)", msg)

	msg = ReadErrorMessage(strings.NewReader(`{"error":{"message":"boom"}}`))
	assert.Equal(t, "boom", msg)

	// 非 JSON 回退原始文本
	msg = ReadErrorMessage(strings.NewReader("plain failure"))
	assert.Equal(t, "plain failure", msg)
}

// --- ChooseModel ---

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req-model", ChooseModel(&llm.ChatRequest{Model: "req-model"}, "default"))
	assert.Equal(t, "default", ChooseModel(&llm.ChatRequest{}, "default"))
	assert.Equal(t, "default", ChooseModel(nil, "default"))
}

// --- 消息转换 ---

func TestConvertMessagesToOpenAI(t *testing.T) {
	msgs := ConvertMessagesToOpenAI([]llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "fn", Arguments: json.RawMessage(`{"a":1}`)},
		}},
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: "result"},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "function", msgs[1].ToolCalls[0].Type)
	assert.Equal(t, "fn", msgs[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
}

func TestConvertToolsToOpenAI(t *testing.T) {
	tools := ConvertToolsToOpenAI([]llm.ToolSchema{{
		Name:        "get_weather",
		Description: "查询指定城市天气",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	}})

	require.Len(t, tools, 1)
	assert.Equal(t, "function", tools[0].Type)
	assert.Equal(t, "get_weather", tools[0].Function.Name)
	assert.Equal(t, "查询指定城市天气", tools[0].Function.Description)

	// 线上格式必须是 function.parameters 携带 JSON Schema
	wire, err := json.Marshal(tools[0])
	require.NoError(t, err)
	assert.Contains(t, string(wire), `"parameters":{"type":"object"`)
	assert.Contains(t, string(wire), `"description":"查询指定城市天气"`)
	assert.NotContains(t, string(wire), `"arguments"`)

	assert.Nil(t, ConvertToolsToOpenAI(nil))
}

func TestToLLMChatResponse(t *testing.T) {
	resp := ToLLMChatResponse(OpenAICompatResponse{
		ID:    "id-1",
		Model: "m",
		Choices: []OpenAICompatChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      OpenAICompatMessage{Role: "assistant", Content: "answer"},
		}},
		Usage: &OpenAICompatUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}, "prov")

	assert.Equal(t, "prov", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, llm.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, "answer", resp.Choices[0].Message.Content)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
}
