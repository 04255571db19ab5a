package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/providers"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(providers.Config{
		Name:    "claude",
		APIKey:  "sk-ant-test",
		BaseURL: srv.URL,
		Model:   "claude-sonnet-4",
	}, zap.NewNop())
}

// --- 消息转换 ---

func TestConvertMessages_SystemExtracted(t *testing.T) {
	system, msgs := convertMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "be terse"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	})

	assert.Equal(t, "be terse", system)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "hi", msgs[0].Content[0].Text)
}

func TestConvertMessages_ToolResultWrapped(t *testing.T) {
	_, msgs := convertMessages([]llm.Message{
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: `{"temp":20}`},
	})

	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
	require.Len(t, msgs[0].Content, 1)
	assert.Equal(t, "tool_result", msgs[0].Content[0].Type)
	assert.Equal(t, "call_1", msgs[0].Content[0].ToolUseID)
}

// --- Completion ---

func TestCompletion_Success(t *testing.T) {
	var gotKey, gotVersion string
	var gotBody claudeRequest

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(claudeResponse{
			ID:    "msg_1",
			Type:  "message",
			Role:  "assistant",
			Model: "claude-sonnet-4",
			Content: []claudeContent{
				{Type: "text", Text: "part one"},
				{Type: "text", Text: " part two"},
			},
			StopReason: "end_turn",
			Usage:      &claudeUsage{InputTokens: 10, OutputTokens: 4},
		})
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be terse"},
			{Role: llm.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-test", gotKey)
	assert.Equal(t, apiVersion, gotVersion)
	assert.Equal(t, "be terse", gotBody.System)
	assert.Equal(t, "claude-sonnet-4", gotBody.Model)
	assert.Equal(t, defaultMaxTokens, gotBody.MaxTokens) // max_tokens 必填，未指定时回落默认值

	assert.Equal(t, "claude", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "part one part two", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 14, resp.Usage.TotalTokens)
}

func TestCompletion_ToolUse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(claudeResponse{
			ID:    "msg_2",
			Model: "claude-sonnet-4",
			Content: []claudeContent{{
				Type:  "tool_use",
				ID:    "toolu_1",
				Name:  "get_weather",
				Input: json.RawMessage(`{"city":"SF"}`),
			}},
			StopReason: "tool_use",
		})
	})

	req := &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "weather?"}},
		Tools:    []llm.ToolSchema{{Name: "get_weather", Parameters: json.RawMessage(`{}`)}},
	}
	resp, err := p.Completion(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.Choices[0].Message.ToolCalls[0].Name)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
}

// --- 错误映射 ---

func TestCompletion_OverloadedRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	})

	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var le *llm.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, llm.ErrModelOverloaded, le.Code)
	assert.True(t, le.Retryable)
	assert.Contains(t, le.Message, "Overloaded")
	assert.Contains(t, le.Message, "overloaded_error")
}

func TestCompletion_Unauthorized(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	})

	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var le *llm.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, llm.ErrUnauthorized, le.Code)
	assert.True(t, llm.IsClientError(err))
}

// --- stop_reason 映射 ---

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, "stop", mapStopReason("end_turn"))
	assert.Equal(t, "stop", mapStopReason("stop_sequence"))
	assert.Equal(t, "length", mapStopReason("max_tokens"))
	assert.Equal(t, "tool_calls", mapStopReason("tool_use"))
	assert.Equal(t, "pause_turn", mapStopReason("pause_turn"))
}

// --- HealthCheck ---

func TestHealthCheck(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Write([]byte(`{"data":[]}`))
	})

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

// --- 默认值 ---

func TestNew_Defaults(t *testing.T) {
	p := New(providers.Config{}, nil)
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, defaultBaseURL, p.cfg.BaseURL)
}
