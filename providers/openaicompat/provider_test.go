package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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
		Name:    "test-upstream",
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-4o-mini",
	}, zap.NewNop())
}

func chatReq(content string) *llm.ChatRequest {
	return &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: content}},
	}
}

// --- Completion ---

func TestCompletion_Success(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody providers.OpenAICompatRequest

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o-mini",
			Choices: []providers.OpenAICompatChoice{{
				Index:        0,
				FinishReason: "stop",
				Message:      providers.OpenAICompatMessage{Role: "assistant", Content: "hello"},
			}},
			Usage:   &providers.OpenAICompatUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
			Created: 1700000000,
		})
	})

	resp, err := p.Completion(context.Background(), chatReq("hi"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "gpt-4o-mini", gotBody.Model) // 请求未指定模型时回落默认值
	assert.Equal(t, "test-upstream", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, time.Unix(1700000000, 0), resp.CreatedAt)
}

func TestCompletion_RequestModelWins(t *testing.T) {
	var gotModel string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body providers.OpenAICompatRequest
		json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		json.NewEncoder(w).Encode(providers.OpenAICompatResponse{Model: body.Model})
	})

	req := chatReq("hi")
	req.Model = "gpt-4o"
	_, err := p.Completion(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", gotModel)
}

func TestCompletion_ToolCallsRoundTrip(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body providers.OpenAICompatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Tools, 1)
		assert.Equal(t, "get_weather", body.Tools[0].Function.Name)

		json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			Choices: []providers.OpenAICompatChoice{{
				FinishReason: "tool_calls",
				Message: providers.OpenAICompatMessage{
					Role: "assistant",
					ToolCalls: []providers.OpenAICompatToolCall{{
						ID:   "call_1",
						Type: "function",
						Function: providers.OpenAICompatFunction{
							Name:      "get_weather",
							Arguments: json.RawMessage(`{"city":"SF"}`),
						},
					}},
				},
			}},
		})
	})

	req := chatReq("weather?")
	req.Tools = []llm.ToolSchema{{Name: "get_weather", Parameters: json.RawMessage(`{}`)}}

	resp, err := p.Completion(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.Choices[0].Message.ToolCalls[0].Name)
}

// --- 错误映射 ---

func TestCompletion_RateLimitRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`))
	})

	_, err := p.Completion(context.Background(), chatReq("hi"))
	require.Error(t, err)

	var le *llm.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, llm.ErrRateLimited, le.Code)
	assert.True(t, le.Retryable)
	assert.True(t, llm.IsRetryable(err))
	assert.False(t, llm.IsClientError(err))
}

func TestCompletion_BadRequestIsClientError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid messages"}}`))
	})

	_, err := p.Completion(context.Background(), chatReq("hi"))
	require.Error(t, err)

	var le *llm.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, llm.ErrInvalidRequest, le.Code)
	assert.False(t, le.Retryable)
	assert.True(t, llm.IsClientError(err))
}

func TestCompletion_ServerErrorRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.Completion(context.Background(), chatReq("hi"))
	require.Error(t, err)

	var le *llm.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, llm.ErrUpstreamError, le.Code)
	assert.True(t, le.Retryable)
}

func TestCompletion_ContextCancelled(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Completion(ctx, chatReq("hi"))
	require.Error(t, err)
}

func TestCompletion_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	p := New(providers.Config{
		Name:    "test-upstream",
		APIKey:  "sk-test",
		BaseURL: srv.URL,
	}, zap.NewNop())

	_, err := p.Completion(context.Background(), chatReq("hi"))
	require.Error(t, err)

	// 连接层失败归类为 Provider 不可用，可重试
	var le *llm.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, llm.ErrProviderUnavailable, le.Code)
	assert.True(t, le.Retryable)
}

// --- HealthCheck ---

func TestHealthCheck(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Write([]byte(`{"object":"list","data":[]}`))
	})

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Greater(t, status.Latency, time.Duration(0))
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	status, err := p.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}

// --- 默认值 ---

func TestNew_Defaults(t *testing.T) {
	p := New(providers.Config{}, nil)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, defaultBaseURL, p.cfg.BaseURL)
}
