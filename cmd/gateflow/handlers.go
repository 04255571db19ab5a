package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/internal/ctxkeys"
	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/dispatch"
)

// handleChatCompletions 代理入口。请求经调度器走
// 缓存 -> 合并 -> 路由 -> 上游 的完整链路。
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "method not allowed",
			HTTPStatus: http.StatusMethodNotAllowed,
		})
		return
	}

	var req llm.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "invalid request body: " + err.Error(),
			HTTPStatus: http.StatusBadRequest,
		})
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "messages must not be empty",
			HTTPStatus: http.StatusBadRequest,
		})
		return
	}

	// 请求体未携带时从上下文补全追踪与租户信息
	if req.TraceID == "" {
		if id, ok := ctxkeys.RequestID(r.Context()); ok {
			req.TraceID = id
		}
	}
	if req.TenantID == "" {
		if tenant, ok := ctxkeys.TenantID(r.Context()); ok {
			req.TenantID = tenant
		}
	}

	resp, err := s.dispatcher.Dispatch(r.Context(), &req)
	if err != nil {
		s.logger.Warn("Dispatch failed",
			zap.String("model", req.Model),
			zap.String("trace_id", req.TraceID),
			zap.Error(err))
		writeError(w, err)
		return
	}

	setCacheHeaders(w, resp)
	writeJSON(w, http.StatusOK, resp)
}

// setCacheHeaders 把调度器在 Metadata 中的缓存注解转成响应头。
func setCacheHeaders(w http.ResponseWriter, resp *llm.ChatResponse) {
	if resp.Metadata == nil {
		return
	}
	if v, ok := resp.Metadata[dispatch.MetaCache]; ok {
		w.Header().Set("X-Gateflow-Cache", v)
	}
	if v, ok := resp.Metadata[dispatch.MetaCacheTier]; ok {
		w.Header().Set("X-Gateflow-Cache-Tier", v)
	}
	if v, ok := resp.Metadata[dispatch.MetaCacheMatch]; ok {
		w.Header().Set("X-Gateflow-Cache-Match", v)
	}
	if v, ok := resp.Metadata[dispatch.MetaApproximate]; ok {
		w.Header().Set("X-Gateflow-Cache-Approximate", v)
	}
}

// handleCacheInvalidate 按请求指纹精确失效缓存条目。
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "method not allowed",
			HTTPStatus: http.StatusMethodNotAllowed,
		})
		return
	}

	var req llm.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "invalid request body: " + err.Error(),
			HTTPStatus: http.StatusBadRequest,
		})
		return
	}

	if err := s.dispatcher.Invalidate(r.Context(), &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// handleProvidersHealth 输出全部上游的熔断与健康快照。
func (s *Server) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	type providerHealth struct {
		Provider            string  `json:"provider"`
		State               string  `json:"state"`
		SuccessRate         float64 `json:"success_rate"`
		LatencyMS           int64   `json:"latency_ms"`
		ConsecutiveFailures int     `json:"consecutive_failures"`
		LastFailureAt       string  `json:"last_failure_at,omitempty"`
	}

	snapshots := s.tracker.SnapshotAll()
	out := make([]providerHealth, 0, len(snapshots))
	for _, snap := range snapshots {
		ph := providerHealth{
			Provider:            snap.Provider,
			State:               snap.State.String(),
			SuccessRate:         snap.SuccessRate,
			LatencyMS:           snap.Latency.Milliseconds(),
			ConsecutiveFailures: snap.ConsecutiveFailures,
		}
		if !snap.LastFailureAt.IsZero() {
			ph.LastFailureAt = snap.LastFailureAt.Format(time.RFC3339)
		}
		out = append(out, ph)
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// handleHealthz 存活探针。进程在即返回 ok。
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz 就绪探针。共享层启用但 Redis 不可达时仍然就绪，
// 缓存层级会自动降级，不应因此摘除实例。
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.cacheManager != nil {
		resp["redis_healthy"] = s.cacheManager.Healthy()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVersion 版本信息。
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 把调度错误映射成 HTTP 响应。非 llm.Error 的错误
// 一律按上游错误处理。
func writeError(w http.ResponseWriter, err error) {
	var llmErr *llm.Error
	switch {
	case errors.As(err, &llmErr):
		// 带类型的上游错误原样透出
	case errors.Is(err, llm.ErrNoProviderAvailable):
		// 候选集为空：没有任何上游被调用过，区别于上游故障
		llmErr = &llm.Error{
			Code:       llm.ErrRoutingUnavailable,
			Message:    err.Error(),
			HTTPStatus: http.StatusServiceUnavailable,
			Retryable:  true,
		}
	default:
		llmErr = &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
		}
	}

	status := llmErr.HTTPStatus
	if status == 0 {
		status = http.StatusBadGateway
	}
	if llmErr.Retryable {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":      string(llmErr.Code),
			"message":   llmErr.Message,
			"provider":  llmErr.Provider,
			"retryable": llmErr.Retryable,
		},
	})
}
