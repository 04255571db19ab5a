package llm

import (
	"context"
	"errors"
)

// 缓存与路由层共享的降级分类。核心路径上没有致命错误：
// 每一类都对应一条明确的降级路线，只有 ErrNoProviderAvailable
// 和超时耗尽会暴露给调用方。
var (
	// ErrNoProviderAvailable 表示候选集为空或全部耗尽（含熔断排除）。
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrCacheUnavailable 表示某缓存层后端不可达，该层按未命中处理。
	ErrCacheUnavailable = errors.New("cache tier unavailable")

	// ErrEmbeddingUnavailable 表示嵌入能力暂不可用，仅禁用该条目的语义缓存。
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)

// IsRetryable 判断上游调用错误是否值得切换候选重试。
// 超时一律可重试；类型化错误按 Retryable 标记执行。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable
	}
	return true
}

// IsClientError 判断错误是否由请求方导致（4xx，限流除外）。
// 这类错误不反映 Provider 的健康状况，不计入熔断统计。
func IsClientError(err error) bool {
	var le *Error
	if !errors.As(err, &le) {
		return false
	}
	switch le.Code {
	case ErrInvalidRequest, ErrUnauthorized, ErrForbidden:
		return true
	}
	return le.HTTPStatus >= 400 && le.HTTPStatus < 500 && le.Code != ErrRateLimited
}
