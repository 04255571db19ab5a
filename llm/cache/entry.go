package cache

import (
	"context"
	"time"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/fingerprint"
)

// Outcome 是单层查找的封闭三态结果。
type Outcome int

const (
	OutcomeHit Outcome = iota
	OutcomeMiss
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeMiss:
		return "miss"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Origin 标识条目命中所在的缓存层。
type Origin string

const (
	OriginHot     Origin = "hot"
	OriginShared  Origin = "shared"
	OriginArchive Origin = "archive"
)

// MatchKind 区分精确命中与语义近邻命中。
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchSemantic MatchKind = "semantic"
)

// Entry 是缓存条目。Key 始终是条目自身的指纹：语义命中返回的
// 条目仍然挂在原始请求的哈希之下，回写时也沿用原键，近似匹配
// 不会污染精确键空间。Response 按只读约定共享。
type Entry struct {
	Key        fingerprint.Fingerprint `json:"key"`
	Response   *llm.ChatResponse       `json:"response"`
	CreatedAt  time.Time               `json:"created_at"`
	ExpiresAt  time.Time               `json:"expires_at"`
	TierOrigin Origin                  `json:"tier_origin,omitempty"`
	Match      MatchKind               `json:"match,omitempty"`
	HitCount   int64                   `json:"hit_count"`
}

// Expired 判断条目在给定时刻是否已过期。零值 ExpiresAt 视为不过期。
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Tier 是单个缓存层的统一接口。Get 的 Unavailable 结果表示
// 后端不可达（区别于未命中），实现方自行记录错误细节。
type Tier interface {
	Name() string
	Get(ctx context.Context, key fingerprint.Fingerprint) (*Entry, Outcome)
	Put(ctx context.Context, entry *Entry) error
	Invalidate(ctx context.Context, key fingerprint.Fingerprint) error
}

// TaskRunner 承接缓存的后台任务（写回、计数）。满载或关闭时
// Submit 返回错误，调用方丢弃任务并记录指标，绝不阻塞热路径。
type TaskRunner interface {
	Submit(task func()) error
}
