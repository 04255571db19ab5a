package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/fingerprint"
)

// ArchiveStore 是 Archive 层的抽象 KV 后端。层本身只做编解码
// 与过期判断，存储细节（SQL、文档库）留给实现。
type ArchiveStore interface {
	// Load 按哈希取载荷。未找到返回 ok=false 且 err=nil，
	// 后端不可达才返回非空 err。
	Load(ctx context.Context, hash string) (payload []byte, ok bool, err error)

	// Save 写入载荷，expiresAt 供后端建立自己的过期机制。
	Save(ctx context.Context, hash string, payload []byte, expiresAt time.Time) error

	// Delete 删除载荷，键不存在不算错误。
	Delete(ctx context.Context, hash string) error

	// Ping 探测后端可用性。
	Ping(ctx context.Context) error
}

// ArchiveConfig Archive 层配置
type ArchiveConfig struct {
	TTL time.Duration // 长尾条目存活时间
}

// DefaultArchiveConfig 默认配置
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{TTL: 720 * time.Hour}
}

// ArchiveTier 长尾容量层：纯 KV、无特殊查询能力，排在查找顺序最后。
type ArchiveTier struct {
	store  ArchiveStore
	ttl    time.Duration
	logger *zap.Logger
}

// 归档载荷：不保存向量，Archive 只服务精确查找。
type archivedEntry struct {
	Response   *llm.ChatResponse `json:"response"`
	Capability string            `json:"capability,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	HitCount   int64             `json:"hit_count"`
}

// NewArchiveTier 创建 Archive 层。
func NewArchiveTier(store ArchiveStore, cfg ArchiveConfig, logger *zap.Logger) *ArchiveTier {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultArchiveConfig().TTL
	}
	return &ArchiveTier{
		store:  store,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "cache_archive")),
	}
}

func (t *ArchiveTier) Name() string { return string(OriginArchive) }

// Get 精确查找。后端错误映射为 Unavailable，过期条目按未命中处理。
func (t *ArchiveTier) Get(ctx context.Context, key fingerprint.Fingerprint) (*Entry, Outcome) {
	payload, ok, err := t.store.Load(ctx, key.ExactHash)
	if err != nil {
		t.logger.Warn("archive tier unreachable", zap.Error(err))
		return nil, OutcomeUnavailable
	}
	if !ok {
		return nil, OutcomeMiss
	}

	var ae archivedEntry
	if err := json.Unmarshal(payload, &ae); err != nil {
		t.logger.Warn("corrupt archive payload dropped", zap.String("hash", key.ExactHash), zap.Error(err))
		return nil, OutcomeMiss
	}
	if !ae.ExpiresAt.IsZero() && time.Now().After(ae.ExpiresAt) {
		return nil, OutcomeMiss
	}

	return &Entry{
		Key: fingerprint.Fingerprint{
			ExactHash:  key.ExactHash,
			Capability: ae.Capability,
		},
		Response:   ae.Response,
		CreatedAt:  ae.CreatedAt,
		ExpiresAt:  ae.ExpiresAt,
		TierOrigin: OriginArchive,
		Match:      MatchExact,
		HitCount:   ae.HitCount,
	}, OutcomeHit
}

// Put 写入条目，按本层 TTL 计算过期时间。
func (t *ArchiveTier) Put(ctx context.Context, entry *Entry) error {
	expiresAt := time.Now().Add(t.ttl)
	payload, err := json.Marshal(archivedEntry{
		Response:   entry.Response,
		Capability: entry.Key.Capability,
		CreatedAt:  entry.CreatedAt,
		ExpiresAt:  expiresAt,
		HitCount:   entry.HitCount,
	})
	if err != nil {
		return err
	}
	if err := t.store.Save(ctx, entry.Key.ExactHash, payload, expiresAt); err != nil {
		t.logger.Warn("archive tier save failed", zap.Error(err))
		return err
	}
	return nil
}

// Invalidate 删除指定键。
func (t *ArchiveTier) Invalidate(ctx context.Context, key fingerprint.Fingerprint) error {
	return t.store.Delete(ctx, key.ExactHash)
}
