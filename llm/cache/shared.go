package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/fingerprint"
)

// SemanticConfig 语义近邻查找配置
type SemanticConfig struct {
	Enabled       bool    // 是否启用语义匹配
	Threshold     float64 // 余弦相似度阈值，低于阈值不视为命中
	MaxCandidates int     // 单次近邻扫描的候选上限
	ScanCount     int64   // 每轮 SCAN 的 COUNT 提示值
}

// SharedConfig Shared 层配置
type SharedConfig struct {
	TTL       time.Duration
	KeyPrefix string
	Semantic  SemanticConfig
}

// DefaultSharedConfig 默认配置
func DefaultSharedConfig() SharedConfig {
	return SharedConfig{
		TTL:       time.Hour,
		KeyPrefix: "gateflow:cache:",
		Semantic: SemanticConfig{
			Enabled:       true,
			Threshold:     0.85,
			MaxCandidates: 512,
			ScanCount:     256,
		},
	}
}

// SharedTier 跨实例共享层，Redis 后端。
// 查找分两步：先按精确哈希 GET；未命中且请求携带向量时，
// 扫描向量边车键做余弦近邻匹配，相似度达到阈值才算命中，
// 同分时取 CreatedAt 最新的条目。后端不可达返回 Unavailable。
type SharedTier struct {
	client *redis.Client
	runner TaskRunner
	cfg    SharedConfig
	logger *zap.Logger
}

// Redis 中的条目载荷。过期由 Redis TTL 负责，ExpiresAt 仅随条目
// 携带供上层参考。
type sharedPayload struct {
	Response   *llm.ChatResponse `json:"response"`
	Capability string            `json:"capability,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	HitCount   int64             `json:"hit_count"`
}

// 向量边车载荷：与条目同哈希、同 TTL，单独存放以便近邻扫描时
// 不用拉取完整响应。
type vectorPayload struct {
	Vector     []float32 `json:"vector"`
	Capability string    `json:"capability,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewSharedTier 创建 Shared 层。runner 承接命中计数等后台任务，
// 为 nil 时直接起 goroutine。
func NewSharedTier(client *redis.Client, runner TaskRunner, cfg SharedConfig, logger *zap.Logger) *SharedTier {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSharedConfig().TTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultSharedConfig().KeyPrefix
	}
	if cfg.Semantic.MaxCandidates <= 0 {
		cfg.Semantic.MaxCandidates = DefaultSharedConfig().Semantic.MaxCandidates
	}
	if cfg.Semantic.ScanCount <= 0 {
		cfg.Semantic.ScanCount = DefaultSharedConfig().Semantic.ScanCount
	}
	return &SharedTier{
		client: client,
		runner: runner,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache_shared")),
	}
}

// submit 把后台任务交给受限的工作池，满载时丢弃。
// 命中计数只是尽力而为，突发流量不能换来无界 goroutine。
func (t *SharedTier) submit(task func()) {
	if t.runner == nil {
		go task()
		return
	}
	if err := t.runner.Submit(task); err != nil {
		t.logger.Debug("background cache task dropped", zap.Error(err))
	}
}

func (t *SharedTier) Name() string { return string(OriginShared) }

func (t *SharedTier) entryKey(hash string) string  { return t.cfg.KeyPrefix + hash }
func (t *SharedTier) vectorKey(hash string) string { return t.cfg.KeyPrefix + "vec:" + hash }

// Get 精确查找，未命中时按需降级到语义近邻。
func (t *SharedTier) Get(ctx context.Context, key fingerprint.Fingerprint) (*Entry, Outcome) {
	data, err := t.client.Get(ctx, t.entryKey(key.ExactHash)).Bytes()
	switch {
	case err == nil:
		entry, ok := t.decodeEntry(key.ExactHash, data)
		if !ok {
			return nil, OutcomeMiss
		}
		entry.Match = MatchExact
		// 异步更新命中计数，不阻塞查找
		t.submit(func() { t.bumpHitCount(key.ExactHash) })
		return entry, OutcomeHit

	case errors.Is(err, redis.Nil):
		if t.cfg.Semantic.Enabled && key.HasEmbedding() {
			if entry := t.semanticSearch(ctx, key); entry != nil {
				return entry, OutcomeHit
			}
		}
		return nil, OutcomeMiss

	default:
		t.logger.Warn("shared tier unreachable", zap.Error(err))
		return nil, OutcomeUnavailable
	}
}

// Put 写入条目；携带向量时同步写入边车键，TTL 与条目一致。
func (t *SharedTier) Put(ctx context.Context, entry *Entry) error {
	payload := sharedPayload{
		Response:   entry.Response,
		Capability: entry.Key.Capability,
		CreatedAt:  entry.CreatedAt,
		ExpiresAt:  time.Now().Add(t.cfg.TTL),
		HitCount:   entry.HitCount,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := t.client.Set(ctx, t.entryKey(entry.Key.ExactHash), data, t.cfg.TTL).Err(); err != nil {
		t.logger.Warn("shared tier set failed", zap.Error(err))
		return err
	}

	if entry.Key.HasEmbedding() {
		vec, err := json.Marshal(vectorPayload{
			Vector:     entry.Key.Embedding,
			Capability: entry.Key.Capability,
			CreatedAt:  entry.CreatedAt,
		})
		if err != nil {
			return err
		}
		if err := t.client.Set(ctx, t.vectorKey(entry.Key.ExactHash), vec, t.cfg.TTL).Err(); err != nil {
			t.logger.Warn("vector sidecar set failed", zap.Error(err))
			return err
		}
	}
	return nil
}

// Invalidate 删除条目及其向量边车。
func (t *SharedTier) Invalidate(ctx context.Context, key fingerprint.Fingerprint) error {
	return t.client.Del(ctx, t.entryKey(key.ExactHash), t.vectorKey(key.ExactHash)).Err()
}

// AttachEmbedding 为已存在的条目补写向量边车（响应后异步补全路径）。
// TTL 对齐条目剩余存活时间，边车不会比条目活得更久。
func (t *SharedTier) AttachEmbedding(ctx context.Context, key fingerprint.Fingerprint) error {
	if !key.HasEmbedding() {
		return nil
	}
	remaining, err := t.client.TTL(ctx, t.entryKey(key.ExactHash)).Result()
	if err != nil {
		return err
	}
	if remaining <= 0 {
		// 条目已不存在或无 TTL，边车没有意义
		return nil
	}
	vec, err := json.Marshal(vectorPayload{
		Vector:     key.Embedding,
		Capability: key.Capability,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		return err
	}
	return t.client.Set(ctx, t.vectorKey(key.ExactHash), vec, remaining).Err()
}

func (t *SharedTier) decodeEntry(hash string, data []byte) (*Entry, bool) {
	var payload sharedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.logger.Warn("corrupt cache payload dropped", zap.String("hash", hash), zap.Error(err))
		return nil, false
	}
	return &Entry{
		Key: fingerprint.Fingerprint{
			ExactHash:  hash,
			Capability: payload.Capability,
		},
		Response:   payload.Response,
		CreatedAt:  payload.CreatedAt,
		ExpiresAt:  payload.ExpiresAt,
		TierOrigin: OriginShared,
		HitCount:   payload.HitCount,
	}, true
}

// semanticCandidate 近邻扫描的中间结果
type semanticCandidate struct {
	hash      string
	score     float64
	createdAt time.Time
	vector    []float32
}

// semanticSearch 扫描向量边车，返回相似度最高且达到阈值的条目。
// 语义查找是尽力而为：扫描或读取失败只记日志并按未命中处理，
// 精确路径此前已确认后端可达。
func (t *SharedTier) semanticSearch(ctx context.Context, key fingerprint.Fingerprint) *Entry {
	pattern := t.cfg.KeyPrefix + "vec:*"
	iter := t.client.Scan(ctx, 0, pattern, t.cfg.Semantic.ScanCount).Iterator()

	keys := make([]string, 0, 64)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= t.cfg.Semantic.MaxCandidates {
			break
		}
	}
	if err := iter.Err(); err != nil {
		t.logger.Warn("vector scan failed", zap.Error(err))
		return nil
	}
	if len(keys) == 0 {
		return nil
	}

	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		t.logger.Warn("vector fetch failed", zap.Error(err))
		return nil
	}

	vecPrefix := t.cfg.KeyPrefix + "vec:"
	candidates := make([]semanticCandidate, 0, len(values))
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var vp vectorPayload
		if err := json.Unmarshal([]byte(s), &vp); err != nil {
			continue
		}
		// 能力标签不同的条目不参与近邻匹配
		if vp.Capability != "" && vp.Capability != key.Capability {
			continue
		}
		score := cosineSimilarity(key.Embedding, vp.Vector)
		if score < t.cfg.Semantic.Threshold {
			continue
		}
		candidates = append(candidates, semanticCandidate{
			hash:      strings.TrimPrefix(keys[i], vecPrefix),
			score:     score,
			createdAt: vp.CreatedAt,
			vector:    vp.Vector,
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	// 相似度降序，同分取最新条目
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].createdAt.After(candidates[j].createdAt)
	})

	// 边车可能比条目晚过期一瞬，逐个候选取条目，取到即止
	for i, cand := range candidates {
		if i >= 3 {
			break
		}
		data, err := t.client.Get(ctx, t.entryKey(cand.hash)).Bytes()
		if err != nil {
			continue
		}
		entry, ok := t.decodeEntry(cand.hash, data)
		if !ok {
			continue
		}
		entry.Key.Embedding = cand.vector
		entry.Match = MatchSemantic
		t.logger.Debug("semantic cache hit",
			zap.String("hash", cand.hash),
			zap.Float64("score", cand.score),
		)
		hash := cand.hash
		t.submit(func() { t.bumpHitCount(hash) })
		return entry
	}
	return nil
}

// bumpHitCount 通过 Lua 脚本在 Redis 内原子更新命中计数，
// 保留剩余 TTL。
func (t *SharedTier) bumpHitCount(hash string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	script := redis.NewScript(`
		local key = KEYS[1]
		local data = redis.call('GET', key)
		if data then
			local entry = cjson.decode(data)
			entry.hit_count = (entry.hit_count or 0) + 1
			local ttl = redis.call('TTL', key)
			if ttl > 0 then
				redis.call('SET', key, cjson.encode(entry), 'EX', ttl)
			end
		end
		return 1
	`)
	if err := script.Run(ctx, t.client, []string{t.entryKey(hash)}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		t.logger.Debug("hit count bump failed", zap.Error(err))
	}
}

// cosineSimilarity 计算两个向量的余弦相似度，维度不一致或零向量返回 0。
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
