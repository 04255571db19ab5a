package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm/fingerprint"
)

// 🧪 SharedTier 测试

func setupTestShared(t *testing.T) (*miniredis.Miniredis, *SharedTier) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tier := NewSharedTier(client, nil, DefaultSharedConfig(), zap.NewNop())
	return mr, tier
}

// --- 精确命中 ---

func TestSharedTier_ExactPutGet(t *testing.T) {
	mr, tier := setupTestShared(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("k1")))

	entry, outcome := tier.Get(ctx, keyOf("k1"))
	require.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, OriginShared, entry.TierOrigin)
	assert.Equal(t, MatchExact, entry.Match)
	assert.Equal(t, "answer-k1", entry.Response.Choices[0].Message.Content)
}

func TestSharedTier_Miss(t *testing.T) {
	mr, tier := setupTestShared(t)
	defer mr.Close()

	entry, outcome := tier.Get(context.Background(), keyOf("unknown"))
	assert.Equal(t, OutcomeMiss, outcome)
	assert.Nil(t, entry)
}

func TestSharedTier_TTLExpiry(t *testing.T) {
	mr, tier := setupTestShared(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("k1")))

	mr.FastForward(2 * time.Hour)

	_, outcome := tier.Get(ctx, keyOf("k1"))
	assert.Equal(t, OutcomeMiss, outcome)
}

// --- 故障降级 ---

func TestSharedTier_UnavailableWhenDown(t *testing.T) {
	mr, tier := setupTestShared(t)
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("k1")))
	mr.Close()

	entry, outcome := tier.Get(ctx, keyOf("k1"))
	assert.Equal(t, OutcomeUnavailable, outcome)
	assert.Nil(t, entry)
}

func TestSharedTier_PutErrorWhenDown(t *testing.T) {
	mr, tier := setupTestShared(t)
	mr.Close()

	err := tier.Put(context.Background(), testEntry("k1"))
	assert.Error(t, err)
}

// --- 语义检索 ---

func semanticEntry(hash string, vec []float32) *Entry {
	e := testEntry(hash)
	e.Key = e.Key.WithEmbedding(vec)
	return e
}

func TestSharedTier_SemanticHit(t *testing.T) {
	mr, tier := setupTestShared(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, semanticEntry("orig", []float32{1, 0, 0})))

	// 不同哈希、相近向量 → 语义命中
	probe := fingerprint.Fingerprint{ExactHash: "other", Capability: "chat"}.
		WithEmbedding([]float32{0.95, 0.05, 0})

	entry, outcome := tier.Get(ctx, probe)
	require.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, MatchSemantic, entry.Match)
	// 命中条目保留原始哈希，回填不得污染精确键空间
	assert.Equal(t, "orig", entry.Key.ExactHash)
	assert.Equal(t, "answer-orig", entry.Response.Choices[0].Message.Content)
}

func TestSharedTier_SemanticBelowThreshold(t *testing.T) {
	mr, tier := setupTestShared(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, semanticEntry("orig", []float32{1, 0, 0})))

	// 正交向量：相似度 0，远低于阈值
	probe := fingerprint.Fingerprint{ExactHash: "other", Capability: "chat"}.
		WithEmbedding([]float32{0, 1, 0})

	_, outcome := tier.Get(ctx, probe)
	assert.Equal(t, OutcomeMiss, outcome)
}

func TestSharedTier_SemanticCapabilityIsolation(t *testing.T) {
	mr, tier := setupTestShared(t)
	defer mr.Close()
	ctx := context.Background()

	orig := semanticEntry("orig", []float32{1, 0, 0})
	orig.Key.Capability = "chat"
	require.NoError(t, tier.Put(ctx, orig))

	// 相同向量、不同能力 → 不可跨界命中
	probe := fingerprint.Fingerprint{ExactHash: "other", Capability: "completion"}.
		WithEmbedding([]float32{1, 0, 0})

	_, outcome := tier.Get(ctx, probe)
	assert.Equal(t, OutcomeMiss, outcome)
}

func TestSharedTier_SemanticDisabled(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := DefaultSharedConfig()
	cfg.Semantic.Enabled = false
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tier := NewSharedTier(client, nil, cfg, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, semanticEntry("orig", []float32{1, 0, 0})))

	probe := fingerprint.Fingerprint{ExactHash: "other", Capability: "chat"}.
		WithEmbedding([]float32{1, 0, 0})

	_, outcome := tier.Get(ctx, probe)
	assert.Equal(t, OutcomeMiss, outcome)
}

func TestSharedTier_SemanticPicksNearest(t *testing.T) {
	mr, tier := setupTestShared(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, semanticEntry("far", []float32{0.7, 0.7, 0})))
	require.NoError(t, tier.Put(ctx, semanticEntry("near", []float32{1, 0, 0})))

	probe := fingerprint.Fingerprint{ExactHash: "other", Capability: "chat"}.
		WithEmbedding([]float32{0.99, 0.01, 0})

	entry, outcome := tier.Get(ctx, probe)
	require.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, "near", entry.Key.ExactHash)
}

// --- 失效与向量侧写 ---

func TestSharedTier_Invalidate(t *testing.T) {
	mr, tier := setupTestShared(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, semanticEntry("k1", []float32{1, 0, 0})))
	require.NoError(t, tier.Invalidate(ctx, keyOf("k1")))

	_, outcome := tier.Get(ctx, keyOf("k1"))
	assert.Equal(t, OutcomeMiss, outcome)

	// 向量侧写一并删除：语义探针也不可命中
	probe := fingerprint.Fingerprint{ExactHash: "other", Capability: "chat"}.
		WithEmbedding([]float32{1, 0, 0})
	_, outcome = tier.Get(ctx, probe)
	assert.Equal(t, OutcomeMiss, outcome)
}

func TestSharedTier_AttachEmbedding(t *testing.T) {
	mr, tier := setupTestShared(t)
	defer mr.Close()
	ctx := context.Background()

	// 先写入无向量条目（嵌入是响应后异步补挂的）
	require.NoError(t, tier.Put(ctx, testEntry("k1")))

	key := keyOf("k1").WithEmbedding([]float32{1, 0, 0})
	require.NoError(t, tier.AttachEmbedding(ctx, key))

	probe := fingerprint.Fingerprint{ExactHash: "other", Capability: "chat"}.
		WithEmbedding([]float32{0.98, 0.02, 0})

	entry, outcome := tier.Get(ctx, probe)
	require.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, MatchSemantic, entry.Match)
	assert.Equal(t, "k1", entry.Key.ExactHash)
}

func TestSharedTier_AttachEmbeddingEntryGone(t *testing.T) {
	mr, tier := setupTestShared(t)
	defer mr.Close()

	// 条目不存在时补挂应安静跳过
	key := keyOf("ghost").WithEmbedding([]float32{1, 0, 0})
	assert.NoError(t, tier.AttachEmbedding(context.Background(), key))
	assert.False(t, mr.Exists(tier.vectorKey("ghost")))
}

// --- 余弦相似度 ---

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
		{"dimension mismatch", []float32{1, 0}, []float32{1}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

// --- 后台命中计数 ---

// countingRunner 同步执行任务并记录提交次数
type countingRunner struct {
	submitted int
}

func (r *countingRunner) Submit(task func()) error {
	r.submitted++
	task()
	return nil
}

func TestSharedTier_HitBumpGoesThroughRunner(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	runner := &countingRunner{}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tier := NewSharedTier(client, runner, DefaultSharedConfig(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("k1")))

	_, outcome := tier.Get(ctx, keyOf("k1"))
	require.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, 1, runner.submitted)

	_, outcome = tier.Get(ctx, keyOf("k1"))
	require.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, 2, runner.submitted)
}

func TestSharedTier_HitSurvivesSaturatedRunner(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tier := NewSharedTier(client, fullRunner{}, DefaultSharedConfig(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("k1")))

	// 队列满时计数任务被丢弃，查找照常命中
	entry, outcome := tier.Get(ctx, keyOf("k1"))
	require.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, "answer-k1", entry.Response.Choices[0].Message.Content)
}
