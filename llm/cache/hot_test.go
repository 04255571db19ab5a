package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/gateflow/llm"
	"github.com/BaSui01/gateflow/llm/fingerprint"
)

func testEntry(hash string) *Entry {
	return &Entry{
		Key: fingerprint.Fingerprint{ExactHash: hash, Capability: "chat"},
		Response: &llm.ChatResponse{
			Model:   "gpt-4o",
			Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: "answer-" + hash}}},
		},
		CreatedAt: time.Now(),
	}
}

func keyOf(hash string) fingerprint.Fingerprint {
	return fingerprint.Fingerprint{ExactHash: hash, Capability: "chat"}
}

// --- 基本读写 ---

func TestHotTier_PutGet(t *testing.T) {
	tier := NewHotTier(HotConfig{Capacity: 8, TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("k1")))

	entry, outcome := tier.Get(ctx, keyOf("k1"))
	require.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, OriginHot, entry.TierOrigin)
	assert.Equal(t, MatchExact, entry.Match)
	assert.Equal(t, "answer-k1", entry.Response.Choices[0].Message.Content)
}

func TestHotTier_MissOnUnknown(t *testing.T) {
	tier := NewHotTier(HotConfig{Capacity: 8, TTL: time.Minute})

	entry, outcome := tier.Get(context.Background(), keyOf("nope"))
	assert.Equal(t, OutcomeMiss, outcome)
	assert.Nil(t, entry)
}

func TestHotTier_UpdateExisting(t *testing.T) {
	tier := NewHotTier(HotConfig{Capacity: 8, TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("k1")))
	updated := testEntry("k1")
	updated.Response.Choices[0].Message.Content = "updated"
	require.NoError(t, tier.Put(ctx, updated))

	entry, outcome := tier.Get(ctx, keyOf("k1"))
	require.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, "updated", entry.Response.Choices[0].Message.Content)
	assert.Equal(t, 1, tier.Stats().Size)
}

// --- 绝对过期 ---

func TestHotTier_AbsoluteExpiry(t *testing.T) {
	tier := NewHotTier(HotConfig{Capacity: 8, TTL: 30 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("k1")))

	// 过期前频繁命中
	for i := 0; i < 3; i++ {
		_, outcome := tier.Get(ctx, keyOf("k1"))
		require.Equal(t, OutcomeHit, outcome)
	}

	// 频繁访问不能续命：TTL 后必须失效
	time.Sleep(60 * time.Millisecond)
	_, outcome := tier.Get(ctx, keyOf("k1"))
	assert.Equal(t, OutcomeMiss, outcome)
}

// --- LRU 淘汰 ---

func TestHotTier_LRUEviction(t *testing.T) {
	tier := NewHotTier(HotConfig{Capacity: 2, TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("a")))
	require.NoError(t, tier.Put(ctx, testEntry("b")))

	// 触碰 a，使 b 成为最久未使用
	_, outcome := tier.Get(ctx, keyOf("a"))
	require.Equal(t, OutcomeHit, outcome)

	require.NoError(t, tier.Put(ctx, testEntry("c")))

	_, outcome = tier.Get(ctx, keyOf("b"))
	assert.Equal(t, OutcomeMiss, outcome, "least-recently-used entry must be evicted")
	_, outcome = tier.Get(ctx, keyOf("a"))
	assert.Equal(t, OutcomeHit, outcome)
	_, outcome = tier.Get(ctx, keyOf("c"))
	assert.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, int64(1), tier.Stats().Evictions)
}

func TestHotTier_Invalidate(t *testing.T) {
	tier := NewHotTier(HotConfig{Capacity: 8, TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("k1")))
	require.NoError(t, tier.Invalidate(ctx, keyOf("k1")))

	_, outcome := tier.Get(ctx, keyOf("k1"))
	assert.Equal(t, OutcomeMiss, outcome)

	// 幂等：再次失效不报错
	assert.NoError(t, tier.Invalidate(ctx, keyOf("k1")))
}

func TestHotTier_Stats(t *testing.T) {
	tier := NewHotTier(HotConfig{Capacity: 4, TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, testEntry("k1")))
	tier.Get(ctx, keyOf("k1"))
	tier.Get(ctx, keyOf("missing"))

	stats := tier.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 4, stats.Capacity)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

// --- 属性测试 ---

func TestProperty_HotTier_CapacityNeverExceeded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 16).Draw(rt, "capacity")
		tier := NewHotTier(HotConfig{Capacity: capacity, TTL: time.Minute})
		ctx := context.Background()

		ops := rapid.IntRange(1, 100).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			hash := fmt.Sprintf("k%d", rapid.IntRange(0, 31).Draw(rt, "key"))
			if rapid.Bool().Draw(rt, "is_put") {
				require.NoError(t, tier.Put(ctx, testEntry(hash)))
			} else {
				tier.Get(ctx, keyOf(hash))
			}
			require.LessOrEqual(t, tier.Stats().Size, capacity)
		}
	})
}
