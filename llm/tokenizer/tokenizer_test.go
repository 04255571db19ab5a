package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 估算器 ---

func TestEstimator_ASCII(t *testing.T) {
	e := NewEstimator()

	n, err := e.CountTokens("hello world this is a test sentence")
	require.NoError(t, err)
	// 35 ASCII 字符 / 4 ≈ 8
	assert.InDelta(t, 8, n, 2)
}

func TestEstimator_CJK(t *testing.T) {
	e := NewEstimator()

	n, err := e.CountTokens("这是一段中文测试文本")
	require.NoError(t, err)
	// 10 个 CJK 字符 / 1.5 ≈ 6
	assert.InDelta(t, 6, n, 2)
}

func TestEstimator_Empty(t *testing.T) {
	e := NewEstimator()

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEstimator_NonEmptyAtLeastOne(t *testing.T) {
	e := NewEstimator()

	n, err := e.CountTokens("a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimator()

	msgs := []Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "hello"},
	}
	n, err := e.CountMessages(msgs)
	require.NoError(t, err)

	c1, _ := e.CountTokens(msgs[0].Content)
	c2, _ := e.CountTokens(msgs[1].Content)
	// 每条消息 +4 开销，收尾 +3
	assert.Equal(t, c1+c2+4*2+3, n)
}

// --- 模型选择 ---

func TestForModel_KnownModelUsesTiktoken(t *testing.T) {
	c := ForModel("gpt-4o")
	assert.Equal(t, "tiktoken[o200k_base]", c.Name())
}

func TestForModel_PrefixMatch(t *testing.T) {
	c := ForModel("gpt-4o-2024-11-20")
	assert.Equal(t, "tiktoken[o200k_base]", c.Name())
}

func TestForModel_UnknownFallsBackToEstimator(t *testing.T) {
	c := ForModel("claude-sonnet-4")
	assert.Equal(t, "estimator", c.Name())
}
