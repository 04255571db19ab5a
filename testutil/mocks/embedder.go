// MockEmbedder 的嵌入客户端测试模拟实现。
//
// 返回确定性向量，同一文本总得到同一向量，便于语义缓存测试。
package mocks

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockEmbedder 是 embedding.Provider 的模拟实现
type MockEmbedder struct {
	mu sync.RWMutex

	dims    int
	vectors map[string][]float32 // 显式预置的向量
	err     error

	callCount int
}

// NewMockEmbedder 创建新的 MockEmbedder
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 8
	}
	return &MockEmbedder{
		dims:    dims,
		vectors: make(map[string][]float32),
	}
}

// WithVector 为指定文本预置向量。未预置的文本走确定性哈希生成。
func (m *MockEmbedder) WithVector(text string, vec []float32) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vec
	return m
}

// WithError 设置返回错误
func (m *MockEmbedder) WithError(err error) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Dimensions 返回输出向量维度
func (m *MockEmbedder) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dims
}

// Embed 为给定文本批量生成嵌入向量
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++

	if m.err != nil {
		return nil, m.err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := m.vectors[text]; ok {
			out[i] = vec
			continue
		}
		out[i] = deterministicVector(text, m.dims)
	}
	return out, nil
}

// GetCallCount 获取调用次数
func (m *MockEmbedder) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// deterministicVector 从文本哈希生成归一化向量
func deterministicVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>16)) / float64(1<<47)
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}
