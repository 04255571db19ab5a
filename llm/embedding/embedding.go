// Package embedding 提供语义缓存消费的嵌入能力边界。
// 嵌入计算只发生在响应后的异步路径上，永远不阻塞同步响应；
// 嵌入不可用仅意味着对应条目不参与语义匹配，不构成错误。
package embedding

import (
	"context"
	"time"
)

// Provider 统一的嵌入提供者接口。
type Provider interface {
	// Embed 为给定文本批量生成嵌入向量。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions 返回输出向量维度。
	Dimensions() int

	// Name 返回提供者名称。
	Name() string
}

// Config OpenAI 兼容嵌入端点的配置。
type Config struct {
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig 默认配置。
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://api.openai.com",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    10 * time.Second,
	}
}

// EmbedOne 是嵌入单条文本的便捷封装。
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, ErrEmptyResponse
	}
	return vecs[0], nil
}
