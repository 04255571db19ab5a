package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/BaSui01/gateflow/llm"
)

// Fingerprint 是请求的复合缓存键。
// ExactHash 恒定存在；Embedding 只有在嵌入能力成功返回后才被填充，
// 缺失时仅意味着该请求不参与语义匹配，不构成错误。
type Fingerprint struct {
	ExactHash  string    // 规范化请求的 SHA-256（前 16 字节，十六进制）
	Embedding  []float32 // 语义向量，可能为空
	Capability string    // 能力标签
}

// HasEmbedding 判断指纹是否携带语义向量。
func (f *Fingerprint) HasEmbedding() bool { return len(f.Embedding) > 0 }

// WithEmbedding 返回携带给定向量的指纹副本。
func (f Fingerprint) WithEmbedding(vec []float32) Fingerprint {
	f.Embedding = vec
	return f
}

// Generate 从规范化请求派生指纹。
// 两个不变量：相同逻辑内容的请求产生相同 ExactHash（与字段顺序、
// JSON 键序、TraceID 等携带字段无关）；不同租户或能力标签的请求
// 落在不同的键空间。
func Generate(req *llm.ChatRequest) Fingerprint {
	data := marshalCanonical(req)
	sum := sha256.Sum256(data)
	return Fingerprint{
		ExactHash:  hex.EncodeToString(sum[:16]), // 前 16 字节足够避免碰撞
		Capability: req.CapabilityOrDefault(),
	}
}

// SemanticText 拼接对话内容，作为嵌入计算的输入。
// 输出稳定：同一消息序列总是得到同一文本。
func SemanticText(req *llm.ChatRequest) string {
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
