package fingerprint

import (
	"encoding/json"
	"sort"

	"github.com/BaSui01/gateflow/llm"
)

// 规范化形态只保留影响模型输出的字段，字段顺序固定。
// TraceID、Timeout、Metadata 是携带信息，不参与缓存等价性；
// TenantID 参与哈希，保证缓存按租户隔离。
type canonicalRequest struct {
	Capability  string             `json:"capability"`
	TenantID    string             `json:"tenant_id"`
	Model       string             `json:"model"`
	Messages    []canonicalMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float32            `json:"temperature"`
	TopP        float32            `json:"top_p"`
	Stop        []string           `json:"stop"`
	Tools       []canonicalTool    `json:"tools"`
	ToolChoice  string             `json:"tool_choice"`
}

type canonicalMessage struct {
	Role    string              `json:"role"`
	Content string              `json:"content"`
	Name    string              `json:"name"`
	Calls   []canonicalToolCall `json:"calls"`
}

// 工具调用的运行期 ID（call_xxx）由上游随机分配，不代表语义差异，
// 故只保留名称与规范化后的参数。
type canonicalToolCall struct {
	Name string `json:"name"`
	Args string `json:"args"`
}

type canonicalTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  string `json:"parameters"`
}

func marshalCanonical(req *llm.ChatRequest) []byte {
	cr := canonicalRequest{
		Capability:  req.CapabilityOrDefault(),
		TenantID:    req.TenantID,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		ToolChoice:  req.ToolChoice,
	}

	// 消息顺序即对话顺序，必须保留
	cr.Messages = make([]canonicalMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		cm := canonicalMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		}
		for _, tc := range m.ToolCalls {
			cm.Calls = append(cm.Calls, canonicalToolCall{
				Name: tc.Name,
				Args: normalizeJSON(tc.Arguments),
			})
		}
		cr.Messages = append(cr.Messages, cm)
	}

	// 停止序列是集合语义，排序副本以消除顺序差异
	if len(req.Stop) > 0 {
		cr.Stop = append([]string(nil), req.Stop...)
		sort.Strings(cr.Stop)
	}

	// 工具定义按名称排序
	if len(req.Tools) > 0 {
		cr.Tools = make([]canonicalTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			cr.Tools = append(cr.Tools, canonicalTool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  normalizeJSON(t.Parameters),
			})
		}
		sort.Slice(cr.Tools, func(i, j int) bool { return cr.Tools[i].Name < cr.Tools[j].Name })
	}

	data, err := json.Marshal(cr)
	if err != nil {
		// canonicalRequest 只含可序列化字段，正常不可达
		return []byte(req.Model)
	}
	return data
}

// normalizeJSON 把原始 JSON 重排为键序无关的规范形态。
// encoding/json 对 map 按键排序输出，借此消除键序差异；
// 无法解析时原样返回，保持确定性。
func normalizeJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
