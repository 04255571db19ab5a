package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// 模型名到 tiktoken 编码的映射，支持前缀匹配。
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// Tiktoken 基于 pkoukk/tiktoken-go 的精确计数器。
// 编码表惰性初始化（首次使用时可能触发数据下载），
// 初始化失败的错误会被缓存并在每次计数时返回。
type Tiktoken struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

// newTiktoken 为模型创建精确计数器，未知模型返回 ok=false。
func newTiktoken(model string) (*Tiktoken, bool) {
	enc, ok := modelEncodings[model]
	if !ok {
		for prefix, e := range modelEncodings {
			if strings.HasPrefix(model, prefix) {
				enc, ok = e, true
				break
			}
		}
	}
	if !ok {
		return nil, false
	}
	return &Tiktoken{encoding: enc}, true
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *Tiktoken) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) CountMessages(messages []Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	total := 0
	for _, msg := range messages {
		// 每条消息的固定开销: <|start|>role\n content<|end|>\n
		total += 4
		total += len(t.enc.Encode(msg.Role, nil, nil))
		total += len(t.enc.Encode(msg.Content, nil, nil))
	}
	total += 3 // 会话收尾开销
	return total, nil
}

func (t *Tiktoken) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
