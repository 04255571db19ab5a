package dispatch

import "sync"

// embedMemo 是进程内的 哈希→向量 备忘录。嵌入在响应返回后异步
// 生成，下一次相同语义文本的请求到来时从这里取回向量，使共享层
// 的语义检索无需在查找路径上同步调用嵌入服务。
//
// 容量满时按插入顺序淘汰最旧条目。
type embedMemo struct {
	mu      sync.Mutex
	entries map[string][]float32
	order   []string
	cap     int
}

func newEmbedMemo(capacity int) *embedMemo {
	if capacity <= 0 {
		capacity = 4096
	}
	return &embedMemo{
		entries: make(map[string][]float32, capacity),
		cap:     capacity,
	}
}

func (m *embedMemo) get(hash string) ([]float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.entries[hash]
	return vec, ok
}

func (m *embedMemo) put(hash string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[hash]; !exists {
		for len(m.order) >= m.cap {
			oldest := m.order[0]
			m.order = m.order[1:]
			delete(m.entries, oldest)
		}
		m.order = append(m.order, hash)
	}
	m.entries[hash] = vec
}

func (m *embedMemo) forget(hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, hash)
}

func (m *embedMemo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
