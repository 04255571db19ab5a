package cache

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/gateflow/llm/fingerprint"
)

// HotConfig Hot 层配置
type HotConfig struct {
	Capacity int           // 最大条目数，超出时淘汰最久未使用
	TTL      time.Duration // 绝对过期时间，与访问频率无关
}

// DefaultHotConfig 默认配置
func DefaultHotConfig() HotConfig {
	return HotConfig{
		Capacity: 2048,
		TTL:      5 * time.Minute,
	}
}

// HotTier 进程内缓存层：双向链表 + 哈希表实现 O(1) 的 LRU，
// 叠加绝对过期——条目即便被频繁命中也会在 TTL 后失效，
// 因为上游答案可能已经变化。进程内无后端，永不返回 Unavailable。
type HotTier struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*hotNode
	head     *hotNode // 最近使用
	tail     *hotNode // 最久未使用

	hits      int64
	misses    int64
	evictions int64
}

type hotNode struct {
	key       string
	entry     *Entry
	expiresAt time.Time // 绝对过期，写入时刻起算
	prev      *hotNode
	next      *hotNode
}

// NewHotTier 创建 Hot 层。
func NewHotTier(cfg HotConfig) *HotTier {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultHotConfig().Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultHotConfig().TTL
	}
	return &HotTier{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		items:    make(map[string]*hotNode),
	}
}

func (t *HotTier) Name() string { return string(OriginHot) }

// Get 精确查找。命中时返回条目副本并把节点移到链表头部。
func (t *HotTier) Get(_ context.Context, key fingerprint.Fingerprint) (*Entry, Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.items[key.ExactHash]
	if !ok {
		t.misses++
		return nil, OutcomeMiss
	}

	// 绝对过期检查
	if time.Now().After(node.expiresAt) {
		t.removeNode(node)
		delete(t.items, node.key)
		t.misses++
		return nil, OutcomeMiss
	}

	t.moveToHead(node)
	node.entry.HitCount++
	t.hits++

	out := *node.entry
	out.TierOrigin = OriginHot
	out.Match = MatchExact
	return &out, OutcomeHit
}

// Put 写入条目。已存在则更新并刷新过期时间，容量满时先淘汰尾部。
func (t *HotTier) Put(_ context.Context, entry *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	hash := entry.Key.ExactHash
	if node, ok := t.items[hash]; ok {
		node.entry = entry
		node.expiresAt = time.Now().Add(t.ttl)
		t.moveToHead(node)
		return nil
	}

	if len(t.items) >= t.capacity {
		t.evictTail()
	}

	node := &hotNode{
		key:       hash,
		entry:     entry,
		expiresAt: time.Now().Add(t.ttl),
	}
	t.items[hash] = node
	t.addToHead(node)
	return nil
}

// Invalidate 删除指定键。
func (t *HotTier) Invalidate(_ context.Context, key fingerprint.Fingerprint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node, ok := t.items[key.ExactHash]; ok {
		t.removeNode(node)
		delete(t.items, key.ExactHash)
	}
	return nil
}

// Clear 清空全部条目。
func (t *HotTier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items = make(map[string]*hotNode)
	t.head = nil
	t.tail = nil
}

// HotStats Hot 层统计
type HotStats struct {
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Stats 返回当前统计快照。
func (t *HotTier) Stats() HotStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return HotStats{
		Size:      len(t.items),
		Capacity:  t.capacity,
		Hits:      t.hits,
		Misses:    t.misses,
		Evictions: t.evictions,
	}
}

// addToHead 添加节点到头部 O(1)
func (t *HotTier) addToHead(node *hotNode) {
	node.prev = nil
	node.next = t.head
	if t.head != nil {
		t.head.prev = node
	}
	t.head = node
	if t.tail == nil {
		t.tail = node
	}
}

// removeNode 从链表中移除节点 O(1)
func (t *HotTier) removeNode(node *hotNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		t.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		t.tail = node.prev
	}
}

// moveToHead 移动节点到头部 O(1)
func (t *HotTier) moveToHead(node *hotNode) {
	if node == t.head {
		return
	}
	t.removeNode(node)
	t.addToHead(node)
}

// evictTail 淘汰尾部节点 O(1)
func (t *HotTier) evictTail() {
	if t.tail == nil {
		return
	}
	delete(t.items, t.tail.key)
	t.removeNode(t.tail)
	t.evictions++
}
