package coalesce

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/gateflow/llm"
)

// Fetch 是被合并的上游调用。传入的 context 已与发起者的取消
// 解耦（仅保留值），实现方必须自行施加超时约束。
type Fetch func(ctx context.Context) (*llm.ChatResponse, error)

// Group 按键合并并发调用。零值不可用，使用 NewGroup 创建。
type Group struct {
	sf singleflight.Group
}

// NewGroup 创建请求合并组。
func NewGroup() *Group {
	return &Group{}
}

// Do 以 key 为合并键执行 fn。同键并发调用只有一个 leader 真正
// 执行，其余调用共享其结果，shared 标记本次结果是否来自共享。
//
// 等待期间 ctx 取消时本调用立即返回 ctx.Err()，在途的上游调用
// 不受影响；fn 收到的 context 已剥离取消信号，即便全部等待者
// 离场，调用也会完成并让结果落入缓存。
//
// 返回的响应在等待者之间共享，调用方不得原地修改。
func (g *Group) Do(ctx context.Context, key string, fn Fetch) (resp *llm.ChatResponse, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*llm.ChatResponse), res.Shared, nil
	}
}

// Forget 丢弃在途键：之后的 Do 不再加入当前调用，而是发起新的
// 计算。缓存失效时联动调用，避免等待者拿到刚被作废的结果。
func (g *Group) Forget(key string) {
	g.sf.Forget(key)
}
