package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/gateflow/llm"
)

func stubResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:   "gpt-4o",
		Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}},
	}
}

// --- 并发合并 ---

func TestGroup_CoalescesConcurrentCalls(t *testing.T) {
	g := NewGroup()
	var calls atomic.Int64

	fn := func(ctx context.Context) (*llm.ChatResponse, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return stubResponse("shared answer"), nil
	}

	const waiters = 50
	var wg sync.WaitGroup
	var sharedCount atomic.Int64
	results := make([]*llm.ChatResponse, waiters)
	errs := make([]error, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, shared, err := g.Do(context.Background(), "fp1", fn)
			results[i] = resp
			errs[i] = err
			if shared {
				sharedCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent identical requests must reach upstream once")
	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, "shared answer", results[i].Choices[0].Message.Content)
	}
	assert.GreaterOrEqual(t, sharedCount.Load(), int64(waiters-1))
}

func TestGroup_DistinctKeysRunIndependently(t *testing.T) {
	g := NewGroup()
	var calls atomic.Int64

	fn := func(ctx context.Context) (*llm.ChatResponse, error) {
		calls.Add(1)
		return stubResponse("x"), nil
	}

	var wg sync.WaitGroup
	for _, key := range []string{"fp1", "fp2"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, err := g.Do(context.Background(), key, fn)
			assert.NoError(t, err)
		}(key)
	}
	wg.Wait()

	assert.Equal(t, int64(2), calls.Load())
}

func TestGroup_SequentialCallsRecompute(t *testing.T) {
	g := NewGroup()
	var calls atomic.Int64

	fn := func(ctx context.Context) (*llm.ChatResponse, error) {
		calls.Add(1)
		return stubResponse("x"), nil
	}

	_, _, err := g.Do(context.Background(), "fp1", fn)
	require.NoError(t, err)
	_, _, err = g.Do(context.Background(), "fp1", fn)
	require.NoError(t, err)

	// 合并窗口只存在于调用在途期间
	assert.Equal(t, int64(2), calls.Load())
}

// --- 错误传播 ---

func TestGroup_ErrorReachesAllWaiters(t *testing.T) {
	g := NewGroup()
	upstreamErr := errors.New("upstream exploded")

	fn := func(ctx context.Context) (*llm.ChatResponse, error) {
		time.Sleep(20 * time.Millisecond)
		return nil, upstreamErr
	}

	const waiters = 10
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = g.Do(context.Background(), "fp1", fn)
		}(i)
	}
	wg.Wait()

	for i := 0; i < waiters; i++ {
		assert.ErrorIs(t, errs[i], upstreamErr)
	}
}

// --- 取消语义 ---

func TestGroup_WaiterCancelDoesNotAbortLeader(t *testing.T) {
	g := NewGroup()
	var calls atomic.Int64
	release := make(chan struct{})

	fn := func(ctx context.Context) (*llm.ChatResponse, error) {
		calls.Add(1)
		<-release
		return stubResponse("late answer"), nil
	}

	// leader 在后台执行
	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := g.Do(context.Background(), "fp1", fn)
		leaderDone <- err
	}()

	// 等待 leader 进入在途状态
	require.Eventually(t, func() bool { return calls.Load() == 1 },
		time.Second, time.Millisecond)

	// 等待者带着很短的超时加入，随即放弃
	waiterCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := g.Do(waiterCtx, "fp1", fn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// leader 不受影响，正常完成
	close(release)
	assert.NoError(t, <-leaderDone)
	assert.Equal(t, int64(1), calls.Load())
}

func TestGroup_LeaderCancelDoesNotAbortCall(t *testing.T) {
	g := NewGroup()
	release := make(chan struct{})
	var starts atomic.Int64

	// 等待者可能在 leader 的调用完成后才注册并发起新计算，
	// fn 必须可重入：不区分第几次执行，结果始终一致
	fn := func(ctx context.Context) (*llm.ChatResponse, error) {
		starts.Add(1)
		<-release
		// 收到的 context 已与发起者解耦，不应被取消
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return stubResponse("survived"), nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := g.Do(leaderCtx, "fp1", fn)
		leaderDone <- err
	}()
	require.Eventually(t, func() bool { return starts.Load() == 1 },
		time.Second, time.Millisecond)

	// 第二个等待者在调用在途时加入
	type result struct {
		resp *llm.ChatResponse
		err  error
	}
	waiterDone := make(chan result, 1)
	go func() {
		resp, _, err := g.Do(context.Background(), "fp1", fn)
		waiterDone <- result{resp, err}
	}()

	// 发起者取消：它自己立即返回，上游调用继续
	cancelLeader()
	assert.ErrorIs(t, <-leaderDone, context.Canceled)

	close(release)
	got := <-waiterDone
	require.NoError(t, got.err)
	assert.Equal(t, "survived", got.resp.Choices[0].Message.Content)
}

// --- Forget ---

func TestGroup_ForgetStartsFreshComputation(t *testing.T) {
	g := NewGroup()
	var calls atomic.Int64
	release := make(chan struct{})

	slow := func(ctx context.Context) (*llm.ChatResponse, error) {
		calls.Add(1)
		<-release
		return stubResponse("old"), nil
	}
	fast := func(ctx context.Context) (*llm.ChatResponse, error) {
		calls.Add(1)
		return stubResponse("new"), nil
	}

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _, err := g.Do(context.Background(), "fp1", slow)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 },
		time.Second, time.Millisecond)

	g.Forget("fp1")

	resp, _, err := g.Do(context.Background(), "fp1", fast)
	require.NoError(t, err)
	assert.Equal(t, "new", resp.Choices[0].Message.Content)
	assert.Equal(t, int64(2), calls.Load())

	close(release)
	<-firstDone
}
