package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	p := New(Config{Workers: 4, QueueSize: 16})
	defer p.Close()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int64(10), ran.Load())
}

func TestWorkerPool_SubmitNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	p := New(Config{Workers: 1, QueueSize: 1})
	defer func() {
		close(block)
		p.Close()
	}()

	require.NoError(t, p.Submit(func() { <-block }))

	// saturate queue and worker, then expect immediate rejection
	deadline := time.After(time.Second)
	var rejected bool
	for !rejected {
		select {
		case <-deadline:
			t.Fatal("submit never rejected")
		default:
		}
		if err := p.Submit(func() { <-block }); err != nil {
			assert.ErrorIs(t, err, ErrPoolFull)
			rejected = true
		}
	}
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1})
	p.Close()
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}

func TestWorkerPool_CloseDrainsQueue(t *testing.T) {
	p := New(Config{Workers: 2, QueueSize: 32})

	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(func() {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		}))
	}
	p.Close()
	assert.Equal(t, int64(20), ran.Load())
}

func TestWorkerPool_PanicDoesNotKillWorker(t *testing.T) {
	var recovered atomic.Int64
	p := New(Config{Workers: 1, QueueSize: 8}, WithPanicHandler(func(any) {
		recovered.Add(1)
	}))
	defer p.Close()

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { panic("boom") }))
	require.NoError(t, p.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	assert.Equal(t, int64(1), recovered.Load())
	assert.Equal(t, int64(1), p.Stats().Panicked)
}

func TestWorkerPool_Stats(t *testing.T) {
	p := New(Config{Workers: 2, QueueSize: 8})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() { wg.Done() }))
	}
	wg.Wait()
	p.Close()

	s := p.Stats()
	assert.Equal(t, int64(5), s.Submitted)
	assert.Equal(t, int64(5), s.Completed)
	assert.Equal(t, int64(0), s.Rejected)
}
