package health

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/gateflow/llm"
)

func newTestTracker(threshold int, cooldown time.Duration) *Tracker {
	return NewTracker(Config{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		EWMAAlpha:        0.3,
	}, zap.NewNop())
}

var errUpstream = errors.New("upstream failure")

// ---------------------------------------------------------------------------
// DefaultConfig
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Cooldown)
	assert.Equal(t, 0.3, cfg.EWMAAlpha)
	assert.Nil(t, cfg.OnStateChange)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(99).String())
}

// ---------------------------------------------------------------------------
// Closed -> Open (failure threshold)
// ---------------------------------------------------------------------------

func TestTracker_ClosedToOpen(t *testing.T) {
	tr := newTestTracker(3, time.Hour)

	// Fail threshold-1 times: still closed
	for i := 0; i < 2; i++ {
		tr.Report("openai", 100*time.Millisecond, errUpstream)
		assert.Equal(t, StateClosed, tr.State("openai"))
		assert.True(t, tr.Admit("openai"))
	}

	// One more failure trips the breaker
	tr.Report("openai", 100*time.Millisecond, errUpstream)
	assert.Equal(t, StateOpen, tr.State("openai"))
}

func TestTracker_OpenRejectsAdmission(t *testing.T) {
	tr := newTestTracker(1, time.Hour)

	tr.Report("openai", time.Millisecond, errUpstream)
	require.Equal(t, StateOpen, tr.State("openai"))

	assert.False(t, tr.Admit("openai"))
}

func TestTracker_SuccessResetsFailureCount(t *testing.T) {
	tr := newTestTracker(3, time.Hour)

	tr.Report("openai", time.Millisecond, errUpstream)
	tr.Report("openai", time.Millisecond, errUpstream)
	tr.Report("openai", time.Millisecond, nil)
	tr.Report("openai", time.Millisecond, errUpstream)
	tr.Report("openai", time.Millisecond, errUpstream)

	assert.Equal(t, StateClosed, tr.State("openai"))
	assert.Equal(t, 2, tr.Snapshot("openai").ConsecutiveFailures)
}

// ---------------------------------------------------------------------------
// Client errors never trip the breaker
// ---------------------------------------------------------------------------

func TestTracker_ClientErrorsDoNotCount(t *testing.T) {
	tr := newTestTracker(2, time.Hour)

	badRequest := &llm.Error{
		Code:       llm.ErrInvalidRequest,
		Message:    "bad prompt",
		HTTPStatus: http.StatusBadRequest,
	}
	for i := 0; i < 10; i++ {
		tr.Report("openai", time.Millisecond, badRequest)
	}

	assert.Equal(t, StateClosed, tr.State("openai"))
	assert.Equal(t, 0, tr.Snapshot("openai").ConsecutiveFailures)
}

func TestTracker_RateLimitCountsAsFailure(t *testing.T) {
	tr := newTestTracker(2, time.Hour)

	rateLimited := &llm.Error{
		Code:       llm.ErrRateLimited,
		Message:    "slow down",
		HTTPStatus: http.StatusTooManyRequests,
		Retryable:  true,
	}
	tr.Report("openai", time.Millisecond, rateLimited)
	tr.Report("openai", time.Millisecond, rateLimited)

	assert.Equal(t, StateOpen, tr.State("openai"))
}

// ---------------------------------------------------------------------------
// Open -> HalfOpen (cooldown) -> Closed / Open
// ---------------------------------------------------------------------------

func TestTracker_CooldownAllowsSingleTrial(t *testing.T) {
	tr := newTestTracker(1, 50*time.Millisecond)

	tr.Report("openai", time.Millisecond, errUpstream)
	require.Equal(t, StateOpen, tr.State("openai"))

	// Before cooldown: rejected
	assert.False(t, tr.Admit("openai"))

	time.Sleep(80 * time.Millisecond)

	// After cooldown: exactly one trial admitted
	assert.True(t, tr.Admit("openai"))
	assert.Equal(t, StateHalfOpen, tr.State("openai"))
	assert.False(t, tr.Admit("openai"), "second trial must be rejected while first is in flight")
}

func TestTracker_HalfOpenTrialSuccessCloses(t *testing.T) {
	tr := newTestTracker(1, 50*time.Millisecond)

	tr.Report("openai", time.Millisecond, errUpstream)
	time.Sleep(80 * time.Millisecond)
	require.True(t, tr.Admit("openai"))

	tr.Report("openai", time.Millisecond, nil)

	assert.Equal(t, StateClosed, tr.State("openai"))
	assert.Equal(t, 0, tr.Snapshot("openai").ConsecutiveFailures)
	assert.True(t, tr.Admit("openai"))
}

func TestTracker_HalfOpenTrialFailureReopens(t *testing.T) {
	tr := newTestTracker(1, 50*time.Millisecond)

	tr.Report("openai", time.Millisecond, errUpstream)
	time.Sleep(80 * time.Millisecond)
	require.True(t, tr.Admit("openai"))

	tr.Report("openai", time.Millisecond, errUpstream)

	assert.Equal(t, StateOpen, tr.State("openai"))
	// Cooldown timer restarted: admission rejected again
	assert.False(t, tr.Admit("openai"))

	// A fresh cooldown grants a new trial
	time.Sleep(80 * time.Millisecond)
	assert.True(t, tr.Admit("openai"))
}

// ---------------------------------------------------------------------------
// EWMA statistics
// ---------------------------------------------------------------------------

func TestTracker_EWMASuccessRate(t *testing.T) {
	tr := newTestTracker(100, time.Hour)

	// Optimistic start
	assert.Equal(t, 1.0, tr.Snapshot("openai").SuccessRate)

	tr.Report("openai", time.Millisecond, errUpstream)
	after1 := tr.Snapshot("openai").SuccessRate
	assert.InDelta(t, 0.7, after1, 1e-9) // 0.3*0 + 0.7*1.0

	tr.Report("openai", time.Millisecond, errUpstream)
	after2 := tr.Snapshot("openai").SuccessRate
	assert.InDelta(t, 0.49, after2, 1e-9)

	tr.Report("openai", time.Millisecond, nil)
	after3 := tr.Snapshot("openai").SuccessRate
	assert.InDelta(t, 0.3+0.7*0.49, after3, 1e-9)
}

func TestTracker_EWMALatency(t *testing.T) {
	tr := newTestTracker(100, time.Hour)

	// First sample seeds directly
	tr.Report("openai", 100*time.Millisecond, nil)
	assert.Equal(t, 100*time.Millisecond, tr.Snapshot("openai").Latency)

	// Subsequent samples decay: 0.3*200 + 0.7*100 = 130ms
	tr.Report("openai", 200*time.Millisecond, nil)
	assert.InDelta(t, float64(130*time.Millisecond), float64(tr.Snapshot("openai").Latency), float64(time.Millisecond))
}

func TestTracker_SnapshotAll(t *testing.T) {
	tr := newTestTracker(5, time.Hour)

	tr.Report("openai", time.Millisecond, nil)
	tr.Report("anthropic", time.Millisecond, nil)

	all := tr.SnapshotAll()
	require.Len(t, all, 2)
	names := map[string]bool{}
	for _, h := range all {
		names[h.Provider] = true
	}
	assert.True(t, names["openai"])
	assert.True(t, names["anthropic"])
}

func TestTracker_SnapshotLastFailureAt(t *testing.T) {
	tr := newTestTracker(5, time.Hour)

	tr.Report("openai", time.Millisecond, nil)
	assert.True(t, tr.Snapshot("openai").LastFailureAt.IsZero(),
		"no failures yet, LastFailureAt should be zero")

	before := time.Now()
	tr.Report("openai", time.Millisecond, errUpstream)

	snap := tr.Snapshot("openai")
	assert.False(t, snap.LastFailureAt.IsZero())
	assert.False(t, snap.LastFailureAt.Before(before))
}

// ---------------------------------------------------------------------------
// Reset
// ---------------------------------------------------------------------------

func TestTracker_Reset(t *testing.T) {
	tr := newTestTracker(1, time.Hour)

	tr.Report("openai", time.Millisecond, errUpstream)
	require.Equal(t, StateOpen, tr.State("openai"))

	tr.Reset("openai")
	assert.Equal(t, StateClosed, tr.State("openai"))
	assert.True(t, tr.Admit("openai"))
}

// ---------------------------------------------------------------------------
// OnStateChange callback
// ---------------------------------------------------------------------------

func TestTracker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	type change struct {
		provider string
		from, to State
	}
	var transitions []change

	tr := NewTracker(Config{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		EWMAAlpha:        0.3,
		OnStateChange: func(provider string, from, to State) {
			mu.Lock()
			transitions = append(transitions, change{provider, from, to})
			mu.Unlock()
		},
	}, zap.NewNop())

	// Trip: Closed -> Open
	tr.Report("openai", time.Millisecond, errUpstream)
	tr.Report("openai", time.Millisecond, errUpstream)

	// Cooldown, then trial success: Open -> HalfOpen -> Closed
	time.Sleep(80 * time.Millisecond)
	require.True(t, tr.Admit("openai"))
	tr.Report("openai", time.Millisecond, nil)

	// Give async callbacks time to execute
	time.Sleep(50 * time.Millisecond)

	// 回调在独立 goroutine 中派发，到达顺序不作保证，只断言集合
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 3)
	assert.ElementsMatch(t, []change{
		{"openai", StateClosed, StateOpen},
		{"openai", StateOpen, StateHalfOpen},
		{"openai", StateHalfOpen, StateClosed},
	}, transitions)
}

// ---------------------------------------------------------------------------
// Concurrent safety
// ---------------------------------------------------------------------------

func TestTracker_ConcurrentReports(t *testing.T) {
	tr := newTestTracker(1000, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				tr.Report("openai", time.Millisecond, nil)
			} else {
				tr.Report("openai", time.Millisecond, errUpstream)
			}
			tr.Admit("openai")
			tr.Snapshot("openai")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, StateClosed, tr.State("openai"))
}

func TestTracker_HalfOpenSingleTrialUnderContention(t *testing.T) {
	tr := newTestTracker(1, 10*time.Millisecond)

	tr.Report("openai", time.Millisecond, errUpstream)
	require.Equal(t, StateOpen, tr.State("openai"))
	time.Sleep(30 * time.Millisecond)

	var wg sync.WaitGroup
	admitted := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- tr.Admit("openai")
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one trial may pass the half-open gate")
}
