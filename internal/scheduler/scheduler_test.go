package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/clock/system"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

type recordingRunner struct {
	mu    sync.Mutex
	runs  []time.Time
	block chan struct{}
	seq   int
}

func (r *recordingRunner) RunCycle(_ context.Context) ticket.CycleResult {
	r.mu.Lock()
	r.runs = append(r.runs, time.Now())
	r.seq++
	id := r.seq
	block := r.block
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	return ticket.CycleResult{ID: string(rune('0' + id))}
}

func (r *recordingRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func TestRunFiresImmediatelyThenPeriodically(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	sched := New(runner, 60*time.Millisecond, system.Clock{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.runCount() >= 3 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	last, ok := sched.LastResult()
	require.True(t, ok)
	assert.NotEmpty(t, last.ID)
}

func TestTriggerNowRunsACycle(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	sched := New(runner, time.Hour, system.Clock{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	// Wait out the immediate startup cycle.
	require.Eventually(t, func() bool { return runner.runCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	result, err := sched.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, 2, runner.runCount())
}

func TestTriggerNowCoalescesOntoInFlightCycle(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	runner := &recordingRunner{block: block}
	sched := New(runner, time.Hour, system.Clock{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	// The startup cycle is now blocked inside RunCycle.
	require.Eventually(t, func() bool { return runner.runCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	results := make(chan ticket.CycleResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := sched.TriggerNow(context.Background())
			require.NoError(t, err)
			results <- res
		}()
	}

	// Give both triggers time to attach, then release the cycle.
	time.Sleep(50 * time.Millisecond)
	runner.mu.Lock()
	runner.block = nil
	runner.mu.Unlock()
	close(block)

	first := <-results
	second := <-results
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, runner.runCount())
}

func TestTriggerNowHonorsCallerContext(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	sched := New(runner, time.Hour, system.Clock{}, zap.NewNop())
	// Run loop intentionally not started; the trigger can never be served.

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := sched.TriggerNow(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
