package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu      sync.Mutex
	batches []int
	err     error
	calls   int
	block   chan struct{}
}

func (n *fakeNotifier) NotifyOverdue(ctx context.Context, limit int) (int, error) {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return 0, n.err
	}
	if len(n.batches) == 0 {
		return 0, nil
	}
	b := n.batches[0]
	n.batches = n.batches[1:]
	return b, nil
}

func TestSweeper_RunOnce_DrainsFullBatches(t *testing.T) {
	fn := &fakeNotifier{batches: []int{10, 10, 3}}
	s := New(fn, nil).WithSettings("", 10, 0)

	require.Equal(t, 23, s.RunOnce(context.Background()))
	require.Equal(t, 3, fn.calls)

	st := s.Stats()
	require.EqualValues(t, 1, st.TotalRuns)
	require.EqualValues(t, 23, st.TotalNotified)
	require.NotNil(t, st.LastRunAt)
	require.Empty(t, st.LastError)
}

func TestSweeper_RunOnce_StopsAtMaxBatches(t *testing.T) {
	fn := &fakeNotifier{batches: []int{5, 5, 5, 5}}
	s := New(fn, nil).WithSettings("", 5, 2)

	require.Equal(t, 10, s.RunOnce(context.Background()))
	require.Equal(t, 2, fn.calls)
}

func TestSweeper_RunOnce_RecordsError(t *testing.T) {
	fn := &fakeNotifier{err: errors.New("db down")}
	s := New(fn, nil)

	require.Zero(t, s.RunOnce(context.Background()))
	st := s.Stats()
	require.EqualValues(t, 1, st.TotalErrors)
	require.Equal(t, "db down", st.LastError)
}

func TestSweeper_RunOnce_SkipsOverlap(t *testing.T) {
	fn := &fakeNotifier{block: make(chan struct{}), batches: []int{1}}
	s := New(fn, nil)

	var first atomic.Int64
	done := make(chan struct{})
	go func() {
		first.Store(int64(s.RunOnce(context.Background())))
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Stats().TotalRuns == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, s.RunOnce(context.Background()))

	close(fn.block)
	<-done
	require.EqualValues(t, 1, first.Load())
}

func TestSweeper_Run_TriggerAndCancel(t *testing.T) {
	fn := &fakeNotifier{}
	// yearly schedule: only the trigger runs a sweep during the test
	s := New(fn, nil).WithSettings("@yearly", 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	s.Trigger()
	require.Eventually(t, func() bool { return s.Stats().TotalRuns >= 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, s.Stats().LastTriggerAt)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestSweeper_Run_InvalidSchedule(t *testing.T) {
	s := New(&fakeNotifier{}, nil).WithSettings("not a schedule", 0, 0)
	require.Error(t, s.Run(context.Background()))
}

func TestValidateSchedule(t *testing.T) {
	require.NoError(t, ValidateSchedule(DefaultSchedule))
	require.NoError(t, ValidateSchedule("@every 30s"))
	require.Error(t, ValidateSchedule("* * *"))
}
