package poll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/raycarroll/shipctl/pkg/poll/polltest"
)

func TestSleep_FakeClockAdvances(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testingclock.NewFakeClock(start)
	stop := polltest.Drive(clk, time.Second)
	defer stop()

	assert.NoError(t, Sleep(context.Background(), clk, 5*time.Second))
	assert.Equal(t, 5*time.Second, clk.Since(start))
	assert.False(t, clk.HasWaiters())
}

func TestSleep_ZeroDuration(t *testing.T) {
	start := time.Now()
	clk := testingclock.NewFakeClock(start)
	assert.NoError(t, Sleep(context.Background(), clk, 0))
	assert.Equal(t, start, clk.Now())
	assert.False(t, clk.HasWaiters())
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, clock.RealClock{}, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep_FakeClockCancelDuringWait(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Sleep(ctx, clk, time.Minute) }()
	for !clk.HasWaiters() {
		time.Sleep(time.Millisecond)
	}
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, clk.HasWaiters(), "timer is stopped on return")
}

func TestSleep_RealClockCancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := Sleep(ctx, clock.RealClock{}, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 10*time.Second)
}
