// Package polltest drives fake clocks for code that waits in poll.Sleep.
package polltest

import (
	"sync"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

// Drive advances clk by step whenever a timer is waiting on it, until the
// returned stop function is called. Waits that are multiples of step fire
// at exactly their deadline.
func Drive(clk *testingclock.FakeClock, step time.Duration) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if clk.HasWaiters() {
				clk.Step(step)
				continue
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
