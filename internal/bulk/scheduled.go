package bulk

import (
	"context"
	"sync"
	"time"
)

// scheduledTask runs fn once after a delay unless it is cancelled first.
// Cancelling also cancels the context handed to fn if it is already running.
type scheduledTask struct {
	due    time.Time
	timer  *time.Timer
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

// schedule starts a task. wg is incremented until the task has either run or
// been cancelled before firing.
func schedule(parent context.Context, delay time.Duration, wg *sync.WaitGroup, fn func(context.Context)) *scheduledTask {
	ctx, cancel := context.WithCancel(parent)
	t := &scheduledTask{
		due:    time.Now().Add(delay),
		cancel: cancel,
		wg:     wg,
	}

	wg.Add(1)
	t.timer = time.AfterFunc(delay, func() {
		defer wg.Done()
		defer cancel()
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
	return t
}

// stop cancels the task. It reports whether the task was stopped before it
// fired.
func (t *scheduledTask) stop() bool {
	t.cancel()
	if t.timer.Stop() {
		t.wg.Done()
		return true
	}
	return false
}
