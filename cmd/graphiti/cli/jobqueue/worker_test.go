package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, s *Store, d *Dispatcher) *Worker {
	t.Helper()
	w := NewWorker(s, d, 4, 3, time.Millisecond)
	w.poll = 10 * time.Millisecond
	t.Cleanup(w.Stop)
	return w
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestWorkerProcessesJobs(t *testing.T) {
	s := openTestStore(t)
	var processed atomic.Int32
	d := NewDispatcher()
	d.Register("work", func(context.Context, json.RawMessage) error {
		processed.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		enqueue(t, s, "work", true)
	}
	w := newTestWorker(t, s, d)
	w.Start()
	w.Wake()

	waitFor(t, 5*time.Second, func() bool { return processed.Load() == 5 })
	waitFor(t, 5*time.Second, func() bool {
		pending, _ := s.PendingCount()
		return pending == 0
	})
}

func TestWorkerRetryThenDeadLetter(t *testing.T) {
	s := openTestStore(t)
	var failures atomic.Int32
	d := NewDispatcher()
	d.Register("doomed", func(context.Context, json.RawMessage) error {
		failures.Add(1)
		return errors.New("always fails")
	})

	enqueue(t, s, "doomed", false)
	w := newTestWorker(t, s, d)
	w.Start()
	w.Wake()

	waitFor(t, 5*time.Second, func() bool {
		letters, _ := s.DeadLetters()
		return len(letters) == 1
	})

	letters, err := s.DeadLetters()
	require.NoError(t, err)
	assert.Equal(t, 3, letters[0].RetryCount)
	assert.Equal(t, "always fails", letters[0].FinalError)
	assert.Equal(t, int32(3), failures.Load(), "executed once per attempt")

	pending, _ := s.PendingCount()
	assert.Equal(t, 0, pending)
}

func TestWorkerFailThenSucceed(t *testing.T) {
	s := openTestStore(t)
	var calls atomic.Int32
	d := NewDispatcher()
	d.Register("flaky", func(context.Context, json.RawMessage) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	enqueue(t, s, "flaky", false)
	w := newTestWorker(t, s, d)
	w.Start()
	w.Wake()

	waitFor(t, 5*time.Second, func() bool {
		pending, _ := s.PendingCount()
		return pending == 0
	})
	letters, err := s.DeadLetters()
	require.NoError(t, err)
	assert.Empty(t, letters, "recovered job never dead-letters")
	assert.Equal(t, int32(2), calls.Load())
}

func TestWorkerSequentialNeverOverlapsParallel(t *testing.T) {
	s := openTestStore(t)

	var mu sync.Mutex
	running := map[string]int{}
	var overlap atomic.Bool
	track := func(kind string) func() {
		mu.Lock()
		running[kind]++
		if kind == "seq" && (running["par"] > 0 || running["seq"] > 1) {
			overlap.Store(true)
		}
		if kind == "par" && running["seq"] > 0 {
			overlap.Store(true)
		}
		mu.Unlock()
		return func() {
			mu.Lock()
			running[kind]--
			mu.Unlock()
		}
	}

	var done atomic.Int32
	d := NewDispatcher()
	d.Register("par", func(context.Context, json.RawMessage) error {
		defer track("par")()
		time.Sleep(10 * time.Millisecond)
		done.Add(1)
		return nil
	})
	d.Register("seq", func(context.Context, json.RawMessage) error {
		defer track("seq")()
		time.Sleep(10 * time.Millisecond)
		done.Add(1)
		return nil
	})

	enqueue(t, s, "par", true)
	enqueue(t, s, "par", true)
	enqueue(t, s, "seq", false)
	enqueue(t, s, "par", true)

	w := newTestWorker(t, s, d)
	w.Start()
	w.Wake()

	waitFor(t, 5*time.Second, func() bool { return done.Load() == 4 })
	assert.False(t, overlap.Load(), "sequential job ran concurrently with another job")
}

func TestWorkerStopCompletesInFlightJob(t *testing.T) {
	s := openTestStore(t)
	started := make(chan struct{})
	var finished atomic.Bool
	d := NewDispatcher()
	d.Register("slow", func(context.Context, json.RawMessage) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	enqueue(t, s, "slow", false)
	w := newTestWorker(t, s, d)
	w.Start()
	w.Wake()

	<-started
	w.Stop()
	assert.True(t, finished.Load(), "stop waits for the job in progress")
}

func TestStartIfPending(t *testing.T) {
	s := openTestStore(t)
	d := NewDispatcher()

	idle := NewWorker(s, d, 4, 3, time.Millisecond)
	assert.False(t, idle.StartIfPending(), "no standing worker when nothing is queued")
	idle.Stop()

	enqueue(t, s, "work", true)
	var processed atomic.Int32
	d.Register("work", func(context.Context, json.RawMessage) error {
		processed.Add(1)
		return nil
	})
	busy := NewWorker(s, d, 4, 3, time.Millisecond)
	busy.poll = 10 * time.Millisecond
	t.Cleanup(busy.Stop)
	assert.True(t, busy.StartIfPending())
	waitFor(t, 5*time.Second, func() bool { return processed.Load() == 1 })
}

func TestDispatcherUnknownType(t *testing.T) {
	d := NewDispatcher()
	err := d.Dispatch(context.Background(), Job{Type: "mystery", Payload: json.RawMessage(`{}`)})
	assert.Error(t, err)
}
