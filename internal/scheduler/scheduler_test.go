package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsEnabledJobOnly(t *testing.T) {
	var ran, skipped int32

	s := New(50*time.Millisecond, 200*time.Millisecond)
	s.Register(Job{
		Name:     "enabled",
		Interval: 10 * time.Millisecond,
		Enabled:  true,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	})
	s.Register(Job{
		Name:     "disabled",
		Interval: 10 * time.Millisecond,
		Enabled:  false,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&skipped, 1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&ran) == 0 {
		t.Error("expected the enabled job to have run at least once")
	}
	if atomic.LoadInt32(&skipped) != 0 {
		t.Error("disabled job must never run")
	}
}

func TestSchedulerCoalescesMisfires(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32
	var mu sync.Mutex
	release := make(chan struct{})

	s := New(time.Second, 2*time.Second)
	s.Register(Job{
		Name:     "slow",
		Interval: 5 * time.Millisecond,
		Enabled:  true,
		Fn: func(ctx context.Context) error {
			n := atomic.AddInt32(&concurrent, 1)
			mu.Lock()
			if n > maxConcurrent {
				maxConcurrent = n
			}
			mu.Unlock()
			<-release
			atomic.AddInt32(&concurrent, -1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(40 * time.Millisecond) // several ticks fire while the job blocks
	close(release)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent > 1 {
		t.Errorf("expected misfires to be coalesced, saw %d concurrent runs", maxConcurrent)
	}
}

func TestRunStartupTasksStopsOnFirstError(t *testing.T) {
	var calls []string
	boom := context.Canceled

	err := RunStartupTasks(context.Background(),
		func(ctx context.Context) error { calls = append(calls, "a"); return nil },
		func(ctx context.Context) error { calls = append(calls, "b"); return boom },
		func(ctx context.Context) error { calls = append(calls, "c"); return nil },
	)

	if err != boom {
		t.Fatalf("expected the sentinel error, got %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected exactly 2 tasks to run before aborting, got %v", calls)
	}
}

func TestStopWaitsForInFlightJob(t *testing.T) {
	var finished int32

	s := New(time.Second, time.Second)
	s.Register(Job{
		Name:     "quick",
		Interval: 5 * time.Millisecond,
		Enabled:  true,
		Fn: func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			atomic.StoreInt32(&finished, 1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&finished) == 0 {
		t.Error("expected Stop to wait for the in-flight job to finish")
	}
}
