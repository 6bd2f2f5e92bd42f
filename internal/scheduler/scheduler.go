// Package scheduler runs the named periodic jobs of spec §4.6: leaderboard
// refresh, ticker/funding/daily-stats polls, retention/archival, and the
// REST-fallback collectors. Misfires are coalesced (a job still running
// when its next tick fires is skipped, not queued), each run's context
// expires after the job's interval plus a small misfire grace, and on
// shutdown in-flight runs get shutdownGrace before their context is
// cancelled. Grounded on the teacher's ticker-loop idiom
// (app/performance_refresher.go's single-job Start/Stop pair), generalized
// from one hardcoded job to a named job registry.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobFunc is one job's unit of work. It must observe ctx cancellation
// promptly — ctx expires after interval+misfireGrace, and is cancelled
// earlier if Stop's shutdownGrace elapses first.
type JobFunc func(ctx context.Context) error

// Job describes one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Enabled  bool
	Fn       JobFunc
}

type jobState struct {
	job     Job
	mu      sync.Mutex // held for the job's duration; TryLock enforces single-instance
	lastRun time.Time
	missed  int64
}

// Scheduler runs Jobs on independent ticker loops.
type Scheduler struct {
	misfireGrace  time.Duration
	shutdownGrace time.Duration

	jobs []*jobState

	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a Scheduler. misfireGrace bounds how long a job's context
// stays alive past its own interval; shutdownGrace bounds how long Stop
// waits for in-flight jobs before cancelling them.
func New(misfireGrace, shutdownGrace time.Duration) *Scheduler {
	return &Scheduler{
		misfireGrace:  misfireGrace,
		shutdownGrace: shutdownGrace,
		stopCh:        make(chan struct{}),
	}
}

// Register adds a job. Call before Start.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, &jobState{job: job})
}

// RunStartupTasks runs one-shot tasks sequentially before the scheduler's
// periodic loops begin (spec §4.6 startup tasks: initial ticker fetch,
// candle backfill, leaderboard fetch). The first error aborts the
// remaining tasks and is returned.
func RunStartupTasks(ctx context.Context, tasks ...JobFunc) error {
	for _, t := range tasks {
		if err := t(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Start launches one loop goroutine per enabled job. Non-blocking.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, js := range s.jobs {
		if !js.job.Enabled {
			continue
		}
		js := js
		s.wg.Add(1)
		go s.loop(runCtx, js)
	}
}

func (s *Scheduler) loop(ctx context.Context, js *jobState) {
	defer s.wg.Done()

	ticker := time.NewTicker(js.job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce(ctx, js)
		}
	}
}

// runOnce enforces single-instance-at-a-time: if the previous run of this
// job is still in flight, the tick is dropped (coalesced), not queued.
func (s *Scheduler) runOnce(ctx context.Context, js *jobState) {
	if !js.mu.TryLock() {
		js.missed++
		log.Printf("⚠️  scheduler: %s still running, skipping this tick (missed=%d)", js.job.Name, js.missed)
		return
	}
	defer js.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, js.job.Interval+s.misfireGrace)
	defer cancel()

	if err := js.job.Fn(jobCtx); err != nil {
		log.Printf("⚠️  scheduler: job %s failed: %v", js.job.Name, err)
	}
	js.lastRun = time.Now()
}

// Stop stops accepting new ticks and waits up to shutdownGrace for
// in-flight jobs to finish; beyond that it cancels their context so they
// return as soon as possible (spec §4.6 cancellation policy).
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(s.shutdownGrace):
		log.Printf("⚠️  scheduler: shutdown grace elapsed, cancelling in-flight jobs")
		if s.cancel != nil {
			s.cancel()
		}
		<-done
	}
}
