// Package scheduler drives the trading cycle on a fixed interval. Cycles
// never overlap: a tick that lands while a cycle is still running is
// coalesced into at most one pending run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradewind/internal/logger"
)

// Job is one cycle run. The returned error feeds OnError.
type Job func(ctx context.Context) error

// Options configures the loop.
type Options struct {
	Interval       time.Duration
	MisfireGrace   time.Duration
	RunImmediately bool

	// OnError sees every job error; returning true stops the scheduler.
	OnError func(error) bool
}

// Scheduler runs one Job on an interval with coalescing, misfire
// handling, pause/resume and manual triggering.
type Scheduler struct {
	opts Options
	job  Job

	mu       sync.Mutex
	started  bool
	paused   bool
	inFlight bool
	pending  bool
	nextRun  time.Time
	waiters  []chan struct{}

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func New(job Job, opts Options) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler requires a job")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %s", opts.Interval)
	}
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = opts.Interval / 2
	}
	return &Scheduler{
		opts:    opts,
		job:     job,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the loop. It returns immediately; cycles run on their
// own goroutine until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.nextRun = time.Now().Add(s.opts.Interval)
	if s.opts.RunImmediately {
		s.nextRun = time.Now()
	}
	s.mu.Unlock()

	go s.loop(ctx)
	logger.Infof("scheduler started: interval=%s misfire_grace=%s immediate=%v",
		s.opts.Interval, s.opts.MisfireGrace, s.opts.RunImmediately)
	return nil
}

// Stop shuts the loop down. With wait > 0 it blocks up to that long for
// an in-flight cycle to finish; wait == 0 abandons it immediately.
func (s *Scheduler) Stop(wait time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if wait <= 0 {
		return
	}
	select {
	case <-s.done:
	case <-time.After(wait):
		logger.Warnf("scheduler stop: cycle still running after %s, abandoning", wait)
	}
}

// Pause suspends firing without stopping the loop. An in-flight cycle
// finishes; ticks while paused are dropped, not queued.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	logger.Infof("scheduler paused")
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.nextRun = time.Now().Add(s.opts.Interval)
	s.mu.Unlock()
	logger.Infof("scheduler resumed")
}

// TriggerNow requests an out-of-band cycle. If one is already running or
// requested, the calls collapse into a single pending run.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// TriggerWait requests an out-of-band cycle and blocks until the
// triggered run completes. Concurrent callers share a single run; the
// run's own error reporting stays with OnError.
func (s *Scheduler) TriggerWait(ctx context.Context) error {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()
	s.TriggerNow()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("scheduler stopped before the triggered cycle ran")
	}
}

func (s *Scheduler) notifyWaiters() {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func (s *Scheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	jobDone := make(chan bool, 1)
	for {
		s.mu.Lock()
		next := s.nextRun
		running := s.inFlight
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stop:
			timer.Stop()
			if running {
				<-jobDone
			}
			return
		case <-ctx.Done():
			timer.Stop()
			if running {
				<-jobDone
			}
			return
		case stopRequested := <-jobDone:
			timer.Stop()
			s.mu.Lock()
			s.inFlight = false
			rerun := s.pending
			s.pending = false
			s.mu.Unlock()
			if !rerun {
				// A coalesced trigger is satisfied by the rerun, not by
				// the run it piled up behind.
				s.notifyWaiters()
			}
			if stopRequested {
				s.Stop(0)
				return
			}
			if rerun {
				s.launch(ctx, jobDone)
			}
		case <-s.trigger:
			timer.Stop()
			s.mu.Lock()
			if s.inFlight {
				s.pending = true
				s.mu.Unlock()
				continue
			}
			s.mu.Unlock()
			s.launch(ctx, jobDone)
		case fired := <-timer.C:
			s.onTick(ctx, fired, jobDone)
		}
	}
}

// onTick handles one scheduled slot: coalesce while a cycle is running,
// drop while paused, skip stale slots past the misfire grace, otherwise
// launch the cycle.
func (s *Scheduler) onTick(ctx context.Context, at time.Time, jobDone chan bool) {
	s.mu.Lock()
	scheduled := s.nextRun
	s.nextRun = at.Add(s.opts.Interval)
	if s.inFlight {
		// At most one pending run: back-to-back missed slots collapse.
		s.pending = true
		s.mu.Unlock()
		logger.Warnf("scheduler: cycle still running at its next slot, coalescing")
		return
	}
	if s.paused {
		s.mu.Unlock()
		return
	}
	// A tick long past its slot means the process was suspended; running a
	// stale cycle is worse than waiting for the next aligned one.
	if late := at.Sub(scheduled); late > s.opts.MisfireGrace {
		s.mu.Unlock()
		logger.Warnf("scheduler misfire: tick %s late (grace %s), skipping to next slot",
			late.Round(time.Second), s.opts.MisfireGrace)
		return
	}
	s.mu.Unlock()
	s.launch(ctx, jobDone)
}

// launch starts the job on its own goroutine with panic isolation and
// reports completion (and whether OnError demanded a stop) on jobDone.
func (s *Scheduler) launch(ctx context.Context, jobDone chan bool) {
	s.mu.Lock()
	s.inFlight = true
	s.mu.Unlock()
	go func() {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("cycle panic: %v", r)
					logger.Errorf("scheduler recovered cycle panic: %v", r)
				}
			}()
			err = s.job(ctx)
		}()
		stop := false
		if err != nil && s.opts.OnError != nil {
			stop = s.opts.OnError(err)
		}
		jobDone <- stop
	}()
}
