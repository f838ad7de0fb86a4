// Package scheduler drives the background pipelines: a fixed worker pool
// fed by a periodic tick, with single-flight dedup per task key so a slow
// run is never stacked behind itself.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Func is one unit of background work.
type Func func(ctx context.Context) error

type task struct {
	key string
	fn  Func
}

// Scheduler runs registered tick tasks on a fixed interval and accepts
// ad-hoc submissions. All work goes through the same single-flight gate.
type Scheduler struct {
	tick    time.Duration
	workers int
	queue   chan task

	mu       sync.Mutex
	inFlight map[string]bool
	ticks    []task

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New returns a stopped scheduler. Workers below one are raised to one.
func New(workers int, tick time.Duration) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		tick:     tick,
		workers:  workers,
		queue:    make(chan task, 64),
		inFlight: map[string]bool{},
	}
}

// OnTick registers fn to be submitted on every tick under key.
// Registration order is preserved within a tick.
func (s *Scheduler) OnTick(key string, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, task{key: key, fn: fn})
}

// Submit queues fn under key unless a run with the same key is already
// queued or executing. Returns false when the task was dropped.
func (s *Scheduler) Submit(key string, fn Func) bool {
	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		return false
	}
	s.inFlight[key] = true
	s.mu.Unlock()

	select {
	case s.queue <- task{key: key, fn: fn}:
		return true
	default:
		// Queue full; release the key so the next tick can retry.
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
		return false
	}
}

// Start launches the workers and the tick loop. The first tick fires
// immediately so pending work left over from a previous run is picked up
// at startup.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.submitTicks()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.submitTicks()
			}
		}
	}()
}

// Stop cancels the loop and waits for in-progress work to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) submitTicks() {
	s.mu.Lock()
	ticks := make([]task, len(s.ticks))
	copy(ticks, s.ticks)
	s.mu.Unlock()
	for _, t := range ticks {
		s.Submit(t.key, t.fn)
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			if err := t.fn(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[scheduler] %s: %v", t.key, err)
			}
			s.mu.Lock()
			delete(s.inFlight, t.key)
			s.mu.Unlock()
		}
	}
}
