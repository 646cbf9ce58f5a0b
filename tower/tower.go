/*
Copyright 2026 Soloflight Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tower is a cooperative single-goroutine scheduler that
// satisfies soloflight.Scheduler.
//
// A Tower owns one dispatch goroutine, the runway, and executes every
// job on it in submission order. What makes it cooperative is how it
// waits: a job that blocks on other scheduled work (a soloflight.Get
// from inside another job, say) does not stall the runway. Run and
// Join detect that the caller is on the runway, hand the blocking
// part to a helper goroutine, and keep executing queued jobs on the
// caller's own stack until the wait resolves. Joined jobs are moved
// ahead of the regular queue so the work someone is waiting for runs
// first.
package tower // import "github.com/soloflight/soloflight/tower"

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/soloflight/soloflight"
)

// ErrStopped is reported by join handles for jobs a stopped Tower
// refused to run.
var ErrStopped = errors.New("tower: stopped")

// runwayKey marks the ctx of jobs executing on a Tower's runway. The
// value is the owning *Tower, so jobs of one tower are not privileged
// on another.
type runwayKey struct{}

// A Tower dispatches jobs one at a time on a single goroutine.
// Construct towers with New; the zero value is not usable.
type Tower struct {
	logger *slog.Logger

	mu        sync.Mutex
	queue     []*Handle // regular jobs, FIFO
	expedited []*Handle // joined jobs, served before queue

	wake chan struct{} // 1-buffered enqueue signal
	stop chan struct{}

	stopOnce sync.Once

	// Stats are statistics on the tower.
	Stats TowerStats
}

// TowerStats are per-tower statistics.
type TowerStats struct {
	Dispatched atomic.Int64 // jobs executed
	Pumped     atomic.Int64 // runway waits served by pumping the queue
	Expedited  atomic.Int64 // jobs promoted ahead of the queue by a joiner
	Refused    atomic.Int64 // jobs rejected because the tower stopped
}

// A TowerOption configures a Tower.
type TowerOption interface {
	apply(*Tower)
}

type funcTowerOption func(*Tower)

func (f funcTowerOption) apply(t *Tower) {
	f(t)
}

// WithLogger sets the logger the tower reports refusals and job
// panics to. The default discards everything.
func WithLogger(logger *slog.Logger) TowerOption {
	return funcTowerOption(func(t *Tower) {
		t.logger = logger
	})
}

// New creates a Tower and starts its runway goroutine.
func New(opts ...TowerOption) *Tower {
	t := &Tower{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt.apply(t)
	}
	go t.runway()
	return t
}

var (
	_ soloflight.Scheduler  = (*Tower)(nil)
	_ soloflight.JoinHandle = (*Handle)(nil)
)

// RunAsync queues fn for the runway and returns its handle. fn is
// never invoked on the caller's goroutine. After Stop the job is
// refused immediately and its handle resolves with ErrStopped.
func (t *Tower) RunAsync(fn func(ctx context.Context)) soloflight.JoinHandle {
	h := &Handle{tower: t, fn: fn, done: make(chan struct{})}
	t.mu.Lock()
	select {
	case <-t.stop:
		t.mu.Unlock()
		t.refuse(h)
		return h
	default:
	}
	t.queue = append(t.queue, h)
	t.mu.Unlock()
	t.kick()
	return h
}

// Run executes fn to completion. Off the runway it simply calls fn on
// the caller's goroutine. On the runway it hands fn to a helper
// goroutine and pumps queued jobs on the caller's stack until fn
// returns, so work fn is blocking on still gets dispatched.
func (t *Tower) Run(ctx context.Context, fn func(ctx context.Context)) {
	if !t.OnRunway(ctx) {
		fn(ctx)
		return
	}
	t.Stats.Pumped.Add(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// The helper is not the runway; detach so nested waits inside
		// fn block normally instead of pumping from a second
		// goroutine.
		fn(t.Detach(ctx))
	}()
	t.pump(done)
}

// Detach returns a copy of ctx without runway privilege. Privilege
// belongs to the goroutine the runway dispatched: a job that hands
// its ctx to goroutines it spawns should hand them a detached one, so
// their waits block normally instead of pumping queued jobs from the
// wrong goroutine.
func (t *Tower) Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, runwayKey{}, (*Tower)(nil))
}

// Stop makes the tower refuse all jobs that have not started, now and
// in the future; their handles resolve with ErrStopped. A job already
// executing runs to completion. Stop returns without waiting for the
// runway to drain and is safe to call from a job.
func (t *Tower) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}

// OnRunway reports whether ctx belongs to a job currently executing
// on this tower's runway.
func (t *Tower) OnRunway(ctx context.Context) bool {
	tw, _ := ctx.Value(runwayKey{}).(*Tower)
	return tw == t
}

// runway is the dispatch loop. It runs queued jobs one at a time
// until Stop, then drains the queues refusing whatever never started.
func (t *Tower) runway() {
	for {
		select {
		case <-t.stop:
			t.drain()
			return
		default:
		}
		if h := t.next(); h != nil {
			t.execute(h)
			continue
		}
		select {
		case <-t.wake:
		case <-t.stop:
		}
	}
}

// pump executes queued jobs on the calling goroutine until the until
// channel closes. Only ever runs on the runway goroutine (the loop in
// runway, or recursively under a job that is pumping); that keeps
// execution single-goroutine even while pumping. After Stop it
// refuses jobs instead of running them, but keeps draining so the
// awaited handle still resolves.
func (t *Tower) pump(until <-chan struct{}) {
	for {
		select {
		case <-until:
			return
		default:
		}
		if h := t.next(); h != nil {
			select {
			case <-t.stop:
				t.refuse(h)
			default:
				t.execute(h)
			}
			continue
		}
		select {
		case <-until:
			return
		case <-t.wake:
		}
	}
}

// next pops the job to run, preferring expedited jobs.
func (t *Tower) next() *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.expedited) > 0 {
		h := t.expedited[0]
		t.expedited = t.expedited[1:]
		return h
	}
	if len(t.queue) > 0 {
		h := t.queue[0]
		t.queue = t.queue[1:]
		return h
	}
	return nil
}

// execute runs one job with the runway marker on its ctx and settles
// its handle. A panic in the job is captured as the handle's error so
// it cannot take the runway down.
func (t *Tower) execute(h *Handle) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("tower: job panicked", "panic", r)
			h.settle(&soloflight.PanicError{Value: r, Stack: debug.Stack()})
			return
		}
		h.settle(nil)
	}()
	t.Stats.Dispatched.Add(1)
	h.fn(context.WithValue(context.Background(), runwayKey{}, t))
}

// refuse settles a job that will never run.
func (t *Tower) refuse(h *Handle) {
	t.Stats.Refused.Add(1)
	t.logger.Debug("tower: job refused", "err", ErrStopped)
	h.settle(ErrStopped)
}

// drain refuses everything still queued at stop.
func (t *Tower) drain() {
	for {
		h := t.next()
		if h == nil {
			return
		}
		t.refuse(h)
	}
}

// kick nudges the runway after an enqueue. The buffered channel makes
// it a no-op when a nudge is already pending.
func (t *Tower) kick() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// expedite moves a queued job ahead of the regular queue. No-op when
// the job has already been popped.
func (t *Tower) expedite(h *Handle) {
	t.mu.Lock()
	for i, qh := range t.queue {
		if qh == h {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			t.expedited = append(t.expedited, h)
			t.Stats.Expedited.Add(1)
			break
		}
	}
	t.mu.Unlock()
	t.kick()
}

// restore returns a still-pending job to the regular queue once its
// last joiner has withdrawn. The joiner count is re-checked under mu:
// a withdrawal that raced a fresh join must not demote a job someone
// is still waiting on.
func (t *Tower) restore(h *Handle) {
	t.mu.Lock()
	if h.joiners.Load() == 0 {
		for i, eh := range t.expedited {
			if eh == h {
				t.expedited = append(t.expedited[:i], t.expedited[i+1:]...)
				t.queue = append(t.queue, h)
				break
			}
		}
	}
	t.mu.Unlock()
}
