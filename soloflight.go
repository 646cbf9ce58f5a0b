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

// Package soloflight provides a lazily-started, single-assignment
// value cache for one expensive asynchronous computation.
//
// A Flight guarantees its factory runs at most once no matter how
// many concurrent callers ask for the value. The one outcome, success
// or failure, settles permanently and is shared with every caller,
// past and future. Each caller can abandon its own wait via context
// cancellation without disturbing the factory or the other waiters,
// and a factory that calls back into its own flight is rejected with
// ErrReentrantCall instead of deadlocking.
//
// With a cooperative Scheduler attached (the tower subpackage ships
// one), the factory runs under the scheduler, and a synchronous Get
// from the scheduler's privileged context pumps its queued work while
// waiting instead of stalling it outright.
package soloflight // import "github.com/soloflight/soloflight"

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/soloflight/soloflight/latch"

	clocks "github.com/vimeo/go-clocks"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"
)

// A Factory produces the flight's value. It is invoked at most once
// per flight, on a goroutine (or scheduler) of the flight's choosing.
//
// The ctx it receives belongs to the flight, not to any particular
// caller: it is never cancelled by callers abandoning their waits,
// and it carries the marker that lets the flight detect reentrant
// calls. A factory that needs to call other flights should pass this
// ctx along so nested reentrancy stays detectable.
type Factory[T any] func(ctx context.Context) (T, error)

// A Flight is a single-assignment cache around one Factory. The zero
// value is not usable; construct flights with New.
//
// All methods are safe for concurrent use. Once the flight has
// settled, the result paths are lock-free.
type Flight[T any] struct {
	name     string
	clock    clocks.Clock
	recorder stats.Recorder

	// mu guards the start transition and nothing else: claiming the
	// factory, hooking the scheduler and publishing the task. The
	// factory body always runs outside of it.
	mu      sync.Mutex
	factory Factory[T]

	// sched and join are live only while a scheduled factory is
	// outstanding. Both are dropped when the result settles, so a
	// settled flight keeps no hold on its scheduler.
	sched Scheduler
	join  JoinHandle

	// gate defers the factory until the start has been published:
	// the wrapped computation parks on it and the start-race winner
	// opens it right after releasing mu.
	gate latch.Latch

	// task is written exactly once, under mu. The atomic store/load
	// pair lets every fast path read it without the lock.
	task atomic.Pointer[Task[T]]

	_ int32 // force Stats to be 8-byte aligned on 32-bit platforms

	// Stats are statistics on the flight.
	Stats FlightStats
}

// FlightStats are per-flight statistics.
type FlightStats struct {
	Gets           AtomicInt // any Get or GetAsync request
	SettledHits    AtomicInt // requests answered straight from the settled result
	Starts         AtomicInt // factory launches (at most 1)
	Waits          AtomicInt // synchronous callers that waited on a pending result
	WaitCancels    AtomicInt // waits abandoned by caller cancellation
	ReentrantCalls AtomicInt // calls rejected for factory reentrancy
}

// New creates a Flight that will produce its value by calling factory
// the first time anyone asks for it.
func New[T any](factory Factory[T], opts ...FlightOption) *Flight[T] {
	if factory == nil {
		panic("nil factory")
	}
	fOpts := flightOpts{
		name:  "flight",
		clock: clocks.DefaultClock(),
	}
	for _, opt := range opts {
		opt.apply(&fOpts)
	}
	return &Flight[T]{
		name:     fOpts.name,
		clock:    fOpts.clock,
		recorder: fOpts.recorder,
		sched:    fOpts.sched,
		factory:  factory,
	}
}

// Name returns the name of the flight.
func (f *Flight[T]) Name() string {
	return f.name
}

// Get returns the flight's value, blocking until it settles. The
// first caller ever launches the factory; everyone else shares that
// one outcome, error included. ctx governs only this caller's wait:
// cancelling it abandons the wait with ctx.Err() while the factory,
// and every other caller, carries on.
//
// With a scheduler attached, a Get that has to wait is driven through
// Scheduler.Run, so a caller on the scheduler's privileged context
// pumps its queue (the factory included) instead of deadlocking it.
func (f *Flight[T]) Get(ctx context.Context) (T, error) {
	ctx, _ = tag.New(ctx, tag.Upsert(FlightKey, f.name))
	ctx, span := trace.StartSpan(ctx, "soloflight.(*Flight).Get on "+f.name)
	begin := f.clock.Now()
	defer func() {
		f.recordStats(ctx, MGetLatencyMilliseconds.M(sinceInMilliseconds(f.clock, begin)))
		span.End()
	}()

	// Settled fast path before anything else: a warm flight answers
	// without the lock and without consulting the scheduler.
	if t := f.task.Load(); t != nil && t.Settled() {
		span.Annotatef([]trace.Attribute{trace.BoolAttribute("settled_hit", true)}, "Settled hit")
		f.Stats.Gets.Add(1)
		f.Stats.SettledHits.Add(1)
		f.recordStats(ctx, MGets.M(1), MSettledHits.M(1))
		return t.Result()
	}

	t, err := f.GetAsync(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if t.Settled() {
		return t.Result()
	}

	f.Stats.Waits.Add(1)
	f.recordStats(ctx, MWaits.M(1))

	f.mu.Lock()
	sched := f.sched
	f.mu.Unlock()

	var val T
	var werr error
	if sched != nil {
		sched.Run(ctx, func(runCtx context.Context) {
			val, werr = t.Wait(runCtx)
		})
	} else {
		val, werr = t.Wait(ctx)
	}
	if werr != nil {
		if t.Settled() {
			span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: "factory failed: " + werr.Error()})
		} else {
			span.SetStatus(trace.Status{Code: trace.StatusCodeCancelled, Message: werr.Error()})
			f.Stats.WaitCancels.Add(1)
			f.recordStats(ctx, MWaitCancels.M(1))
		}
	}
	return val, werr
}

// GetAsync returns the flight's shared task, launching the factory if
// this caller wins the start race. Every caller receives the same
// *Task; each awaits it independently (Task.Wait) under its own ctx.
//
// GetAsync fails without starting anything when ctx is already
// cancelled and the factory has not started, and when it is invoked
// from inside the factory itself (ErrReentrantCall).
func (f *Flight[T]) GetAsync(ctx context.Context) (*Task[T], error) {
	ctx, _ = tag.New(ctx, tag.Upsert(FlightKey, f.name))
	ctx, span := trace.StartSpan(ctx, "soloflight.(*Flight).GetAsync on "+f.name)
	defer span.End()

	f.Stats.Gets.Add(1)
	f.recordStats(ctx, MGets.M(1))

	if err := f.checkReentry(ctx); err != nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeFailedPrecondition, Message: err.Error()})
		f.Stats.ReentrantCalls.Add(1)
		f.recordStats(ctx, MReentrantCalls.M(1))
		return nil, err
	}

	t := f.task.Load()
	if t == nil {
		var err error
		t, err = f.start(ctx)
		if err != nil {
			span.SetStatus(trace.Status{Code: trace.StatusCodeCancelled, Message: err.Error()})
			return nil, err
		}
	}
	if t.Settled() {
		span.Annotatef([]trace.Attribute{trace.BoolAttribute("settled_hit", true)}, "Settled hit")
		f.Stats.SettledHits.Add(1)
		f.recordStats(ctx, MSettledHits.M(1))
		return t, nil
	}
	// A live join handle means a scheduler owns the factory: join it
	// on this caller's behalf so a later synchronous wait elsewhere
	// can piggyback, and so this caller's cancellation de-joins.
	f.joinPending(ctx)
	return t, nil
}

// start runs the race to claim the factory. At most one caller in the
// flight's lifetime wins; everyone else returns the task the winner
// published. mu covers only the start decision; the factory itself
// runs behind the gate, which opens after mu is released.
func (f *Flight[T]) start(ctx context.Context) (*Task[T], error) {
	f.mu.Lock()
	if t := f.task.Load(); t != nil {
		// Lost the race; the winner already published.
		f.mu.Unlock()
		return t, nil
	}
	if err := ctx.Err(); err != nil {
		// Never start on behalf of an already-cancelled caller. The
		// factory stays unclaimed, so a later caller still can.
		f.mu.Unlock()
		return nil, err
	}

	factory := f.factory
	f.factory = nil // consumed exactly once

	t := newTask[T]()
	run := func(runCtx context.Context) {
		// Park until the start has been published, so every racing
		// caller observes the same pending task before the factory
		// can have any effect.
		<-f.gate.Done()
		f.invoke(runCtx, factory, t)
	}
	if f.sched != nil {
		f.join = f.sched.RunAsync(run)
		go f.watch(f.join, t)
	} else {
		go run(context.Background())
	}

	f.task.Store(t)
	f.Stats.Starts.Add(1)
	f.mu.Unlock()

	f.gate.Open()
	f.recordStats(ctx, MStarts.M(1))
	return t, nil
}

// invoke runs the claimed factory and settles the task with its
// outcome. The reentrancy marker rides the factory's ctx for the
// duration of the call.
func (f *Flight[T]) invoke(ctx context.Context, factory Factory[T], t *Task[T]) {
	ctx = context.WithValue(ctx, reentryKey{f}, struct{}{})
	ctx, _ = tag.New(ctx, tag.Upsert(FlightKey, f.name))

	begin := f.clock.Now()
	val, err := runFactory(ctx, factory)
	f.recordStats(ctx, MFactoryLatencyMilliseconds.M(sinceInMilliseconds(f.clock, begin)))
	if err != nil {
		f.recordStats(ctx, MFactoryFailures.M(1))
	} else {
		f.recordStats(ctx, MFactorySuccesses.M(1))
	}

	f.finish()
	t.settle(val, err)
}

// runFactory calls factory, converting a panic into a *PanicError so
// a panicking factory settles the flight like any other failure.
func runFactory[T any](ctx context.Context, factory Factory[T]) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return factory(ctx)
}

// watch settles the task when the scheduler resolves the join handle
// without ever running the factory (for example because it was
// stopped). The result must settle exactly once even when the
// scheduler dies first.
func (f *Flight[T]) watch(join JoinHandle, t *Task[T]) {
	<-join.Done()
	if err := join.Err(); err != nil {
		f.finish()
		var zero T
		t.settle(zero, err)
	}
}

// finish drops the scheduler and join references. They are needed
// only while the factory is outstanding; a settled flight keeps no
// hold on its scheduler.
func (f *Flight[T]) finish() {
	f.mu.Lock()
	f.sched = nil
	f.join = nil
	f.mu.Unlock()
}

// joinPending registers the caller's interest in a scheduler-owned
// factory that has not settled yet. The join lives until the handle
// resolves or the caller's ctx is done, whichever comes first;
// cancellation withdraws only this caller's interest.
func (f *Flight[T]) joinPending(ctx context.Context) {
	f.mu.Lock()
	join := f.join
	f.mu.Unlock()
	if join == nil {
		return
	}
	go func() {
		_ = join.Join(waitContext{ctx})
	}()
}

// waitContext follows its parent's cancellation but carries none of
// its values. Background joins run on their own goroutine, so any
// scheduler privilege riding the caller's ctx must not come along:
// privilege belongs to the goroutine the scheduler dispatched, not to
// whoever inherited the ctx.
type waitContext struct{ context.Context }

func (waitContext) Value(any) any { return nil }

// reentryKey marks a ctx as belonging to the factory call chain of
// one particular flight. Keyed by instance so that nested flights
// each detect reentry only into themselves.
type reentryKey struct{ flight any }

// checkReentry rejects calls made from inside this flight's own
// factory before the result has settled. The marker rides the ctx the
// factory receives, so it follows the factory's logical chain across
// suspension points but is invisible to independent callers, who
// simply wait on the shared task.
func (f *Flight[T]) checkReentry(ctx context.Context) error {
	if ctx.Value(reentryKey{f}) == nil {
		return nil
	}
	if t := f.task.Load(); t != nil && t.Settled() {
		return nil
	}
	return ErrReentrantCall
}

// Started reports whether the factory has been claimed: true from the
// instant the start race is won, even while the factory is still
// running.
func (f *Flight[T]) Started() bool {
	return f.task.Load() != nil
}

// Settled reports whether the flight holds its final outcome, value
// or error.
func (f *Flight[T]) Settled() bool {
	t := f.task.Load()
	return t != nil && t.Settled()
}

// String renders the settled value, "(faulted)" after a factory
// failure, and "(value not created)" until the flight settles. It
// never triggers the factory.
func (f *Flight[T]) String() string {
	t := f.task.Load()
	if t == nil || !t.Settled() {
		return "(value not created)"
	}
	val, err := t.Result()
	if err != nil {
		return "(faulted)"
	}
	return fmt.Sprint(val)
}

func (f *Flight[T]) recordStats(ctx context.Context, measurements ...stats.Measurement) {
	stats.RecordWithOptions(
		ctx,
		stats.WithMeasurements(measurements...),
		stats.WithRecorder(f.recorder),
	)
}

// An AtomicInt is an int64 to be accessed atomically.
type AtomicInt int64

// Add atomically adds n to i.
func (i *AtomicInt) Add(n int64) {
	atomic.AddInt64((*int64)(i), n)
}

// Get atomically gets the value of i.
func (i *AtomicInt) Get() int64 {
	return atomic.LoadInt64((*int64)(i))
}

func (i *AtomicInt) String() string {
	return strconv.FormatInt(i.Get(), 10)
}
