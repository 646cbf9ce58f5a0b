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

package soloflight

import "context"

// A Scheduler runs work under an execution policy of its own, such as
// a single privileged goroutine. Supplying one to a flight (via
// WithScheduler) makes the factory run under it, and makes Get prefer
// a cooperative wait over hard-blocking the scheduler's own context.
//
// The functions handed to a Scheduler are deliberately untyped: the
// flight wraps its factory in a closure that settles the typed task,
// so schedulers stay free of type parameters and one scheduler can
// serve flights of different value types.
//
// The tower subpackage provides an implementation.
type Scheduler interface {
	// RunAsync arranges for fn to run under the scheduler and
	// returns a handle that resolves once fn has returned (or once
	// the scheduler has refused to run it). RunAsync must not invoke
	// fn before returning.
	RunAsync(fn func(ctx context.Context)) JoinHandle

	// Run executes fn to completion before returning. When invoked
	// from the scheduler's privileged context it must keep that
	// context's queued work moving while fn blocks, instead of
	// stalling it; from anywhere else it may simply call fn.
	Run(ctx context.Context, fn func(ctx context.Context))
}

// A JoinHandle tracks one unit of work given to a Scheduler via
// RunAsync.
type JoinHandle interface {
	// Done returns a channel that is closed once the work has
	// finished, or once the scheduler has refused to run it.
	Done() <-chan struct{}

	// Err reports, after Done, why the work did not run to
	// completion: the scheduler refused it (for example it was
	// stopped), or it panicked. It is nil when the work returned
	// normally, and nil before Done.
	Err() error

	// Join registers cooperative interest in the handle until it
	// resolves or ctx is done, returning ctx.Err in the latter case.
	// Joining never affects the underlying work; cancelling a join
	// only withdraws this caller's interest.
	Join(ctx context.Context) error
}
