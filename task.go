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

import (
	"context"
	"sync"
)

// A Task is the shared outcome of a flight's factory. It settles
// exactly once, to either a value or an error, and after that is
// immutable and safe for unsynchronized concurrent reads. Every
// caller of a flight observes the same Task.
type Task[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

// settle records the outcome and releases all waiters. It is a no-op
// after the first call: once settled, a task never changes.
func (t *Task[T]) settle(val T, err error) {
	t.once.Do(func() {
		t.val, t.err = val, err
		close(t.done)
	})
}

// Done returns a channel that is closed once the task has settled.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Settled reports whether the task has settled.
func (t *Task[T]) Settled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result blocks, if necessary, until the task settles and then
// returns its outcome.
func (t *Task[T]) Result() (T, error) {
	<-t.done
	return t.val, t.err
}

// Wait blocks until the task settles or ctx is done, whichever comes
// first. Cancellation abandons only this caller's wait: the task, and
// every other waiter, is unaffected. If settlement and cancellation
// race, the settled result wins.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		select {
		case <-t.done:
			return t.val, t.err
		default:
		}
		var zero T
		return zero, ctx.Err()
	}
}
