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
	"bytes"
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrReentrantCall is returned when a flight's entry points are
// invoked, directly or transitively, from within its own factory
// before the factory's result has settled. This is always a bug in
// the factory, not a race: an independent concurrent caller never
// sees this error and simply waits for the shared result.
var ErrReentrantCall = errors.New("soloflight: flight re-entered from inside its own factory")

// A PanicError wraps a value recovered from a panicking factory,
// along with the stack at the time of the panic. A panic settles the
// flight permanently, exactly like an ordinary factory error, and
// every caller receives the same *PanicError.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("%v\n\n%s", p.Value, p.Stack)
}

// Unwrap returns the panic value if it was an error, or nil.
func (p *PanicError) Unwrap() error {
	err, ok := p.Value.(error)
	if !ok {
		return nil
	}
	return err
}

func newPanicError(v any) error {
	stack := debug.Stack()

	// The first line of the stack trace is of the form "goroutine N
	// [status]:" but by the time the error reaches a waiter the
	// goroutine may no longer exist and its status will have changed.
	// Trim out the misleading line.
	if line := bytes.IndexByte(stack, '\n'); line >= 0 {
		stack = stack[line+1:]
	}
	return &PanicError{Value: v, Stack: stack}
}
