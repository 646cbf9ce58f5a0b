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

// Package latch provides a one-shot start gate.
package latch

import "sync"

// A Latch is a gate that opens exactly once. Waiters block on Done
// until some goroutine calls Open; after that the gate stays open
// forever. It is the publish-before-run primitive: work parked behind
// a Latch cannot begin until whoever set it up says so.
//
// The zero value of a Latch is ready to use.
type Latch struct {
	done chan struct{}
	lazy sync.Once
	open func()
}

func (l *Latch) init() {
	l.lazy.Do(func() {
		l.done = make(chan struct{})
		l.open = sync.OnceFunc(func() { close(l.done) })
	})
}

// Open opens the latch, releasing every current and future waiter. It
// is safe to call more than once.
func (l *Latch) Open() {
	l.init()
	l.open()
}

// Done returns a channel that is closed once the latch has been
// opened. The channel can already be closed when this method returns.
func (l *Latch) Done() <-chan struct{} {
	l.init()
	return l.done
}

// Opened reports whether the latch has been opened.
func (l *Latch) Opened() bool {
	l.init()
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
