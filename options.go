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
	clocks "github.com/vimeo/go-clocks"
	"go.opencensus.io/stats"
)

// FlightOption is an interface for implementing functional flight options
type FlightOption interface {
	apply(*flightOpts)
}

// flightOpts contains optional fields for the flight (each with a default
// value if not set)
type flightOpts struct {
	name     string
	sched    Scheduler
	clock    clocks.Clock
	recorder stats.Recorder
}

type funcFlightOption struct {
	f func(*flightOpts)
}

func (fdo *funcFlightOption) apply(f *flightOpts) {
	fdo.f(f)
}

func newFuncFlightOption(f func(*flightOpts)) *funcFlightOption {
	return &funcFlightOption{f: f}
}

// WithName sets the name recorded in the flight's stats tags and
// trace spans; defaults to "flight"
func WithName(name string) FlightOption {
	return newFuncFlightOption(func(f *flightOpts) {
		f.name = name
	})
}

// WithScheduler makes the factory run under s instead of on a plain
// goroutine, and makes synchronous Gets wait cooperatively through s;
// defaults to nil (no scheduler, synchronous Gets block directly)
func WithScheduler(s Scheduler) FlightOption {
	return newFuncFlightOption(func(f *flightOpts) {
		f.sched = s
	})
}

// WithClock allows the client to override the clock used for latency
// measurements; defaults to the wall clock
func WithClock(clk clocks.Clock) FlightOption {
	return newFuncFlightOption(func(f *flightOpts) {
		f.clock = clk
	})
}

// WithRecorder allows the client to specify a custom stats recorder
// for the flight's measurements; defaults to the global opencensus
// recorder
func WithRecorder(recorder stats.Recorder) FlightOption {
	return newFuncFlightOption(func(f *flightOpts) {
		f.recorder = recorder
	})
}
