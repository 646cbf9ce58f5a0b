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

// Tests for flights driven by a scheduler. These live outside the
// package so they can use the tower implementation, which itself
// imports soloflight.

package soloflight_test

import (
	"context"
	"errors"
	"testing"

	"github.com/soloflight/soloflight"
	"github.com/soloflight/soloflight/tower"
)

func TestScheduledFactoryRuns(t *testing.T) {
	tw := tower.New()
	defer tw.Stop()

	f := soloflight.New(func(_ context.Context) (string, error) {
		return "dispatched", nil
	}, soloflight.WithName("scheduled"), soloflight.WithScheduler(tw))

	got, err := f.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "dispatched" {
		t.Errorf("got %q; want %q", got, "dispatched")
	}
	if got := tw.Stats.Dispatched.Load(); got != 1 {
		t.Errorf("tower dispatched %d jobs; want 1", got)
	}
}

// A synchronous Get from the tower's own runway must pump the queue,
// because the factory behind it is itself a queued job.
func TestRunwayGetPumps(t *testing.T) {
	tw := tower.New()
	defer tw.Stop()

	f := soloflight.New(func(_ context.Context) (string, error) {
		return "pumped", nil
	}, soloflight.WithName("runway-bound"), soloflight.WithScheduler(tw))

	res := make(chan string, 1)
	errc := make(chan error, 1)
	h := tw.RunAsync(func(ctx context.Context) {
		got, err := f.Get(ctx)
		if err != nil {
			errc <- err
			return
		}
		res <- got
	})
	if err := h.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	select {
	case got := <-res:
		if got != "pumped" {
			t.Errorf("got %q; want %q", got, "pumped")
		}
	case err := <-errc:
		t.Fatalf("Get from the runway failed: %v", err)
	}
	if tw.Stats.Pumped.Load() == 0 {
		t.Error("expected the runway Get to pump the queue")
	}
}

// Two flights on one tower may consume each other from their
// factories; the pump keeps the shared runway moving.
func TestNestedFlightsOneTower(t *testing.T) {
	tw := tower.New()
	defer tw.Stop()

	inner := soloflight.New(func(_ context.Context) (int, error) {
		return 7, nil
	}, soloflight.WithName("inner"), soloflight.WithScheduler(tw))
	outer := soloflight.New(func(ctx context.Context) (int, error) {
		v, err := inner.Get(ctx)
		return v * 6, err
	}, soloflight.WithName("outer"), soloflight.WithScheduler(tw))

	got, err := outer.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("got %d; want 42", got)
	}
	if got := tw.Stats.Dispatched.Load(); got != 2 {
		t.Errorf("tower dispatched %d jobs; want 2", got)
	}
}

// Once the flight has settled, Get answers from the shared result and
// never consults the scheduler again: no new dispatches, no pumping,
// even from the tower's own runway.
func TestWarmGetSkipsScheduler(t *testing.T) {
	tw := tower.New()
	defer tw.Stop()

	f := soloflight.New(func(_ context.Context) (int, error) {
		return 7, nil
	}, soloflight.WithName("warm"), soloflight.WithScheduler(tw))
	if got, err := f.Get(context.Background()); err != nil || got != 7 {
		t.Fatalf("Get = %v, %v; want 7, nil", got, err)
	}

	dispatched := tw.Stats.Dispatched.Load()
	pumped := tw.Stats.Pumped.Load()

	for i := 0; i < 3; i++ {
		if got, err := f.Get(context.Background()); err != nil || got != 7 {
			t.Fatalf("warm Get = %v, %v; want 7, nil", got, err)
		}
	}
	h := tw.RunAsync(func(ctx context.Context) {
		if got, err := f.Get(ctx); err != nil || got != 7 {
			t.Errorf("warm Get on the runway = %v, %v; want 7, nil", got, err)
		}
	})
	if err := h.Join(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := tw.Stats.Dispatched.Load(); got != dispatched+1 {
		t.Errorf("Dispatched = %d; want %d (only the one checking job)", got, dispatched+1)
	}
	if got := tw.Stats.Pumped.Load(); got != pumped {
		t.Errorf("Pumped = %d; want it unchanged at %d", got, pumped)
	}
}

// Stopping the tower fails a flight whose factory never got to run,
// and the factory stays unrun.
func TestStopFailsPendingFlight(t *testing.T) {
	tw := tower.New()

	started := make(chan struct{})
	gate := make(chan struct{})
	blocker := tw.RunAsync(func(_ context.Context) {
		close(started)
		<-gate
	})

	var fills soloflight.AtomicInt
	f := soloflight.New(func(_ context.Context) (int, error) {
		fills.Add(1)
		return 1, nil
	}, soloflight.WithName("stranded"), soloflight.WithScheduler(tw))

	// The blocker must own the runway before the factory job is even
	// queued; otherwise join promotion could dispatch the factory
	// ahead of it and settle the flight before the stop.
	<-started

	task, err := f.GetAsync(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	tw.Stop()
	close(gate)

	if _, err := task.Wait(context.Background()); !errors.Is(err, tower.ErrStopped) {
		t.Fatalf("pending flight settled with %v; want tower.ErrStopped", err)
	}
	if err := blocker.Join(context.Background()); err != nil {
		t.Errorf("in-flight job at stop: %v; want it to finish cleanly", err)
	}
	if got := fills.Get(); got != 0 {
		t.Errorf("factory ran %d times after stop; want 0", got)
	}
	if !f.Settled() {
		t.Error("refused flight should settle")
	}
	if got := f.String(); got != "(faulted)" {
		t.Errorf("String() = %q; want %q", got, "(faulted)")
	}
	// The settled outcome is served straight from the flight; the
	// dead tower is never consulted again.
	if _, err := f.Get(context.Background()); !errors.Is(err, tower.ErrStopped) {
		t.Errorf("settled Get = %v; want the shared tower.ErrStopped", err)
	}

	// A flight created against the stopped tower fails the same way,
	// straight from Get.
	f2 := soloflight.New(func(_ context.Context) (int, error) {
		return 2, nil
	}, soloflight.WithScheduler(tw))
	if _, err := f2.Get(context.Background()); !errors.Is(err, tower.ErrStopped) {
		t.Fatalf("Get on a stopped tower = %v; want tower.ErrStopped", err)
	}
}
