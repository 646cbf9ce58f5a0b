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

package tower

import (
	"context"
	"sync"
	"sync/atomic"
)

// A Handle tracks one job given to a Tower. It resolves exactly once:
// when the job returns, panics, or is refused.
type Handle struct {
	tower *Tower
	fn    func(ctx context.Context)

	// joiners counts callers currently blocked in Join; the job stays
	// expedited while it is above zero.
	joiners atomic.Int64

	once sync.Once
	err  error
	done chan struct{}
}

// settle resolves the handle. It is a no-op after the first call.
func (h *Handle) settle(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done returns a channel that is closed once the handle has resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err reports why the job did not run to completion: ErrStopped for a
// refused job, a *soloflight.PanicError for one that panicked. It is
// nil while the handle is pending and nil after a normal return.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Join blocks until the handle resolves or ctx is done. While any
// joiner waits, the job is served ahead of the regular queue; a
// joiner on the tower's own runway pumps queued jobs instead of
// blocking it. Cancelling a join withdraws only this caller's
// interest, the job itself is unaffected.
func (h *Handle) Join(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	default:
	}

	h.joiners.Add(1)
	h.tower.expedite(h)
	defer func() {
		if h.joiners.Add(-1) == 0 {
			h.tower.restore(h)
		}
	}()

	if h.tower.OnRunway(ctx) {
		h.tower.Stats.Pumped.Add(1)
		h.tower.pump(h.done)
		return h.err
	}

	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		// Resolution wins the tie.
		select {
		case <-h.done:
			return h.err
		default:
		}
		return ctx.Err()
	}
}
