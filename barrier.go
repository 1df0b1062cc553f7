package histx

import (
	"sync/atomic"

	"github.com/llxisdsh/histx/internal/opt"
)

// barrier is the group-wide synchronization point separating the kernel's
// phases. No worker may pass it until every worker of the group has
// arrived, which is what makes one worker's private column writes visible
// to the workers that read them during finalization.
//
// It is cyclic: tripping it resets it for the next phase, so a single
// instance serves the zero-fill, accumulation and finalization handoffs.
//
// It is zero-value usable.
//
// Size: 16 bytes (8 byte state + 2*4 byte sema).
type barrier struct {
	_ noCopy
	// state 64-bit:
	//   High 32: Generation
	//   Low 32: Current Waiter Count
	state atomic.Uint64

	// sema is a double-buffered semaphore to prevent "signal stealing"
	// between generations.
	// Generation N parks on sema[N%2].
	sema [2]opt.Sema
}

// meet blocks until parties workers have arrived at the barrier.
//
// panics if parties <= 0.
//
// The last worker to arrive wakes all parked workers and resets the
// barrier for the next generation. Returns the arrival index
// (0 to parties-1), where parties-1 indicates the caller tripped the
// barrier.
func (b *barrier) meet(parties int) int {
	if parties <= 0 {
		panic("histx: parties must be positive")
	}

	// Fast path for single party
	if parties == 1 {
		return 0
	}

	var spins int
	for {
		s := b.state.Load()
		gen := s >> 32
		count := uint32(s)

		if count == uint32(parties)-1 {
			// We are the last to arrive.
			// Reset count to 0 and increment generation.
			nextState := (gen + 1) << 32
			if b.state.CompareAndSwap(s, nextState) {
				// Wake everyone parked in THIS generation.
				semaPtr := &b.sema[gen%2]
				for i := 0; i < int(count); i++ {
					semaPtr.Release()
				}
				return int(count)
			}
		} else if b.state.CompareAndSwap(s, s+1) {
			// Not the last. Park on this generation's semaphore.
			b.sema[gen%2].Acquire()
			return int(count)
		}
		delay(&spins)
	}
}
