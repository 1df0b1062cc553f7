// Package histx computes 256-bin byte-value histograms over large buffers.
//
// Each fixed-width worker group privatizes its counts into a bank of
// narrow packed counters held in fast per-group scratch, then reduces the
// bank into the caller's global histogram with atomic adds after a group
// barrier. Packing four 8-bit lanes per 32-bit word quadruples effective
// throughput per memory access at the price of overflow discipline: a
// lane is never allowed past its 7-bit usable range before being drained.
package histx

import (
	"sync"
	"unsafe"

	"github.com/llxisdsh/histx/internal/opt"
)

// GroupWidth is the fixed number of workers in one group. Finalization
// assigns one packed bin group per worker, so the width must equal
// packedGroups; launches with any other flattened shape are rejected.
const GroupWidth = packedGroups

// groupState is one group's slot in the grid, padded to a cache line so
// neighboring groups' barrier traffic never collides.
type groupState struct {
	bank *bank
	bar  barrier
	_    [(opt.CacheLineSize_ - unsafe.Sizeof(struct {
		bank *bank
		bar  barrier
	}{})%opt.CacheLineSize_) % opt.CacheLineSize_]byte
}

// kernel is the state of one launch: the caller-owned global histogram,
// the word view of the input, and the grid of independent groups. The
// histogram is the only resource shared across groups and is mutated
// exclusively through atomic adds.
type kernel struct {
	hist  *[NumBins]uint32
	words []uint32
	grid  []groupState
}

// bankPool recycles 16 KiB banks across launches. Banks come back dirty;
// the kernel's cooperative zero-fill phase handles that.
var bankPool = sync.Pool{New: func() any { return new(bank) }}

// runGroup drives one worker group to completion: it borrows a bank and
// runs GroupWidth workers through accumulation and finalization. The bank
// is invisible outside the group and is returned to the pool before the
// group reports done.
func (k *kernel) runGroup(id int, checked bool) error {
	st := &k.grid[id]
	st.bank = bankPool.Get().(*bank)
	defer func() {
		bankPool.Put(st.bank)
		st.bank = nil
	}()

	var wg sync.WaitGroup
	wg.Add(GroupWidth)
	for w := 0; w < GroupWidth; w++ {
		go func(lane int) {
			defer wg.Done()
			k.worker(id, lane, checked)
		}(w)
	}
	wg.Wait()
	return nil
}

// worker is one parallel execution unit of a group.
func (k *kernel) worker(gid, lane int, checked bool) {
	st := &k.grid[gid]
	col := st.bank[lane*packedGroups : (lane+1)*packedGroups]

	// Phase 0: cooperative zero-fill. Each worker clears its own column;
	// together they cover the whole bank.
	clear(col)
	st.bar.meet(GroupWidth)

	// Phase 1: grid-strided accumulation. Launch-wide worker i reads
	// words i, i+stride, i+2*stride, ... which spreads the input evenly
	// across the grid whatever its size. The two loops mirror the
	// compile-time checked/unchecked selection: no per-byte flag test on
	// the fast path.
	stride := GroupWidth * len(k.grid)
	if checked {
		for i := gid*GroupWidth + lane; i < len(k.words); i += stride {
			w := k.words[i]
			incPackedChecked(k.hist, col, byte(w))
			incPackedChecked(k.hist, col, byte(w>>8))
			incPackedChecked(k.hist, col, byte(w>>16))
			incPackedChecked(k.hist, col, byte(w>>24))
		}
	} else {
		for i := gid*GroupWidth + lane; i < len(k.words); i += stride {
			w := k.words[i]
			incPacked(col, byte(w))
			incPacked(col, byte(w>>8))
			incPacked(col, byte(w>>16))
			incPacked(col, byte(w>>24))
		}
	}

	// Phase 2: every worker's increments must be visible before anyone
	// reads a neighboring column.
	st.bar.meet(GroupWidth)
	finalizePacked(k.hist, st.bank, lane)
}

// wordView reinterprets b as 32-bit words, dropping any trailing
// fractional word. Counting is byte-order independent: the lane a byte
// lands in differs across architectures, never the bin it is tallied in.
// Unaligned word loads are fine (golang.org/issue/37298), and buffers
// from make are word aligned anyway.
func wordView(b []byte) []uint32 {
	n := len(b) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(b))), n)
}
