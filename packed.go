package histx

import "sync/atomic"

// NumBins is the number of histogram bins, one per possible byte value.
const NumBins = 256

const (
	// packedGroups is the number of 32-bit words in one worker's private
	// counter column. Each word packs four independent 8-bit lanes, so 64
	// words cover all 256 bins: bits 0-1 of a byte value select the lane,
	// bits 2-7 select the word.
	packedGroups = NumBins / 4

	// laneSentinel flags a lane that just crossed its 7-bit usable range.
	// An increment must never carry into the neighboring lane, so a lane
	// is drained the moment its sentinel bit comes on.
	laneSentinel = 0x80808080
	laneUsable   = 0x7f7f7f7f

	// laneDrain is the count handed to the global histogram when a
	// sentinel fires: the drained lane keeps its low 7 bits and gives up
	// exactly one sentinel's worth.
	laneDrain = 128

	// laneMax is the largest count a lane may hold at finalization.
	laneMax = 127

	// maxBytesPerWorker bounds the unchecked fast path: a worker that
	// touches at most 255/4 input bytes cannot push any single lane past
	// laneMax, so no increment needs a sentinel test.
	maxBytesPerWorker = 255 / 4
)

// bank is one worker group's private counter scratch: GroupWidth columns
// of packedGroups words each. Worker w exclusively owns the contiguous
// column bank[w*packedGroups:(w+1)*packedGroups]; a 256-byte column is a
// whole number of cache lines for every supported line size, so columns
// never interfere during accumulation.
type bank [GroupWidth * packedGroups]uint32

// incPacked bumps the 8-bit lane for byte value v in the worker's private
// column. Four bins share one read-modify-write.
func incPacked(col []uint32, v byte) {
	col[v>>2] += 1 << (8 * uint32(v&3))
}

// incPackedChecked is incPacked with the overflow sentinel compiled in:
// when the updated lane's top bit comes on, laneDrain of its count moves
// to the global histogram bin and the sentinel is cleared before the
// store. Only the incremented lane can newly set a sentinel (every other
// lane was below laneMax going in), so clearing all sentinel bits touches
// nothing else.
func incPackedChecked(hist *[NumBins]uint32, col []uint32, v byte) {
	w := col[v>>2] + 1<<(8*uint32(v&3))
	if w&laneSentinel != 0 {
		atomic.AddUint32(&hist[v], laneDrain)
		w &= laneUsable
	}
	col[v>>2] = w
}

// finalizePacked folds packed group pg (bins 4*pg .. 4*pg+3) of a fully
// populated bank into the global histogram. Even and odd byte lanes are
// separated by masking so each 32-bit accumulator holds two independent
// 16-bit partial totals (GroupWidth columns * laneMax stays below 1<<16,
// the halves cannot carry into each other).
//
// The caller must have crossed a group barrier after the last increment.
func finalizePacked(hist *[NumBins]uint32, b *bank, pg int) {
	var even, odd uint32
	for col := 0; col < GroupWidth; col++ {
		w := b[col*packedGroups+pg]
		even += w & 0x00ff00ff
		odd += (w >> 8) & 0x00ff00ff
	}
	bin := pg * 4
	atomic.AddUint32(&hist[bin+0], even&0xffff)
	atomic.AddUint32(&hist[bin+1], odd&0xffff)
	atomic.AddUint32(&hist[bin+2], even>>16)
	atomic.AddUint32(&hist[bin+3], odd>>16)
}
