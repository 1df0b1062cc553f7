package histx

import (
	"errors"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrGroupShape reports a worker layout whose flattened width is not
	// GroupWidth.
	ErrGroupShape = errors.New("histx: group shape must multiply out to GroupWidth")

	// ErrGroupCount reports an explicit group count too small to bound
	// the packed counters on the unchecked fast path.
	ErrGroupCount = errors.New("histx: group count cannot bound packed counters; enable CheckOverflow")

	// ErrRegion reports a region that falls outside the source buffer.
	ErrRegion = errors.New("histx: region exceeds source bounds")

	// ErrPitch reports a multi-row region whose rows are not contiguous.
	ErrPitch = errors.New("histx: region rows are not contiguous")
)

// GroupShape is the 1-3 dimensional worker layout of one group. Only the
// flattened width matters to the kernel, and it must equal GroupWidth.
type GroupShape struct {
	X, Y, Z int
}

// Width returns the flattened worker count of the shape. Zero extents
// count as 1, so 1D and 2D shapes need not fill every dimension.
func (s GroupShape) Width() int {
	return max(s.X, 1) * max(s.Y, 1) * max(s.Z, 1)
}

// Config controls one histogram launch.
//
// The zero value is ready to use: a 1D group of GroupWidth workers, a
// group count derived from the input size, the unchecked fast path, and
// no cap on concurrently running groups.
type Config struct {
	// Shape is the worker layout of one group; its flattened width must
	// equal GroupWidth. The zero value means {GroupWidth, 1, 1}.
	Shape GroupShape

	// Groups is the number of independent worker groups. Zero derives it
	// from the input: the fast path sizes the grid so no worker touches
	// more than maxBytesPerWorker input bytes (no lane can reach its
	// sentinel), the checked path uses one group per available P.
	Groups int

	// CheckOverflow compiles the sentinel test into every increment.
	// Required whenever Groups is pinned too small for the fast-path
	// bound.
	CheckOverflow bool

	// Parallelism caps how many groups run at once. Zero runs them all.
	// Final counts are identical for any value.
	Parallelism int
}

// Run computes the histogram of input into hist and reports the duration
// of the parallel phase. hist is zeroed before accumulation; its contents
// are only valid when the returned error is nil. Any trailing fractional
// word of input is tallied on the host after the grid completes.
func (c Config) Run(hist *[NumBins]uint32, input []byte) (time.Duration, error) {
	shape := c.Shape
	if shape == (GroupShape{}) {
		shape = GroupShape{X: GroupWidth}
	}
	if shape.Width() != GroupWidth {
		return 0, ErrGroupShape
	}

	words := len(input) / 4
	groups := c.Groups
	if groups <= 0 {
		groups = deriveGroups(len(input), c.CheckOverflow)
	}
	if !c.CheckOverflow && maxLaneIncrements(words, groups) > laneMax {
		return 0, ErrGroupCount
	}

	clear(hist[:])

	k := &kernel{
		hist:  hist,
		words: wordView(input),
		grid:  make([]groupState, groups),
	}

	start := time.Now()
	var g errgroup.Group
	if c.Parallelism > 0 {
		g.SetLimit(c.Parallelism)
	}
	for id := range k.grid {
		g.Go(func() error { return k.runGroup(id, c.CheckOverflow) })
	}
	err := g.Wait()
	elapsed := time.Since(start)
	if err != nil {
		return 0, err
	}

	// Trailing 1-3 bytes: no concurrent writers remain after Wait, so
	// plain adds suffice.
	for _, v := range input[words*4:] {
		hist[v]++
	}
	return elapsed, nil
}

// ComputeHistogram tallies the w*h byte region at (x, y) of a pitched
// source buffer into hist using the throughput-optimized fast path: the
// grid is sized so no private lane can overflow and increments carry no
// sentinel test. Returns the elapsed time of the parallel phase.
func ComputeHistogram(hist *[NumBins]uint32, src []byte, pitch, x, y, w, h int, shape GroupShape) (time.Duration, error) {
	region, err := flatten(src, pitch, x, y, w, h)
	if err != nil {
		return 0, err
	}
	return Config{Shape: shape}.Run(hist, region)
}

// ComputeHistogramChecked is ComputeHistogram with per-increment overflow
// detection forced on. Use it when the group count cannot be bounded by
// construction.
func ComputeHistogramChecked(hist *[NumBins]uint32, src []byte, pitch, x, y, w, h int, shape GroupShape) (time.Duration, error) {
	region, err := flatten(src, pitch, x, y, w, h)
	if err != nil {
		return 0, err
	}
	return Config{Shape: shape, CheckOverflow: true}.Run(hist, region)
}

// flatten slices the region out of the pitched source. The kernel strides
// one flat buffer, so rows must be contiguous: pitch == w, or a single
// row.
func flatten(src []byte, pitch, x, y, w, h int) ([]byte, error) {
	if x < 0 || y < 0 || w < 0 || h < 0 || pitch < w {
		return nil, ErrRegion
	}
	if w == 0 || h == 0 {
		return nil, nil
	}
	if h > 1 && pitch != w {
		return nil, ErrPitch
	}
	off := y*pitch + x
	end := off + w*h
	if end > len(src) {
		return nil, ErrRegion
	}
	return src[off:end], nil
}

// maxLaneIncrements is the worst case number of increments one packed
// lane can receive before finalization: every byte of every word a worker
// touches landing in the same lane.
func maxLaneIncrements(words, groups int) int {
	if words == 0 {
		return 0
	}
	return 4 * ceilDiv(words, groups*GroupWidth)
}

// deriveGroups sizes the grid. The fast path follows the
// maxBytesPerWorker safety margin; the checked path just fills the
// machine.
func deriveGroups(n int, checked bool) int {
	if checked {
		return max(runtime.GOMAXPROCS(0), 1)
	}
	return max(ceilDiv(n, GroupWidth*maxBytesPerWorker), 1)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
