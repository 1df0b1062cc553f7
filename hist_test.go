package histx

import (
	"math/rand/v2"
	"testing"
)

func refHistogram(b []byte) (h [NumBins]uint32) {
	for _, v := range b {
		h[v]++
	}
	return
}

// checkRun runs cfg over input and compares bin-by-bin against the
// sequential reference, returning the computed histogram.
func checkRun(t *testing.T, cfg Config, input []byte) [NumBins]uint32 {
	t.Helper()

	var got [NumBins]uint32
	for i := range got {
		got[i] = 0xdeadbeef // Run must zero this
	}
	if _, err := cfg.Run(&got, input); err != nil {
		t.Fatalf("Run(N=%d, %+v): %v", len(input), cfg, err)
	}

	want := refHistogram(input)
	for bin := range got {
		if got[bin] != want[bin] {
			t.Fatalf("N=%d cfg=%+v: bin %#02x = %d, want %d",
				len(input), cfg, bin, got[bin], want[bin])
		}
	}
	var sum uint64
	for _, c := range got {
		sum += uint64(c)
	}
	if sum != uint64(len(input)) {
		t.Fatalf("sum of bins = %d, want N = %d", sum, len(input))
	}
	return got
}

func randBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Uint32())
	}
	return b
}

func TestRun_Empty(t *testing.T) {
	got := checkRun(t, Config{}, nil)
	for bin, c := range got {
		if c != 0 {
			t.Fatalf("bin %d = %d on empty input", bin, c)
		}
	}
	checkRun(t, Config{CheckOverflow: true}, []byte{})
}

func TestRun_FourMax(t *testing.T) {
	got := checkRun(t, Config{}, []byte{0xff, 0xff, 0xff, 0xff})
	if got[0xff] != 4 {
		t.Fatalf("bin 0xff = %d, want 4", got[0xff])
	}
}

func TestRun_AlternatingPattern(t *testing.T) {
	input := make([]byte, 0, 4000)
	for range 1000 {
		input = append(input, 0x00, 0xff, 0x00, 0xff)
	}
	got := checkRun(t, Config{}, input)
	if got[0x00] != 2000 || got[0xff] != 2000 {
		t.Fatalf("bins = %d/%d, want 2000/2000", got[0x00], got[0xff])
	}
}

func TestRun_TrailingBytes(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for _, n := range []int{1, 2, 3, 5, 4001, 4002, 4003} {
		checkRun(t, Config{}, randBytes(rng, n))
		checkRun(t, Config{CheckOverflow: true}, randBytes(rng, n))
	}
}

func TestRun_SingleValueOverflow(t *testing.T) {
	// One group over 64 KiB of a single value: each lane receives far
	// more than its usable range, so every count must flow through the
	// sentinel drain path.
	input := make([]byte, 64*1024)
	for i := range input {
		input[i] = 0x37
	}
	got := checkRun(t, Config{Groups: 1, CheckOverflow: true}, input)
	if got[0x37] != uint32(len(input)) {
		t.Fatalf("bin 0x37 = %d, want %d", got[0x37], len(input))
	}
}

func TestRun_UncheckedBoundRejected(t *testing.T) {
	input := make([]byte, 64*1024)
	var hist [NumBins]uint32
	if _, err := (Config{Groups: 1}).Run(&hist, input); err != ErrGroupCount {
		t.Fatalf("err = %v, want ErrGroupCount", err)
	}
}

func TestRun_PartitionInvariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 13))
	input := randBytes(rng, 4000)
	want := refHistogram(input)

	configs := []Config{
		{},
		{Groups: 1},
		{Groups: 2, Parallelism: 1},
		{Groups: 3, Parallelism: 2},
		{Groups: 7},
		{Groups: 16, Shape: GroupShape{X: 8, Y: 8}},
		{Groups: 5, Shape: GroupShape{X: 4, Y: 4, Z: 4}},
		{CheckOverflow: true},
		{Groups: 1, CheckOverflow: true, Shape: GroupShape{X: 2, Y: 8, Z: 4}},
	}
	for _, cfg := range configs {
		got := checkRun(t, cfg, input)
		if got != want {
			t.Fatalf("cfg %+v diverged from reference", cfg)
		}
	}
}

func TestRun_RandomizedTrials(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 42))
	for trial := 0; trial < 1000; trial++ {
		n := rng.IntN(2048)
		cfg := Config{
			Groups:        rng.IntN(4), // 0 = derived
			CheckOverflow: rng.IntN(2) == 0,
			Parallelism:   rng.IntN(3),
		}
		if !cfg.CheckOverflow && cfg.Groups > 0 &&
			maxLaneIncrements(n/4, cfg.Groups) > laneMax {
			cfg.CheckOverflow = true
		}
		checkRun(t, cfg, randBytes(rng, n))
	}
}

func BenchmarkRun(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 2))
	input := randBytes(rng, 1<<20)
	var hist [NumBins]uint32

	b.Run("fast", func(b *testing.B) {
		b.SetBytes(int64(len(input)))
		for i := 0; i < b.N; i++ {
			if _, err := (Config{}).Run(&hist, input); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("checked", func(b *testing.B) {
		b.SetBytes(int64(len(input)))
		for i := 0; i < b.N; i++ {
			if _, err := (Config{CheckOverflow: true}).Run(&hist, input); err != nil {
				b.Fatal(err)
			}
		}
	})
}
