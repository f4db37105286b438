package population

import (
	"errors"
	"math"
	"math/rand/v2"
	"strconv"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		wantErr  bool
	}{
		{"positive", 3.0, false},
		{"tiny positive", 1e-9, false},
		{"zero", 0, true},
		{"negative", -1.0, true},
		{"nan", math.NaN(), true},
		{"positive infinity", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.distance)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidParameter) {
					t.Fatalf("New(%v) error = %v, want ErrInvalidParameter", tt.distance, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%v) error = %v", tt.distance, err)
			}
			if p.Distance() != tt.distance {
				t.Errorf("Distance() = %v, want %v", p.Distance(), tt.distance)
			}
			if p.Generated() {
				t.Error("new population should not be generated")
			}
			if p.N() != 0 {
				t.Errorf("N() = %d, want 0", p.N())
			}
		})
	}
}

func TestGenerate_CountAndIDs(t *testing.T) {
	for _, n := range []int{0, 1, 7, 1000} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			p, err := New(3.0, WithSeed(1))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if err := p.Generate(n, 0.1); err != nil {
				t.Fatalf("Generate() error = %v", err)
			}

			ids := p.IDs()
			distances := p.Distances()
			if len(ids) != n || len(distances) != n {
				t.Fatalf("len(ids) = %d, len(distances) = %d, want %d", len(ids), len(distances), n)
			}
			seen := make(map[string]bool, n)
			for i, id := range ids {
				if id != strconv.Itoa(i) {
					t.Errorf("ids[%d] = %q, want %q", i, id, strconv.Itoa(i))
				}
				if seen[id] {
					t.Errorf("duplicate id %q", id)
				}
				seen[id] = true
			}

		})
	}
}

func TestGenerate_InvalidParameters(t *testing.T) {
	p, err := New(3.0, WithSeed(1))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Generate(5, 0.1); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	before := p.Distances()

	tests := []struct {
		name string
		n    int
		rms  float64
	}{
		{"negative n", -1, 0.1},
		{"negative rms", 10, -0.01},
		{"nan rms", 10, math.NaN()},
		{"infinite rms", 10, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Generate(tt.n, tt.rms)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("Generate(%d, %v) error = %v, want ErrInvalidParameter", tt.n, tt.rms, err)
			}
			after := p.Distances()
			if len(after) != len(before) {
				t.Fatalf("failed Generate changed sample size to %d", len(after))
			}
			for i := range before {
				if after[i] != before[i] {
					t.Fatalf("failed Generate changed observation %d", i)
				}
			}
		})
	}
}

func TestGenerate_ZeroNoise(t *testing.T) {
	p, err := New(2.5, WithSeed(9))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Generate(50, 0); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	for i, d := range p.Distances() {
		if d != 2.5 {
			t.Errorf("distance[%d] = %v, want 2.5 with zero noise", i, d)
		}
	}
}

func TestGenerate_Reproducible(t *testing.T) {
	a, _ := New(3.0, WithSeed(42))
	b, _ := New(3.0, WithSeed(42))
	if err := a.Generate(1000, 0.1); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if err := b.Generate(1000, 0.1); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	da, db := a.Distances(), b.Distances()
	for i := range da {
		if math.Float64bits(da[i]) != math.Float64bits(db[i]) {
			t.Fatalf("distance[%d] differs: %v vs %v", i, da[i], db[i])
		}
	}

	c, _ := New(3.0, WithSeed(43))
	if err := c.Generate(1000, 0.1); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if c.Distances()[0] == da[0] && c.Distances()[1] == da[1] {
		t.Error("different seeds produced the same leading observations")
	}
}

func TestGenerate_WithRand(t *testing.T) {
	a, _ := New(1.0, WithRand(rand.New(rand.NewPCG(7, 7))))
	b, _ := New(1.0, WithSeed(7))
	_ = a.Generate(10, 0.2)
	_ = b.Generate(10, 0.2)
	da, db := a.Distances(), b.Distances()
	for i := range da {
		if da[i] != db[i] {
			t.Fatalf("WithRand and WithSeed diverged at %d: %v vs %v", i, da[i], db[i])
		}
	}
}

func TestGenerate_Replaces(t *testing.T) {
	p, _ := New(3.0, WithSeed(5))
	if err := p.Generate(100, 0.1); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if err := p.Generate(10, 0.2); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if p.N() != 10 {
		t.Errorf("N() = %d, want 10", p.N())
	}
	if p.RMSFractionalError() != 0.2 {
		t.Errorf("RMSFractionalError() = %v, want 0.2", p.RMSFractionalError())
	}
}

// Seed 42 at 3 kpc with 10% noise over 100000 stars. The PCG stream and
// NormFloat64 are fixed, so the mean is pinned to the bit.
func TestEstimateMeanDistance_ReferenceValue(t *testing.T) {
	const want = 3.000967601293003

	p, err := New(3.0, WithSeed(42))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Generate(100000, 0.1); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	est, err := p.EstimateMeanDistance()
	if err != nil {
		t.Fatalf("EstimateMeanDistance() error = %v", err)
	}
	if math.Float64bits(est.Mean) != 0x400801fb4d3f45aa {
		t.Errorf("EstimateMeanDistance() mean = %.17g, want %.17g", est.Mean, want)
	}
}

func TestEstimateMeanDistance_NotReady(t *testing.T) {
	p, _ := New(3.0)
	if _, err := p.EstimateMeanDistance(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("EstimateMeanDistance() error = %v, want ErrNotReady", err)
	}
	if _, err := p.Summary(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Summary() error = %v, want ErrNotReady", err)
	}
}

func TestEstimateMeanDistance_EmptySample(t *testing.T) {
	p, _ := New(3.0, WithSeed(1))
	if err := p.Generate(0, 0.1); err != nil {
		t.Fatalf("Generate(0) error = %v", err)
	}
	if !p.Generated() {
		t.Error("Generated() = false after Generate(0)")
	}
	if _, err := p.EstimateMeanDistance(); !errors.Is(err, ErrEmptySample) {
		t.Fatalf("EstimateMeanDistance() error = %v, want ErrEmptySample", err)
	}
}

func TestEstimateMeanDistance_Converges(t *testing.T) {
	const (
		distance = 3.0
		rms      = 0.1
		n        = 100000
	)
	stderr := rms * distance / math.Sqrt(n)

	for seed := uint64(1); seed <= 5; seed++ {
		p, _ := New(distance, WithSeed(seed))
		if err := p.Generate(n, rms); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		est, err := p.EstimateMeanDistance()
		if err != nil {
			t.Fatalf("EstimateMeanDistance() error = %v", err)
		}
		if math.Abs(est.Mean-distance) > 0.01 {
			t.Errorf("seed %d: mean = %v, want within 0.01 of %v", seed, est.Mean, distance)
		}
		if math.Abs(est.Mean-distance) > 6*stderr {
			t.Errorf("seed %d: mean = %v, more than 6 standard errors from %v", seed, est.Mean, distance)
		}
	}
}

func TestEstimateMeanDistance_SeededIsStable(t *testing.T) {
	first, _ := New(3.0, WithSeed(2024))
	second, _ := New(3.0, WithSeed(2024))
	_ = first.Generate(100000, 0.1)
	_ = second.Generate(100000, 0.1)

	a, _ := first.EstimateMeanDistance()
	b, _ := second.EstimateMeanDistance()
	if math.Float64bits(a.Mean) != math.Float64bits(b.Mean) {
		t.Errorf("seeded means differ: %v vs %v", a.Mean, b.Mean)
	}
}

func TestEstimateMeanDistance_ExactMean(t *testing.T) {
	p, _ := New(1.0)
	p.ids = []string{"0", "1", "2", "3"}
	p.distances = []float64{1, 2, 3, 4}
	p.generated = true

	est, err := p.EstimateMeanDistance()
	if err != nil {
		t.Fatalf("EstimateMeanDistance() error = %v", err)
	}
	if est.Mean != 2.5 {
		t.Errorf("Mean = %v, want 2.5", est.Mean)
	}
}

func TestEstimateMeanDistance_Clock(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls-1) * 1500 * time.Microsecond)
	}

	p, _ := New(3.0, WithSeed(1), WithClock(clock))
	_ = p.Generate(10, 0.1)
	est, err := p.EstimateMeanDistance()
	if err != nil {
		t.Fatalf("EstimateMeanDistance() error = %v", err)
	}
	if est.Elapsed != 1500*time.Microsecond {
		t.Errorf("Elapsed = %v, want 1.5ms", est.Elapsed)
	}
	if est.Milliseconds() != 1.5 {
		t.Errorf("Milliseconds() = %v, want 1.5", est.Milliseconds())
	}
}

func TestSummary(t *testing.T) {
	p, _ := New(10.0, WithSeed(3))
	if err := p.Generate(50000, 0.05); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	s, err := p.Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.N != 50000 {
		t.Errorf("N = %d, want 50000", s.N)
	}
	if math.Abs(s.StdDev-0.5) > 0.02 {
		t.Errorf("StdDev = %v, want about 0.5", s.StdDev)
	}

	single, _ := New(10.0, WithSeed(3))
	_ = single.Generate(1, 0.05)
	s, err = single.Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.StdDev != 0 {
		t.Errorf("single observation StdDev = %v, want 0", s.StdDev)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	p, _ := New(3.0, WithSeed(1))
	_ = p.Generate(3, 0.1)

	d := p.Distances()
	d[0] = -100
	if p.Distances()[0] == -100 {
		t.Error("Distances() exposed internal slice")
	}
	ids := p.IDs()
	ids[0] = "mutated"
	if p.IDs()[0] != "0" {
		t.Error("IDs() exposed internal slice")
	}
}
