package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/starcat/internal/population"
	"github.com/nvandessel/starcat/internal/store"
)

func setupCatalog(t *testing.T) *store.SQLiteCatalog {
	t.Helper()
	c, err := store.NewSQLiteCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteCatalog() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"rows", StrategyRows, false},
		{"objects", StrategyRows, false},
		{"Columns", StrategyColumns, false},
		{"frame", StrategyFrame, false},
		{"dataframe", StrategyFrame, false},
		{" aggregate ", StrategyAggregate, false},
		{"sql", StrategyAggregate, false},
		{"numpy", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownStrategy) {
					t.Errorf("ParseStrategy(%q) error = %v, want ErrUnknownStrategy", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStrategy(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseStrategy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseStrategies(t *testing.T) {
	got, err := ParseStrategies([]string{"rows", "sql", "rows"})
	if err != nil {
		t.Fatalf("ParseStrategies() error = %v", err)
	}
	if len(got) != 2 || got[0] != StrategyRows || got[1] != StrategyAggregate {
		t.Errorf("ParseStrategies() = %v, want [rows aggregate]", got)
	}

	all, err := ParseStrategies([]string{"all"})
	if err != nil {
		t.Fatalf("ParseStrategies(all) error = %v", err)
	}
	if len(all) != len(Strategies()) {
		t.Errorf("ParseStrategies(all) = %v", all)
	}

	if _, err := ParseStrategies([]string{"rows", "bogus"}); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("ParseStrategies(bogus) error = %v", err)
	}
}

func TestStrategyString(t *testing.T) {
	for _, s := range Strategies() {
		parsed, err := ParseStrategy(s.String())
		if err != nil || parsed != s {
			t.Errorf("ParseStrategy(%q) = %v, %v", s.String(), parsed, err)
		}
	}
	if got := Strategy(99).String(); got != "Strategy(99)" {
		t.Errorf("String() = %q, want Strategy(99)", got)
	}
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(Result{Strategy: StrategyFrame, Mean: 1.5, Count: 2})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"strategy":"frame","mean":1.5,"count":2}` {
		t.Errorf("Marshal() = %s", data)
	}
}

func TestNew_Unknown(t *testing.T) {
	if _, err := New(Strategy(0), nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("New(0) error = %v, want ErrUnknownStrategy", err)
	}
}

func TestStrategiesAgree(t *testing.T) {
	catalog := setupCatalog(t)
	ctx := context.Background()

	pop, err := population.New(3.0, population.WithSeed(7))
	if err != nil {
		t.Fatalf("population.New() error = %v", err)
	}
	if err := pop.Generate(5000, 0.1); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := catalog.SavePopulation(ctx, store.ClusterSpec{Name: "hyades", TrueDistance: 3.0, RMSFractionalError: 0.1},
		pop.IDs(), pop.Distances()); err != nil {
		t.Fatalf("SavePopulation() error = %v", err)
	}
	// A second cluster must not leak into per-cluster results
	if _, err := catalog.SavePopulation(ctx, store.ClusterSpec{Name: "other", TrueDistance: 100},
		[]string{"0"}, []float64{100}); err != nil {
		t.Fatalf("SavePopulation() error = %v", err)
	}

	want, err := pop.EstimateMeanDistance()
	if err != nil {
		t.Fatalf("EstimateMeanDistance() error = %v", err)
	}

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	for _, s := range Strategies() {
		t.Run(s.String(), func(t *testing.T) {
			r, err := New(s, catalog, WithAllocator(mem))
			if err != nil {
				t.Fatalf("New(%v) error = %v", s, err)
			}
			if r.Strategy() != s {
				t.Errorf("Strategy() = %v, want %v", r.Strategy(), s)
			}

			got, err := r.MeanDistance(ctx, "hyades")
			if err != nil {
				t.Fatalf("MeanDistance() error = %v", err)
			}
			if got.Count != 5000 {
				t.Errorf("Count = %d, want 5000", got.Count)
			}
			if got.Strategy != s {
				t.Errorf("Result.Strategy = %v, want %v", got.Strategy, s)
			}
			if math.Abs(got.Mean-want.Mean) > 1e-9 {
				t.Errorf("Mean = %v, want %v", got.Mean, want.Mean)
			}
		})
	}
}

func TestStrategies_EmptyCluster(t *testing.T) {
	catalog := setupCatalog(t)
	ctx := context.Background()

	if _, err := catalog.SavePopulation(ctx, store.ClusterSpec{Name: "empty", TrueDistance: 1}, nil, nil); err != nil {
		t.Fatalf("SavePopulation() error = %v", err)
	}

	for _, s := range Strategies() {
		t.Run(s.String(), func(t *testing.T) {
			r, _ := New(s, catalog)
			if _, err := r.MeanDistance(ctx, "empty"); !errors.Is(err, population.ErrEmptySample) {
				t.Errorf("MeanDistance() error = %v, want ErrEmptySample", err)
			}
		})
	}
}

func TestStrategies_MissingCluster(t *testing.T) {
	catalog := setupCatalog(t)
	ctx := context.Background()

	for _, s := range Strategies() {
		t.Run(s.String(), func(t *testing.T) {
			r, _ := New(s, catalog)
			if _, err := r.MeanDistance(ctx, "missing"); !errors.Is(err, store.ErrClusterNotFound) {
				t.Errorf("MeanDistance() error = %v, want ErrClusterNotFound", err)
			}
		})
	}
}
