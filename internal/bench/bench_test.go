package bench

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nvandessel/starcat/internal/logging"
	"github.com/nvandessel/starcat/internal/observability"
	"github.com/nvandessel/starcat/internal/population"
	"github.com/nvandessel/starcat/internal/retrieval"
	"github.com/nvandessel/starcat/internal/store"
)

func setup(t *testing.T, n int) (*store.SQLiteCatalog, *population.Population) {
	t.Helper()
	catalog, err := store.NewSQLiteCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteCatalog() error = %v", err)
	}
	t.Cleanup(func() { catalog.Close() })

	pop, err := population.New(3.0, population.WithSeed(11))
	if err != nil {
		t.Fatalf("population.New() error = %v", err)
	}
	if err := pop.Generate(n, 0.1); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	seed := uint64(11)
	if _, err := catalog.SavePopulation(context.Background(), store.ClusterSpec{
		Name:               "hyades",
		TrueDistance:       pop.Distance(),
		RMSFractionalError: pop.RMSFractionalError(),
		Seed:               &seed,
	}, pop.IDs(), pop.Distances()); err != nil {
		t.Fatalf("SavePopulation() error = %v", err)
	}
	return catalog, pop
}

func TestRun_AllStrategiesAgree(t *testing.T) {
	catalog, pop := setup(t, 2000)
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	runner := NewRunner(catalog, WithRepeats(2), WithAllocator(mem))
	report, err := runner.Run(context.Background(), Request{
		Cluster:    "hyades",
		Population: pop,
		Strategies: retrieval.Strategies(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(report.Measurements) != 6 {
		t.Fatalf("got %d measurements, want 6", len(report.Measurements))
	}
	wantNames := []string{InMemory, InMemoryFrame, "rows", "columns", "frame", "aggregate"}
	reference := report.Measurements[0].Mean
	for i, m := range report.Measurements {
		if m.Name != wantNames[i] {
			t.Errorf("measurement %d name = %q, want %q", i, m.Name, wantNames[i])
		}
		if m.Count != 2000 {
			t.Errorf("%s count = %d, want 2000", m.Name, m.Count)
		}
		if math.Abs(m.Mean-reference) > 1e-9 {
			t.Errorf("%s mean = %v, want %v", m.Name, m.Mean, reference)
		}
		if m.Elapsed < 0 {
			t.Errorf("%s elapsed = %v, want non-negative", m.Name, m.Elapsed)
		}
		if want := math.Abs(m.Mean - 3.0); m.Deviation != want {
			t.Errorf("%s deviation = %v, want %v", m.Name, m.Deviation, want)
		}
	}

	if report.TrueDistance != 3.0 {
		t.Errorf("TrueDistance = %v, want 3.0", report.TrueDistance)
	}
	if report.Repeats != 2 {
		t.Errorf("Repeats = %d, want 2", report.Repeats)
	}
	if report.SystemMemory == 0 {
		t.Log("system memory unavailable on this platform")
	}
}

func TestRun_CatalogOnlyUsesStoredDistance(t *testing.T) {
	catalog, _ := setup(t, 100)

	report, err := NewRunner(catalog, WithRepeats(1)).Run(context.Background(), Request{
		Cluster:    "hyades",
		Strategies: []retrieval.Strategy{retrieval.StrategyAggregate},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TrueDistance != 3.0 {
		t.Errorf("TrueDistance = %v, want 3.0", report.TrueDistance)
	}
	if len(report.Measurements) != 1 || report.Measurements[0].Name != "aggregate" {
		t.Errorf("unexpected measurements: %+v", report.Measurements)
	}
}

func TestRun_InMemoryFrameReleases(t *testing.T) {
	catalog, pop := setup(t, 300)
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	report, err := NewRunner(catalog, WithRepeats(3), WithAllocator(mem)).Run(context.Background(), Request{
		Cluster:    "hyades",
		Population: pop,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Measurements) != 2 {
		t.Fatalf("got %d measurements, want 2", len(report.Measurements))
	}
	direct, framed := report.Measurements[0], report.Measurements[1]
	if framed.Name != InMemoryFrame {
		t.Errorf("second measurement = %q, want %q", framed.Name, InMemoryFrame)
	}
	if framed.Count != 300 {
		t.Errorf("frame count = %d, want 300", framed.Count)
	}
	if math.Abs(framed.Mean-direct.Mean) > 1e-9 {
		t.Errorf("frame mean = %v, want %v", framed.Mean, direct.Mean)
	}
}

func TestRun_Errors(t *testing.T) {
	catalog, _ := setup(t, 10)
	runner := NewRunner(catalog, WithRepeats(1))
	ctx := context.Background()

	if _, err := runner.Run(ctx, Request{Cluster: "hyades"}); !errors.Is(err, ErrNothingToMeasure) {
		t.Errorf("Run() with empty request error = %v, want ErrNothingToMeasure", err)
	}

	_, err := runner.Run(ctx, Request{
		Cluster:    "pleiades",
		Strategies: []retrieval.Strategy{retrieval.StrategyRows},
	})
	if !errors.Is(err, store.ErrClusterNotFound) {
		t.Errorf("Run() on missing cluster error = %v, want ErrClusterNotFound", err)
	}

	ungenerated, err := population.New(1.0)
	if err != nil {
		t.Fatalf("population.New() error = %v", err)
	}
	if _, err := runner.Run(ctx, Request{Population: ungenerated}); !errors.Is(err, population.ErrNotReady) {
		t.Errorf("Run() on ungenerated population error = %v, want ErrNotReady", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := runner.Run(cancelled, Request{
		Cluster:    "hyades",
		Strategies: []retrieval.Strategy{retrieval.StrategyColumns},
	}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() with cancelled context error = %v, want context.Canceled", err)
	}
}

func TestRun_RecordsMetricsAndSpans(t *testing.T) {
	catalog, pop := setup(t, 500)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	runner := NewRunner(catalog,
		WithRepeats(1),
		WithCollector(collector),
		WithTracer(tp.Tracer("test")),
	)
	if _, err := runner.Run(context.Background(), Request{
		Cluster:    "hyades",
		Population: pop,
		Strategies: []retrieval.Strategy{retrieval.StrategyRows, retrieval.StrategyAggregate},
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := testutil.CollectAndCount(collector.RetrievalDuration, "starcat_retrieval_duration_seconds"); got != 4 {
		t.Errorf("duration series = %d, want 4", got)
	}
	if got := testutil.ToFloat64(collector.MeanDeviation.WithLabelValues("rows")); got <= 0 {
		t.Errorf("rows deviation = %v, want > 0", got)
	}

	names := make(map[string]bool)
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{"bench.run", "bench.memory", "bench.memory-frame", "bench.rows", "bench.aggregate"} {
		if !names[want] {
			t.Errorf("missing span %q (got %v)", want, names)
		}
	}
}

func TestRun_LogsReportAndTrace(t *testing.T) {
	catalog, pop := setup(t, 50)
	dir := t.TempDir()
	rl := logging.NewRunLogger(dir, "trace")
	defer rl.Close()

	var buf bytes.Buffer
	runner := NewRunner(catalog,
		WithRepeats(2),
		WithRunLogger(rl),
		WithLogger(logging.NewLogger("trace", &buf)),
	)
	if _, err := runner.Run(context.Background(), Request{Cluster: "hyades", Population: pop}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n := strings.Count(buf.String(), "msg=measurement"); n != 4 {
		t.Errorf("trace measurements logged = %d, want 4:\n%s", n, buf.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, logging.RunsFile))
	if err != nil {
		t.Fatalf("reading run log: %v", err)
	}
	if !strings.Contains(string(data), `"event":"bench"`) || !strings.Contains(string(data), `"cluster":"hyades"`) {
		t.Errorf("run log missing report: %s", data)
	}
}

func TestReport_Fastest(t *testing.T) {
	r := &Report{}
	if _, ok := r.Fastest(); ok {
		t.Error("Fastest() on empty report should report false")
	}
	r.Measurements = []Measurement{
		{Name: "rows", Elapsed: 30},
		{Name: "aggregate", Elapsed: 10},
		{Name: "frame", Elapsed: 20},
	}
	got, ok := r.Fastest()
	if !ok || got.Name != "aggregate" {
		t.Errorf("Fastest() = %+v, %v; want aggregate", got, ok)
	}
}
