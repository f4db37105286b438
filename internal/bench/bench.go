// Package bench times the ways starcat can estimate a cluster's mean distance:
// reducing an in-memory sample directly or through an Arrow frame, and each
// retrieval strategy over the catalogue. Every measurement records wall clock
// time and allocation.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/apache/arrow/go/v17/arrow/memory"
	sysmem "github.com/pbnjay/memory"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nvandessel/starcat/internal/constants"
	"github.com/nvandessel/starcat/internal/frame"
	"github.com/nvandessel/starcat/internal/logging"
	"github.com/nvandessel/starcat/internal/observability"
	"github.com/nvandessel/starcat/internal/population"
	"github.com/nvandessel/starcat/internal/retrieval"
	"github.com/nvandessel/starcat/internal/store"
)

// Names of the measurements taken over a Population's own sample.
const (
	InMemory      = "memory"
	InMemoryFrame = "memory-frame"
)

// ErrNothingToMeasure is returned when a Request names neither a population
// nor any strategy.
var ErrNothingToMeasure = errors.New("nothing to measure")

// Measurement is one timed estimate of a cluster's mean distance.
type Measurement struct {
	Name       string        `json:"name"`
	Mean       float64       `json:"mean"`
	Count      int           `json:"count"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	AllocBytes uint64        `json:"alloc_bytes"`
	HeapDelta  int64         `json:"heap_delta_bytes"`
	Deviation  float64       `json:"deviation"`
}

// Milliseconds reports Elapsed in fractional milliseconds.
func (m Measurement) Milliseconds() float64 {
	return float64(m.Elapsed) / float64(time.Millisecond)
}

// Report collects the measurements for one cluster.
type Report struct {
	Cluster      string        `json:"cluster"`
	TrueDistance float64       `json:"true_distance"`
	Repeats      int           `json:"repeats"`
	SystemMemory uint64        `json:"system_memory_bytes"`
	StartedAt    time.Time     `json:"started_at"`
	Measurements []Measurement `json:"measurements"`
}

// Fastest returns the measurement with the lowest elapsed time.
func (r *Report) Fastest() (Measurement, bool) {
	if len(r.Measurements) == 0 {
		return Measurement{}, false
	}
	best := r.Measurements[0]
	for _, m := range r.Measurements[1:] {
		if m.Elapsed < best.Elapsed {
			best = m
		}
	}
	return best, true
}

// Request selects what a Runner measures. Population may be nil to skip the
// in-memory measurement; Strategies may be empty to skip the catalogue.
type Request struct {
	Cluster    string
	Population *population.Population
	Strategies []retrieval.Strategy
}

// Runner executes benchmark requests against a catalogue.
type Runner struct {
	catalog   store.Catalog
	collector *observability.Collector
	tracer    trace.Tracer
	logger    *slog.Logger
	runLog    *logging.RunLogger
	mem       memory.Allocator
	repeats   int
}

// Option configures a Runner.
type Option func(*Runner)

// WithCollector records every measurement into c.
func WithCollector(c *observability.Collector) Option {
	return func(r *Runner) { r.collector = c }
}

// WithTracer wraps every measurement in a span from t.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRunLogger appends each Report to rl.
func WithRunLogger(rl *logging.RunLogger) Option {
	return func(r *Runner) { r.runLog = rl }
}

// WithRepeats sets how many times each measurement runs. The fastest run is
// reported. Values below one are ignored.
func WithRepeats(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.repeats = n
		}
	}
}

// WithAllocator sets the Arrow allocator passed to the frame strategy.
func WithAllocator(mem memory.Allocator) Option {
	return func(r *Runner) {
		if mem != nil {
			r.mem = mem
		}
	}
}

// NewRunner creates a Runner over catalog.
func NewRunner(catalog store.Catalog, opts ...Option) *Runner {
	r := &Runner{
		catalog: catalog,
		tracer:  noop.NewTracerProvider().Tracer(observability.TracerName),
		logger:  logging.Discard(),
		mem:     memory.DefaultAllocator,
		repeats: constants.DefaultBenchRepeats,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run measures req and returns the report. Measurements appear in-memory
// first, then in the order of req.Strategies.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Population == nil && len(req.Strategies) == 0 {
		return nil, ErrNothingToMeasure
	}

	ctx, span := r.tracer.Start(ctx, "bench.run", trace.WithAttributes(
		attribute.String("cluster", req.Cluster),
		attribute.Int("repeats", r.repeats),
	))
	defer span.End()

	trueDistance, err := r.trueDistance(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := &Report{
		Cluster:      req.Cluster,
		TrueDistance: trueDistance,
		Repeats:      r.repeats,
		SystemMemory: sysmem.TotalMemory(),
		StartedAt:    time.Now().UTC(),
	}

	if req.Population != nil {
		pop := req.Population
		m, err := r.measure(ctx, InMemory, trueDistance, func(context.Context) (float64, int, error) {
			est, err := pop.EstimateMeanDistance()
			if err != nil {
				return 0, 0, err
			}
			return est.Mean, pop.N(), nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		report.Measurements = append(report.Measurements, m)

		m, err = r.measure(ctx, InMemoryFrame, trueDistance, func(context.Context) (float64, int, error) {
			return r.frameMean(pop)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		report.Measurements = append(report.Measurements, m)
	}

	for _, s := range req.Strategies {
		retriever, err := retrieval.New(s, r.catalog, retrieval.WithAllocator(r.mem))
		if err != nil {
			return nil, err
		}
		m, err := r.measure(ctx, s.String(), trueDistance, func(ctx context.Context) (float64, int, error) {
			res, err := retriever.MeanDistance(ctx, req.Cluster)
			return res.Mean, res.Count, err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		report.Measurements = append(report.Measurements, m)
	}

	r.logger.Debug("benchmark complete",
		"cluster", report.Cluster,
		"measurements", len(report.Measurements),
		"system_memory", report.SystemMemory)
	r.runLog.Log("bench", report)

	return report, nil
}

// trueDistance takes the reference distance from the population when given,
// otherwise from the stored cluster.
func (r *Runner) trueDistance(ctx context.Context, req Request) (float64, error) {
	if req.Population != nil {
		return req.Population.Distance(), nil
	}
	cluster, err := r.catalog.GetCluster(ctx, req.Cluster)
	if err != nil {
		return 0, fmt.Errorf("loading cluster %q: %w", req.Cluster, err)
	}
	return cluster.TrueDistance, nil
}

// frameMean copies the population's sample into an Arrow frame and reduces it.
func (r *Runner) frameMean(pop *population.Population) (float64, int, error) {
	f, err := frame.FromDistances(r.mem, pop.IDs(), pop.Distances())
	if err != nil {
		return 0, 0, err
	}
	defer f.Release()

	mean, err := f.MeanDistance()
	if errors.Is(err, frame.ErrEmptyFrame) {
		return 0, 0, population.ErrEmptySample
	}
	if err != nil {
		return 0, 0, err
	}
	return mean, f.Len(), nil
}

type estimateFunc func(ctx context.Context) (mean float64, count int, err error)

// measure runs fn r.repeats times and keeps the fastest run.
func (r *Runner) measure(ctx context.Context, name string, trueDistance float64, fn estimateFunc) (Measurement, error) {
	ctx, span := r.tracer.Start(ctx, "bench."+name, trace.WithAttributes(
		attribute.String("strategy", name),
	))
	defer span.End()

	best := Measurement{Name: name, Elapsed: -1}
	for i := 0; i < r.repeats; i++ {
		if err := ctx.Err(); err != nil {
			return Measurement{}, err
		}

		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		start := time.Now()
		mean, count, err := fn(ctx)
		elapsed := time.Since(start)
		runtime.ReadMemStats(&after)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Measurement{}, fmt.Errorf("%s: %w", name, err)
		}

		r.logger.Log(ctx, logging.LevelTrace, "measurement",
			"strategy", name, "run", i+1, "mean", mean, "elapsed", elapsed)

		if best.Elapsed < 0 || elapsed < best.Elapsed {
			best.Mean = mean
			best.Count = count
			best.Elapsed = elapsed
			best.AllocBytes = after.TotalAlloc - before.TotalAlloc
			best.HeapDelta = int64(after.HeapAlloc) - int64(before.HeapAlloc)
		}
	}
	best.Deviation = math.Abs(best.Mean - trueDistance)

	span.SetAttributes(
		attribute.Float64("mean", best.Mean),
		attribute.Int("count", best.Count),
		attribute.Int64("alloc_bytes", int64(best.AllocBytes)),
	)
	r.collector.ObserveRetrieval(name, best.Elapsed.Seconds(), best.AllocBytes, best.Deviation)

	return best, nil
}
