// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for starcat's generation and retrieval benchmarks.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the Prometheus metrics recorded by generate and bench.
type Collector struct {
	gatherer prometheus.Gatherer

	RetrievalDuration *prometheus.HistogramVec
	RetrievalAlloc    *prometheus.GaugeVec
	MeanDeviation     *prometheus.GaugeVec
	StarsGenerated    prometheus.Counter
}

// NewCollector registers starcat metrics against reg, defaulting to the
// global Prometheus registry when nil. Metrics that are already registered
// are reused.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	duration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "starcat_retrieval_duration_seconds",
		Help:    "Wall clock time to estimate a cluster mean distance, labeled by strategy.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"strategy"}), "starcat_retrieval_duration_seconds")
	if err != nil {
		return nil, err
	}

	alloc, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "starcat_retrieval_alloc_bytes",
		Help: "Bytes allocated by the most recent estimate, labeled by strategy.",
	}, []string{"strategy"}), "starcat_retrieval_alloc_bytes")
	if err != nil {
		return nil, err
	}

	deviation, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "starcat_mean_deviation",
		Help: "Absolute difference between the estimated and true cluster distance, labeled by strategy.",
	}, []string{"strategy"}), "starcat_mean_deviation")
	if err != nil {
		return nil, err
	}

	generated, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "starcat_stars_generated_total",
		Help: "Total number of simulated star observations.",
	}), "starcat_stars_generated_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		RetrievalDuration: duration,
		RetrievalAlloc:    alloc,
		MeanDeviation:     deviation,
		StarsGenerated:    generated,
	}, nil
}

// ObserveRetrieval records one measurement for strategy. Safe on a nil Collector.
func (c *Collector) ObserveRetrieval(strategy string, seconds float64, allocBytes uint64, deviation float64) {
	if c == nil {
		return
	}
	c.RetrievalDuration.WithLabelValues(strategy).Observe(seconds)
	c.RetrievalAlloc.WithLabelValues(strategy).Set(float64(allocBytes))
	c.MeanDeviation.WithLabelValues(strategy).Set(deviation)
}

// AddGenerated counts n simulated observations. Safe on a nil Collector.
func (c *Collector) AddGenerated(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.StarsGenerated.Add(float64(n))
}

// WriteTextfile writes every gathered metric to path in the Prometheus text
// exposition format, suitable for the node_exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
