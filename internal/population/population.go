// Package population simulates a cluster of stars at a single true distance
// and estimates that distance from noisy observations.
package population

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidParameter is returned for a non-positive or non-finite
	// distance, a negative sample size, or a negative noise level.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotReady is returned when a mean is requested before Generate.
	ErrNotReady = errors.New("population not generated")

	// ErrEmptySample is returned when a mean is requested over zero observations.
	ErrEmptySample = errors.New("empty sample")
)

// Estimate is the result of reducing a sample to its mean.
type Estimate struct {
	Mean    float64       `json:"mean"`
	Elapsed time.Duration `json:"elapsed"`
}

// Milliseconds reports Elapsed in fractional milliseconds.
func (e Estimate) Milliseconds() float64 {
	return float64(e.Elapsed) / float64(time.Millisecond)
}

// Summary describes the spread of a generated sample.
type Summary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Population is a simulated group of stars at a single true distance
// (kiloparsecs). It owns its random source and its generated sample.
// A Population is not safe for concurrent use; independent instances are.
type Population struct {
	distance  float64
	rms       float64
	generated bool
	ids       []string
	distances []float64

	rng *rand.Rand
	now func() time.Time
}

// Option configures a Population.
type Option func(*Population)

// WithSeed seeds the population's own random source so that Generate is
// reproducible for identical inputs.
func WithSeed(seed uint64) Option {
	return func(p *Population) {
		p.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithRand uses r as the population's random source.
func WithRand(r *rand.Rand) Option {
	return func(p *Population) {
		if r != nil {
			p.rng = r
		}
	}
}

// WithClock replaces the timer read by EstimateMeanDistance.
func WithClock(now func() time.Time) Option {
	return func(p *Population) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a population with the given true distance and no observations.
func New(distance float64, opts ...Option) (*Population, error) {
	if !isFinite(distance) || distance <= 0 {
		return nil, fmt.Errorf("%w: distance must be positive and finite, got %v", ErrInvalidParameter, distance)
	}

	p := &Population{
		distance: distance,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return p, nil
}

// Generate draws n observations from a normal distribution centred on the
// true distance with standard deviation rmsFractionalError*distance.
// Observation i is identified by strconv.Itoa(i). A later call replaces the
// sample; a failed call leaves the current sample untouched.
func (p *Population) Generate(n int, rmsFractionalError float64) error {
	if n < 0 {
		return fmt.Errorf("%w: star count must be non-negative, got %d", ErrInvalidParameter, n)
	}
	if !isFinite(rmsFractionalError) || rmsFractionalError < 0 {
		return fmt.Errorf("%w: rms fractional error must be non-negative and finite, got %v", ErrInvalidParameter, rmsFractionalError)
	}

	sigma := rmsFractionalError * p.distance
	ids := make([]string, n)
	distances := make([]float64, n)
	for i := range n {
		ids[i] = strconv.Itoa(i)
		distances[i] = p.rng.NormFloat64()*sigma + p.distance
	}

	p.ids = ids
	p.distances = distances
	p.rms = rmsFractionalError
	p.generated = true
	return nil
}

// EstimateMeanDistance returns the arithmetic mean of the observed distances
// and how long the reduction took.
func (p *Population) EstimateMeanDistance() (Estimate, error) {
	if err := p.ready(); err != nil {
		return Estimate{}, err
	}

	start := p.now()
	mean := floats.Sum(p.distances) / float64(len(p.distances))
	return Estimate{Mean: mean, Elapsed: p.now().Sub(start)}, nil
}

// Summary returns the sample mean and sample standard deviation.
func (p *Population) Summary() (Summary, error) {
	if err := p.ready(); err != nil {
		return Summary{}, err
	}
	mean, std := stat.MeanStdDev(p.distances, nil)
	if len(p.distances) < 2 {
		std = 0
	}
	return Summary{N: len(p.distances), Mean: mean, StdDev: std}, nil
}

func (p *Population) ready() error {
	if !p.generated {
		return ErrNotReady
	}
	if len(p.distances) == 0 {
		return ErrEmptySample
	}
	return nil
}

// Distance returns the true distance.
func (p *Population) Distance() float64 { return p.distance }

// RMSFractionalError returns the noise level of the current sample.
func (p *Population) RMSFractionalError() float64 { return p.rms }

// Generated reports whether Generate has succeeded at least once.
func (p *Population) Generated() bool { return p.generated }

// N returns the number of observations in the current sample.
func (p *Population) N() int { return len(p.distances) }

// IDs returns a copy of the observation identifiers.
func (p *Population) IDs() []string {
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

// Distances returns a copy of the observed distances.
func (p *Population) Distances() []float64 {
	out := make([]float64, len(p.distances))
	copy(out, p.distances)
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
