// Package constants provides named constants used throughout the starcat codebase.
package constants

// Population defaults
const (
	// DefaultDistanceKpc is the true cluster distance used when none is given.
	DefaultDistanceKpc = 3.0

	// DefaultStarCount is the number of observations simulated by default.
	DefaultStarCount = 100000

	// DefaultRMSFractionalError is the per-observation noise, as a fraction
	// of the true distance.
	DefaultRMSFractionalError = 0.1
)

// Benchmark defaults
const (
	// DefaultBenchRepeats is how many times each measurement runs.
	DefaultBenchRepeats = 3

	// DefaultClusterName names the cluster generate and bench write to.
	DefaultClusterName = "cluster"
)
