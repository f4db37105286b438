// Package store defines the Catalog interface for persisting simulated
// clusters and their star observations.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

var (
	// ErrClusterNotFound is returned when a named cluster does not exist.
	ErrClusterNotFound = errors.New("cluster not found")

	// ErrInvalidCluster is returned when a cluster spec is missing a name or
	// has a non-positive true distance.
	ErrInvalidCluster = errors.New("invalid cluster")

	// ErrLengthMismatch is returned when observation ids and distances differ
	// in length.
	ErrLengthMismatch = errors.New("observation ids and distances differ in length")
)

// ClusterSpec describes a cluster to be saved alongside its sample.
type ClusterSpec struct {
	Name               string
	TrueDistance       float64
	RMSFractionalError float64
	Seed               *uint64 // nil when the sample was drawn from an unseeded source
}

// ValidatePopulation checks a cluster and its sample before anything is
// written: a non-blank name, a positive finite true distance, matching
// lengths and unique observation ids.
func ValidatePopulation(spec ClusterSpec, ids []string, distances []float64) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCluster)
	}
	if spec.TrueDistance <= 0 || math.IsNaN(spec.TrueDistance) || math.IsInf(spec.TrueDistance, 0) {
		return fmt.Errorf("%w: true distance must be positive and finite, got %v", ErrInvalidCluster, spec.TrueDistance)
	}
	if len(ids) != len(distances) {
		return fmt.Errorf("%w: %d ids, %d distances", ErrLengthMismatch, len(ids), len(distances))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate observation id %q in %s", ErrInvalidCluster, id, spec.Name)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Cluster is a stored cluster row.
type Cluster struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	TrueDistance       float64   `json:"true_distance"`
	RMSFractionalError float64   `json:"rms_fractional_error"`
	Seed               *uint64   `json:"seed,omitempty"`
	StarCount          int       `json:"star_count"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Star is a stored observation row.
type Star struct {
	ID            int64   `json:"id"`
	ClusterID     int64   `json:"cluster_id"`
	ObservationID string  `json:"observation_id"`
	Distance      float64 `json:"distance"`
}

// StarRecord is a star joined with its cluster.
type StarRecord struct {
	ObservationID string  `json:"observation_id"`
	Distance      float64 `json:"distance"`
	Cluster       string  `json:"cluster"`
	TrueDistance  float64 `json:"true_distance"`
}

// Catalog defines the interface for storing and querying clusters and stars.
type Catalog interface {
	// SavePopulation upserts the cluster and replaces its stars with the
	// given sample in a single transaction.
	SavePopulation(ctx context.Context, spec ClusterSpec, ids []string, distances []float64) (*Cluster, error)

	GetCluster(ctx context.Context, name string) (*Cluster, error)
	ListClusters(ctx context.Context) ([]Cluster, error)
	DeleteCluster(ctx context.Context, name string) error

	// Stars returns full row objects for a cluster, in insertion order.
	Stars(ctx context.Context, cluster string) ([]Star, error)

	// Distances returns only the distance column for a cluster.
	Distances(ctx context.Context, cluster string) ([]float64, error)

	// StarsWithCluster joins stars to their cluster. An empty name joins
	// every cluster.
	StarsWithCluster(ctx context.Context, cluster string) ([]StarRecord, error)

	// AverageDistance computes the mean distance and star count in the
	// database. The mean is zero when count is zero.
	AverageDistance(ctx context.Context, cluster string) (float64, int, error)

	ExportJSONL(ctx context.Context, w io.Writer) error
	Validate(ctx context.Context) error
	Close() error
}
