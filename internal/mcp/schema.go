package mcp

import (
	"time"

	"github.com/nvandessel/starcat/internal/bench"
)

// GenerateInput defines the input for the starcat_generate tool.
type GenerateInput struct {
	Name               string   `json:"name" jsonschema:"Cluster name to create or replace"`
	Distance           *float64 `json:"distance,omitempty" jsonschema:"True cluster distance in kiloparsecs (default from config)"`
	Stars              *int     `json:"stars,omitempty" jsonschema:"Number of observations to simulate (default from config)"`
	RMSFractionalError *float64 `json:"rms_fractional_error,omitempty" jsonschema:"Noise standard deviation as a fraction of the distance (default from config)"`
	Seed               *uint64  `json:"seed,omitempty" jsonschema:"Seed for reproducible generation (omit for a random draw)"`
}

// GenerateOutput defines the output for the starcat_generate tool.
type GenerateOutput struct {
	Cluster   ClusterSummary `json:"cluster" jsonschema:"The stored cluster"`
	Mean      float64        `json:"mean" jsonschema:"In-memory mean of the simulated distances"`
	ElapsedMs float64        `json:"elapsed_ms" jsonschema:"Time taken to compute the in-memory mean"`
	Message   string         `json:"message" jsonschema:"Human-readable result message"`
}

// MeanInput defines the input for the starcat_mean tool.
type MeanInput struct {
	Cluster  string `json:"cluster" jsonschema:"Cluster name"`
	Strategy string `json:"strategy,omitempty" jsonschema:"Retrieval strategy: rows, columns, frame or aggregate (default aggregate)"`
}

// MeanOutput defines the output for the starcat_mean tool.
type MeanOutput struct {
	Cluster      string  `json:"cluster"`
	Strategy     string  `json:"strategy"`
	Mean         float64 `json:"mean" jsonschema:"Estimated mean distance in kiloparsecs"`
	Count        int     `json:"count" jsonschema:"Number of observations reduced"`
	TrueDistance float64 `json:"true_distance" jsonschema:"Distance the cluster was simulated at"`
	Deviation    float64 `json:"deviation" jsonschema:"Absolute difference between mean and true distance"`
}

// ClustersInput defines the input for the starcat_clusters tool.
type ClustersInput struct{}

// ClustersOutput defines the output for the starcat_clusters tool.
type ClustersOutput struct {
	Clusters []ClusterSummary `json:"clusters"`
	Count    int              `json:"count"`
}

// ClusterSummary is the MCP view of a stored cluster.
type ClusterSummary struct {
	Name               string    `json:"name"`
	TrueDistance       float64   `json:"true_distance"`
	RMSFractionalError float64   `json:"rms_fractional_error"`
	Seed               *uint64   `json:"seed,omitempty"`
	StarCount          int       `json:"star_count"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// BenchInput defines the input for the starcat_bench tool.
type BenchInput struct {
	Cluster    string   `json:"cluster" jsonschema:"Cluster name"`
	Strategies []string `json:"strategies,omitempty" jsonschema:"Strategies to time, or [all] (default from config)"`
	Repeats    int      `json:"repeats,omitempty" jsonschema:"Runs per strategy; the fastest is reported (default from config)"`
}

// BenchOutput defines the output for the starcat_bench tool.
type BenchOutput struct {
	Report  *bench.Report `json:"report"`
	Fastest string        `json:"fastest"`
}
