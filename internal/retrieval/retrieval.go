// Package retrieval estimates a stored cluster's mean distance using one of
// several data-access strategies, so their cost can be compared.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"gonum.org/v1/gonum/floats"

	"github.com/nvandessel/starcat/internal/frame"
	"github.com/nvandessel/starcat/internal/population"
	"github.com/nvandessel/starcat/internal/store"
)

// ErrUnknownStrategy is returned by ParseStrategy and New for unsupported
// strategies.
var ErrUnknownStrategy = errors.New("unknown retrieval strategy")

// Strategy selects how observations are pulled out of the catalogue.
type Strategy int

const (
	// StrategyRows loads full row objects and accumulates their distances.
	StrategyRows Strategy = iota + 1
	// StrategyColumns loads only the distance column.
	StrategyColumns
	// StrategyFrame loads joined rows into a columnar Arrow frame.
	StrategyFrame
	// StrategyAggregate asks the database to compute the mean.
	StrategyAggregate
)

var strategyNames = map[Strategy]string{
	StrategyRows:      "rows",
	StrategyColumns:   "columns",
	StrategyFrame:     "frame",
	StrategyAggregate: "aggregate",
}

// String returns the strategy's flag name.
func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// MarshalText encodes the strategy by name.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a strategy name.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Strategies returns every supported strategy in a stable order.
func Strategies() []Strategy {
	return []Strategy{StrategyRows, StrategyColumns, StrategyFrame, StrategyAggregate}
}

// ParseStrategy maps a flag name to a Strategy. "dataframe" and "sql" are
// accepted as aliases for frame and aggregate.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rows", "objects":
		return StrategyRows, nil
	case "columns", "column":
		return StrategyColumns, nil
	case "frame", "dataframe":
		return StrategyFrame, nil
	case "aggregate", "sql":
		return StrategyAggregate, nil
	default:
		return 0, fmt.Errorf("%w: %q (valid: rows, columns, frame, aggregate)", ErrUnknownStrategy, s)
	}
}

// ParseStrategies parses a list of names. "all" expands to every strategy.
func ParseStrategies(names []string) ([]Strategy, error) {
	var out []Strategy
	seen := make(map[Strategy]bool)
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), "all") {
			return Strategies(), nil
		}
		s, err := ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// Result is a strategy's estimate of a cluster's mean distance.
type Result struct {
	Strategy Strategy `json:"strategy"`
	Mean     float64  `json:"mean"`
	Count    int      `json:"count"`
}

// Retriever computes a cluster's mean distance through one strategy.
type Retriever interface {
	Strategy() Strategy
	MeanDistance(ctx context.Context, cluster string) (Result, error)
}

// Option configures a Retriever.
type Option func(*options)

type options struct {
	mem memory.Allocator
}

// WithAllocator sets the Arrow allocator used by the frame strategy.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) { o.mem = mem }
}

// New returns the Retriever for strategy s backed by catalog.
func New(s Strategy, catalog store.Catalog, opts ...Option) (Retriever, error) {
	o := options{mem: memory.DefaultAllocator}
	for _, opt := range opts {
		opt(&o)
	}

	switch s {
	case StrategyRows:
		return &RowsRetriever{catalog: catalog}, nil
	case StrategyColumns:
		return &ColumnsRetriever{catalog: catalog}, nil
	case StrategyFrame:
		return &FrameRetriever{catalog: catalog, mem: o.mem}, nil
	case StrategyAggregate:
		return &AggregateRetriever{catalog: catalog}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownStrategy, s)
	}
}

// RowsRetriever materialises every star row before reducing.
type RowsRetriever struct {
	catalog store.Catalog
}

// Strategy implements Retriever.
func (r *RowsRetriever) Strategy() Strategy { return StrategyRows }

// MeanDistance implements Retriever.
func (r *RowsRetriever) MeanDistance(ctx context.Context, cluster string) (Result, error) {
	stars, err := r.catalog.Stars(ctx, cluster)
	if err != nil {
		return Result{}, err
	}
	if len(stars) == 0 {
		return Result{}, fmt.Errorf("cluster %s: %w", cluster, population.ErrEmptySample)
	}

	var sum float64
	for _, st := range stars {
		sum += st.Distance
	}
	return Result{Strategy: StrategyRows, Mean: sum / float64(len(stars)), Count: len(stars)}, nil
}

// ColumnsRetriever loads only the distance column.
type ColumnsRetriever struct {
	catalog store.Catalog
}

// Strategy implements Retriever.
func (r *ColumnsRetriever) Strategy() Strategy { return StrategyColumns }

// MeanDistance implements Retriever.
func (r *ColumnsRetriever) MeanDistance(ctx context.Context, cluster string) (Result, error) {
	distances, err := r.catalog.Distances(ctx, cluster)
	if err != nil {
		return Result{}, err
	}
	if len(distances) == 0 {
		return Result{}, fmt.Errorf("cluster %s: %w", cluster, population.ErrEmptySample)
	}
	return Result{
		Strategy: StrategyColumns,
		Mean:     floats.Sum(distances) / float64(len(distances)),
		Count:    len(distances),
	}, nil
}

// FrameRetriever loads joined rows into an Arrow frame.
type FrameRetriever struct {
	catalog store.Catalog
	mem     memory.Allocator
}

// Strategy implements Retriever.
func (r *FrameRetriever) Strategy() Strategy { return StrategyFrame }

// MeanDistance implements Retriever.
func (r *FrameRetriever) MeanDistance(ctx context.Context, cluster string) (Result, error) {
	// An empty name would join every cluster
	if cluster == "" {
		return Result{}, fmt.Errorf("%w: empty name", store.ErrClusterNotFound)
	}
	records, err := r.catalog.StarsWithCluster(ctx, cluster)
	if err != nil {
		return Result{}, err
	}

	f, err := frame.FromRecords(r.mem, records)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build frame: %w", err)
	}
	defer f.Release()

	mean, err := f.MeanDistance()
	if errors.Is(err, frame.ErrEmptyFrame) {
		return Result{}, fmt.Errorf("cluster %s: %w", cluster, population.ErrEmptySample)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Strategy: StrategyFrame, Mean: mean, Count: f.Len()}, nil
}

// AggregateRetriever pushes the reduction into SQL.
type AggregateRetriever struct {
	catalog store.Catalog
}

// Strategy implements Retriever.
func (r *AggregateRetriever) Strategy() Strategy { return StrategyAggregate }

// MeanDistance implements Retriever.
func (r *AggregateRetriever) MeanDistance(ctx context.Context, cluster string) (Result, error) {
	mean, count, err := r.catalog.AverageDistance(ctx, cluster)
	if err != nil {
		return Result{}, err
	}
	if count == 0 {
		return Result{}, fmt.Errorf("cluster %s: %w", cluster, population.ErrEmptySample)
	}
	return Result{Strategy: StrategyAggregate, Mean: mean, Count: count}, nil
}
