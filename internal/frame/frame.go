// Package frame holds star observations in a columnar Apache Arrow record so
// that reductions run over contiguous float64 buffers.
package frame

import (
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	amath "github.com/apache/arrow/go/v17/arrow/math"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/starcat/internal/store"
)

// Column names.
const (
	ColObservationID = "observation_id"
	ColDistance      = "distance"
	ColCluster       = "cluster"
)

// ErrEmptyFrame is returned when a reduction is requested over zero rows.
var ErrEmptyFrame = errors.New("empty frame")

var (
	sampleSchema = arrow.NewSchema([]arrow.Field{
		{Name: ColObservationID, Type: arrow.BinaryTypes.String},
		{Name: ColDistance, Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	catalogSchema = arrow.NewSchema([]arrow.Field{
		{Name: ColObservationID, Type: arrow.BinaryTypes.String},
		{Name: ColDistance, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColCluster, Type: arrow.BinaryTypes.String},
	}, nil)
)

// Frame is an immutable table of observations. Call Release when done.
type Frame struct {
	rec arrow.Record
}

// FromRecords builds a three-column frame from joined catalogue rows.
func FromRecords(mem memory.Allocator, records []store.StarRecord) (*Frame, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	b := array.NewRecordBuilder(mem, catalogSchema)
	defer b.Release()

	ids := b.Field(0).(*array.StringBuilder)
	distances := b.Field(1).(*array.Float64Builder)
	clusters := b.Field(2).(*array.StringBuilder)

	ids.Reserve(len(records))
	distances.Reserve(len(records))
	clusters.Reserve(len(records))
	for _, r := range records {
		ids.Append(r.ObservationID)
		distances.Append(r.Distance)
		clusters.Append(r.Cluster)
	}

	return &Frame{rec: b.NewRecord()}, nil
}

// FromDistances builds a two-column frame from an in-memory sample.
func FromDistances(mem memory.Allocator, ids []string, distances []float64) (*Frame, error) {
	if len(ids) != len(distances) {
		return nil, fmt.Errorf("%w: %d ids, %d distances", store.ErrLengthMismatch, len(ids), len(distances))
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	b := array.NewRecordBuilder(mem, sampleSchema)
	defer b.Release()

	b.Field(0).(*array.StringBuilder).AppendValues(ids, nil)
	b.Field(1).(*array.Float64Builder).AppendValues(distances, nil)

	return &Frame{rec: b.NewRecord()}, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return int(f.rec.NumRows())
}

// Schema returns the frame's Arrow schema.
func (f *Frame) Schema() *arrow.Schema {
	return f.rec.Schema()
}

// MeanDistance sums the distance column with Arrow's vectorised kernel.
func (f *Frame) MeanDistance() (float64, error) {
	col := f.distanceColumn()
	if col.Len() == 0 {
		return 0, ErrEmptyFrame
	}
	return amath.Float64.Sum(col) / float64(col.Len()), nil
}

// ClusterMeans groups rows by cluster and returns each cluster's mean
// distance. Frames without a cluster column yield an error.
func (f *Frame) ClusterMeans() (map[string]float64, error) {
	idx := f.rec.Schema().FieldIndices(ColCluster)
	if len(idx) == 0 {
		return nil, fmt.Errorf("frame has no %s column", ColCluster)
	}
	clusters := f.rec.Column(idx[0]).(*array.String)
	distances := f.distanceColumn()

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for i := 0; i < distances.Len(); i++ {
		name := clusters.Value(i)
		sums[name] += distances.Value(i)
		counts[name]++
	}

	means := make(map[string]float64, len(sums))
	for name, sum := range sums {
		means[name] = sum / float64(counts[name])
	}
	return means, nil
}

// Release frees the frame's buffers.
func (f *Frame) Release() {
	if f.rec != nil {
		f.rec.Release()
		f.rec = nil
	}
}

func (f *Frame) distanceColumn() *array.Float64 {
	return f.rec.Column(1).(*array.Float64)
}
