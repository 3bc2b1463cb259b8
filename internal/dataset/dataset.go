// Package dataset holds labeled query/document collections in memory.
//
// A Dataset is immutable once built. Instances of the same query are
// contiguous, and the query offsets partition [0, NInstances) without gaps.
package dataset

import (
	"fmt"
	"sort"

	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// Range is a half-open [Start, End) span of instances belonging to one query.
type Range struct {
	Start int
	End   int
}

// Len returns the number of instances in the range.
func (r Range) Len() int { return r.End - r.Start }

// Dataset is a read-only set of labeled instances grouped by query.
type Dataset struct {
	name     string
	labels   []float64
	offsets  []int // len = NQueries+1, offsets[0] = 0, offsets[last] = NInstances
	queryIDs []string
	features [][]float64
}

// New builds a dataset from labels and query offsets. offsets must start at
// 0, be strictly increasing and end at len(labels). features is optional;
// when present it must have one row per instance.
func New(name string, labels []float64, offsets []int, features [][]float64) (*Dataset, error) {
	if err := validateOffsets(offsets, len(labels)); err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("dataset %s: %v", name, err))
	}
	if features != nil && len(features) != len(labels) {
		return nil, errors.ValidationError(
			fmt.Sprintf("dataset %s: %d feature rows for %d labels", name, len(features), len(labels)))
	}
	return &Dataset{
		name:     name,
		labels:   append([]float64{}, labels...),
		offsets:  append([]int{}, offsets...),
		features: features,
	}, nil
}

// FromQueryIDs builds a dataset from a per-instance query id column. Rows of
// one query must be contiguous, as in svmlight qid grouping.
func FromQueryIDs(name string, labels []float64, qids []string, features [][]float64) (*Dataset, error) {
	if len(qids) != len(labels) {
		return nil, errors.ValidationError(
			fmt.Sprintf("dataset %s: %d query ids for %d labels", name, len(qids), len(labels)))
	}

	offsets := []int{0}
	ids := make([]string, 0)
	seen := make(map[string]bool)
	for i, q := range qids {
		if i > 0 && q == qids[i-1] {
			continue
		}
		if seen[q] {
			return nil, errors.ValidationError(
				fmt.Sprintf("dataset %s: query %q is not contiguous (row %d)", name, q, i))
		}
		seen[q] = true
		ids = append(ids, q)
		if i > 0 {
			offsets = append(offsets, i)
		}
	}
	if len(qids) > 0 {
		offsets = append(offsets, len(qids))
	}

	ds, err := New(name, labels, offsets, features)
	if err != nil {
		return nil, err
	}
	ds.queryIDs = ids
	return ds, nil
}

func validateOffsets(offsets []int, n int) error {
	if len(offsets) == 0 {
		return fmt.Errorf("query offsets are empty")
	}
	if offsets[0] != 0 {
		return fmt.Errorf("first query offset is %d, want 0", offsets[0])
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			return fmt.Errorf("query offsets not strictly increasing at %d", i)
		}
	}
	if last := offsets[len(offsets)-1]; last != n {
		return fmt.Errorf("last query offset is %d, want %d", last, n)
	}
	return nil
}

// Name returns the dataset name used as the tensor coordinate.
func (d *Dataset) Name() string { return d.name }

// String implements fmt.Stringer.
func (d *Dataset) String() string { return d.name }

// NInstances returns the number of documents.
func (d *Dataset) NInstances() int { return len(d.labels) }

// NQueries returns the number of queries.
func (d *Dataset) NQueries() int { return len(d.offsets) - 1 }

// Label returns the relevance label of instance i.
func (d *Dataset) Label(i int) float64 { return d.labels[i] }

// Labels returns the relevance labels. Callers must not modify the slice.
func (d *Dataset) Labels() []float64 { return d.labels }

// Features returns the feature row of instance i, or nil when the dataset
// carries no features.
func (d *Dataset) Features(i int) []float64 {
	if d.features == nil {
		return nil
	}
	return d.features[i]
}

// HasFeatures reports whether a feature matrix is attached.
func (d *Dataset) HasFeatures() bool { return d.features != nil }

// Query returns the instance range of query q.
func (d *Dataset) Query(q int) Range {
	return Range{Start: d.offsets[q], End: d.offsets[q+1]}
}

// QueryOffsets returns the query ranges in dataset order.
func (d *Dataset) QueryOffsets() []Range {
	out := make([]Range, d.NQueries())
	for q := range out {
		out[q] = d.Query(q)
	}
	return out
}

// QueryLabels returns the labels of query q. Callers must not modify the slice.
func (d *Dataset) QueryLabels(q int) []float64 {
	r := d.Query(q)
	return d.labels[r.Start:r.End]
}

// QueryID returns the external id of query q, or its ordinal when the
// dataset was built from offsets.
func (d *Dataset) QueryID(q int) string {
	if d.queryIDs != nil {
		return d.queryIDs[q]
	}
	return fmt.Sprintf("%d", q)
}

// UniqueLabels returns the distinct labels in ascending order.
func (d *Dataset) UniqueLabels() []float64 {
	return UniqueLabels(d)
}

// UniqueLabels returns the sorted union of labels across datasets.
func UniqueLabels(datasets ...*Dataset) []float64 {
	seen := make(map[float64]bool)
	out := make([]float64, 0)
	for _, d := range datasets {
		for _, l := range d.labels {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	sort.Float64s(out)
	return out
}

// MaxQueries returns the largest query count among datasets.
func MaxQueries(datasets ...*Dataset) int {
	n := 0
	for _, d := range datasets {
		if d.NQueries() > n {
			n = d.NQueries()
		}
	}
	return n
}
