// Package scoring defines how ranking models produce document scores.
//
// A Model scores a whole dataset at once. In detailed mode it also returns
// the contribution of every tree to every instance, which lets the
// tree-wise analyses rebuild the prediction of the first k trees without
// scoring again.
package scoring

import (
	"context"

	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// Model is an additive tree ensemble seen from the outside.
type Model interface {
	// Name identifies the model in result tensors.
	Name() string

	// NTrees returns the number of trees in the ensemble.
	NTrees() int

	// Score predicts every instance of ds. When detailed is true the result
	// also carries the per-tree contributions.
	Score(ctx context.Context, ds *dataset.Dataset, detailed bool) (*Scores, error)
}

// Scores is the output of one scoring pass.
type Scores struct {
	// Predicted holds one score per instance.
	Predicted []float64

	// Partial holds, per instance, the contribution of each tree with its
	// weight already applied. Nil unless scored in detailed mode.
	Partial [][]float64
}

// NewDetailed builds detailed scores whose predictions are the row sums of
// partial.
func NewDetailed(partial [][]float64) *Scores {
	predicted := make([]float64, len(partial))
	for i, row := range partial {
		var sum float64
		for _, v := range row {
			sum += v
		}
		predicted[i] = sum
	}
	return &Scores{Predicted: predicted, Partial: partial}
}

// Detailed reports whether per-tree contributions are available.
func (s *Scores) Detailed() bool { return s.Partial != nil }

// Validate checks the scores against the dataset and model they came from.
func (s *Scores) Validate(m Model, ds *dataset.Dataset, detailed bool) error {
	if len(s.Predicted) != ds.NInstances() {
		return errors.ContractError("model %s scored %d instances of %s, want %d",
			m.Name(), len(s.Predicted), ds.Name(), ds.NInstances())
	}
	if !detailed {
		return nil
	}
	if len(s.Partial) != ds.NInstances() {
		return errors.ContractError("model %s returned %d contribution rows for %s, want %d",
			m.Name(), len(s.Partial), ds.Name(), ds.NInstances())
	}
	for i, row := range s.Partial {
		if len(row) != m.NTrees() {
			return errors.ContractError("model %s returned %d contributions for instance %d, want %d trees",
				m.Name(), len(row), i, m.NTrees())
		}
	}
	return nil
}

// MaxTrees returns the largest tree count among models.
func MaxTrees(models ...Model) int {
	n := 0
	for _, m := range models {
		if m.NTrees() > n {
			n = m.NTrees()
		}
	}
	return n
}
