package scoring

import (
	"context"
	"fmt"

	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// Tree is a single regression tree. Its structure is opaque here; only the
// output for a feature row matters.
type Tree interface {
	Predict(features []float64) float64
}

// TreeFunc adapts a function to the Tree interface.
type TreeFunc func(features []float64) float64

// Predict implements Tree.
func (f TreeFunc) Predict(features []float64) float64 { return f(features) }

// Ensemble is a weighted sum of trees evaluated in process.
type Ensemble struct {
	name    string
	trees   []Tree
	weights []float64
}

// NewEnsemble creates an ensemble. weights may be nil, meaning 1 for every tree.
func NewEnsemble(name string, trees []Tree, weights []float64) (*Ensemble, error) {
	if len(trees) == 0 {
		return nil, errors.ValidationError(fmt.Sprintf("ensemble %s has no trees", name))
	}
	if weights == nil {
		weights = make([]float64, len(trees))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(trees) {
		return nil, errors.ValidationError(
			fmt.Sprintf("ensemble %s: %d weights for %d trees", name, len(weights), len(trees)))
	}
	return &Ensemble{name: name, trees: trees, weights: weights}, nil
}

// Name implements Model.
func (e *Ensemble) Name() string { return e.name }

// String implements fmt.Stringer.
func (e *Ensemble) String() string { return e.name }

// NTrees implements Model.
func (e *Ensemble) NTrees() int { return len(e.trees) }

// Score implements Model.
func (e *Ensemble) Score(ctx context.Context, ds *dataset.Dataset, detailed bool) (*Scores, error) {
	if !ds.HasFeatures() && ds.NInstances() > 0 {
		return nil, errors.ScoringError(
			fmt.Sprintf("ensemble %s cannot score %s", e.name, ds.Name()),
			fmt.Errorf("dataset has no feature matrix"))
	}

	n := ds.NInstances()
	if !detailed {
		predicted := make([]float64, n)
		for i := 0; i < n; i++ {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			row := ds.Features(i)
			var sum float64
			for t, tree := range e.trees {
				sum += e.weights[t] * tree.Predict(row)
			}
			predicted[i] = sum
		}
		return &Scores{Predicted: predicted}, nil
	}

	partial := make([][]float64, n)
	for i := 0; i < n; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := ds.Features(i)
		contrib := make([]float64, len(e.trees))
		for t, tree := range e.trees {
			contrib[t] = e.weights[t] * tree.Predict(row)
		}
		partial[i] = contrib
	}
	return NewDetailed(partial), nil
}
