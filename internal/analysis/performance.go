package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/pkg/logger"
	"github.com/rankeval/rankeval/internal/scoring"
	"github.com/rankeval/rankeval/internal/tensor"
)

// ModelPerformance evaluates every metric on every (dataset, model) pair.
// Each pair is scored once regardless of the number of metrics.
//
// Axes: [dataset, model, metric].
func (e *Engine) ModelPerformance(ctx context.Context, in Input) (*tensor.Tensor, error) {
	return e.run("model_performance", func(log *logger.Logger) (*tensor.Tensor, error) {
		if err := in.validate(); err != nil {
			return nil, err
		}
		out := tensor.New("Model Performance", in.datasetAxis(), in.modelAxis(), in.metricAxis())
		cache := e.newCache()

		err := e.forEachPair(ctx, log, in, func(ctx context.Context, di, mi int) error {
			ds := in.Datasets[di]
			scores, err := cache.Score(ctx, in.Models[mi], ds, false)
			if err != nil {
				return err
			}
			for ki, m := range in.Metrics {
				avg, _, err := evalMetric(m, ds, scores.Predicted)
				if err != nil {
					return err
				}
				out.Set(avg, di, mi, ki)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// TreeSteps returns the 0-based index of the last tree included at each
// cutoff: step-1, 2*step-1, ... and always nTrees-1.
func TreeSteps(nTrees, step int) []int {
	if nTrees < 1 || step < 1 {
		return []int{}
	}
	steps := make([]int, 0, nTrees/step+1)
	for t := step - 1; t < nTrees; t += step {
		steps = append(steps, t)
	}
	if len(steps) == 0 || steps[len(steps)-1] != nTrees-1 {
		steps = append(steps, nTrees-1)
	}
	return steps
}

// cutoffAxis returns the sorted tree counts reported on the k axis: the
// step multiples up to the largest model plus every model's own final tree
// count, so each model can be read at k = NTrees.
func cutoffAxis(models []scoring.Model, step int) []int {
	seen := make(map[int]bool)
	ks := make([]int, 0)
	add := func(k int) {
		if !seen[k] {
			seen[k] = true
			ks = append(ks, k)
		}
	}
	for _, t := range TreeSteps(scoring.MaxTrees(models...), step) {
		add(t + 1)
	}
	for _, m := range models {
		if m.NTrees() > 0 {
			add(m.NTrees())
		}
	}
	sort.Ints(ks)
	return ks
}

// accumulator holds the running prediction of one (dataset, model) pair
// while trees are added cutoff by cutoff.
type accumulator struct {
	partial [][]float64
	sum     []float64
	next    int // first tree not yet included
}

func newAccumulator(partial [][]float64) *accumulator {
	return &accumulator{
		partial: partial,
		sum:     make([]float64, len(partial)),
	}
}

// advance adds the trees up to and including last, which must not be behind
// the trees already included, and returns the running prediction.
func (a *accumulator) advance(last int) []float64 {
	for i, row := range a.partial {
		for t := a.next; t <= last; t++ {
			a.sum[i] += row[t]
		}
	}
	if last+1 > a.next {
		a.next = last + 1
	}
	return a.sum
}

// TreeWisePerformance reports every metric using only the first k trees of
// each model, for k = step, 2*step, ... up to the largest model. The k axis
// also carries every model's own tree count, so a smaller model whose size
// is not a step multiple can still be read at k = NTrees and compared with
// ModelPerformance. The running prediction of a pair is extended with the
// newly included trees only; nothing is rescored. Cutoffs beyond a model's
// tree count stay missing.
//
// Axes: [dataset, model, k, metric] where k counts trees (1-based).
func (e *Engine) TreeWisePerformance(ctx context.Context, in Input, step int) (*tensor.Tensor, error) {
	return e.run("tree_wise_performance", func(log *logger.Logger) (*tensor.Tensor, error) {
		if err := in.validate(); err != nil {
			return nil, err
		}
		if step < 1 {
			return nil, errors.ValidationError(fmt.Sprintf("step must be positive, got %d", step))
		}

		ks := cutoffAxis(in.Models, step)
		kIndex := make(map[int]int, len(ks))
		for i, k := range ks {
			kIndex[k] = i
		}

		out := tensor.New("Tree-Wise Performance",
			in.datasetAxis(), in.modelAxis(), tensor.IntAxis(DimK, ks), in.metricAxis())
		cache := e.newCache()

		err := e.forEachPair(ctx, log, in, func(ctx context.Context, di, mi int) error {
			ds, model := in.Datasets[di], in.Models[mi]
			scores, err := cache.Score(ctx, model, ds, true)
			if err != nil {
				return err
			}

			acc := newAccumulator(scores.Partial)
			for _, last := range TreeSteps(model.NTrees(), step) {
				if err := ctx.Err(); err != nil {
					return err
				}
				yPred := acc.advance(last)
				ci := kIndex[last+1]
				for ki, m := range in.Metrics {
					avg, _, err := evalMetric(m, ds, yPred)
					if err != nil {
						return err
					}
					out.Set(avg, di, mi, ci, ki)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// TreeWiseAverageContribution reports, for each tree, the mean absolute
// contribution over the instances of a dataset. Trees beyond a model's own
// tree count, and datasets without instances, stay missing.
//
// Axes: [dataset, model, tree] where tree is the 0-based tree index.
func (e *Engine) TreeWiseAverageContribution(ctx context.Context, in Input) (*tensor.Tensor, error) {
	return e.run("tree_wise_average_contribution", func(log *logger.Logger) (*tensor.Tensor, error) {
		if err := in.validate(); err != nil {
			return nil, err
		}

		maxTrees := scoring.MaxTrees(in.Models...)
		trees := make([]int, maxTrees)
		for t := range trees {
			trees[t] = t
		}

		out := tensor.New("Tree-Wise Average Contribution",
			in.datasetAxis(), in.modelAxis(), tensor.IntAxis(DimTree, trees))
		cache := e.newCache()

		err := e.forEachPair(ctx, log, in, func(ctx context.Context, di, mi int) error {
			ds, model := in.Datasets[di], in.Models[mi]
			scores, err := cache.Score(ctx, model, ds, true)
			if err != nil {
				return err
			}
			n := ds.NInstances()
			if n == 0 {
				return nil
			}

			sums := make([]float64, model.NTrees())
			for _, row := range scores.Partial {
				for t, v := range row {
					sums[t] += math.Abs(v)
				}
			}
			for t, s := range sums {
				out.Set(s/float64(n), di, mi, t)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}
