package analysis

import (
	"context"

	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/pkg/logger"
	"github.com/rankeval/rankeval/internal/tensor"
)

// RankConfusionMatrix counts, for every pair of documents (i, j) with
// i <= j inside one query, the labels of the lower and higher scored
// document: cell [lower, higher] is incremented, and a tie counts j as the
// higher one. Off-diagonal cells [high label, low label] therefore count
// mis-ranked pairs. Labels are truncated to integers. With skipSameLabel,
// pairs whose documents share a label are not counted; a (dataset, model)
// that counts no pair at all stays missing.
//
// Axes: [dataset, model, label_i, label_j].
func (e *Engine) RankConfusionMatrix(ctx context.Context, in Input, skipSameLabel bool) (*tensor.Tensor, error) {
	return e.run("rank_confusion_matrix", func(log *logger.Logger) (*tensor.Tensor, error) {
		if err := in.validate(); err != nil {
			return nil, err
		}

		labels := intLabels(in.Datasets)
		pos := make(map[int]int, len(labels))
		for i, l := range labels {
			pos[l] = i
		}

		out := tensor.New("Rank Confusion Matrix",
			in.datasetAxis(), in.modelAxis(), tensor.IntAxis(DimLabelI, labels), tensor.IntAxis(DimLabelJ, labels))
		cache := e.newCache()

		err := e.forEachPair(ctx, log, in, func(ctx context.Context, di, mi int) error {
			ds := in.Datasets[di]
			scores, err := cache.Score(ctx, in.Models[mi], ds, false)
			if err != nil {
				return err
			}

			n := len(labels)
			counts := make([]float64, n*n)
			total := 0
			y := ds.Labels()
			pred := scores.Predicted
			for _, r := range ds.QueryOffsets() {
				if err := ctx.Err(); err != nil {
					return err
				}
				for i := r.Start; i < r.End; i++ {
					for j := i; j < r.End; j++ {
						if skipSameLabel && y[i] == y[j] {
							continue
						}
						li, lj := pos[int(y[i])], pos[int(y[j])]
						if pred[i] <= pred[j] {
							counts[li*n+lj]++
						} else {
							counts[lj*n+li]++
						}
						total++
					}
				}
			}
			if total == 0 {
				return nil
			}
			for li := 0; li < n; li++ {
				out.SetRow(counts[li*n:(li+1)*n], di, mi, li)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// intLabels returns the sorted distinct labels truncated to integers.
func intLabels(datasets []*dataset.Dataset) []int {
	out := make([]int, 0)
	for _, l := range dataset.UniqueLabels(datasets...) {
		v := int(l)
		if len(out) == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
	}
	return out
}
