package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/pkg/logger"
	"github.com/rankeval/rankeval/internal/tensor"
)

// QueryClassPerformance averages the per-query metric scores over the
// queries of each class. classes holds one class per query for every
// dataset, in dataset order. The class axis is the sorted union of all
// classes; a class absent from a dataset stays missing for it.
//
// Axes: [dataset, model, metric, class].
func (e *Engine) QueryClassPerformance(ctx context.Context, in Input, classes [][]string) (*tensor.Tensor, error) {
	return e.run("query_class_performance", func(log *logger.Logger) (*tensor.Tensor, error) {
		if err := in.validate(); err != nil {
			return nil, err
		}
		if len(classes) != len(in.Datasets) {
			return nil, errors.ValidationError(
				fmt.Sprintf("got query classes for %d datasets, want %d", len(classes), len(in.Datasets)))
		}
		for di, ds := range in.Datasets {
			if len(classes[di]) != ds.NQueries() {
				return nil, errors.ContractError("dataset %s has %d queries but %d query classes",
					ds.Name(), ds.NQueries(), len(classes[di]))
			}
		}

		names := classUnion(classes)
		out := tensor.New("Query Class Performance",
			in.datasetAxis(), in.modelAxis(), in.metricAxis(), tensor.StringAxis(DimClass, names))

		perQuery, err := e.perQueryScores(ctx, log, in)
		if err != nil {
			return nil, err
		}

		for di := range in.Datasets {
			members := classMembers(classes[di])
			for ci, name := range names {
				queries, ok := members[name]
				if !ok {
					continue
				}
				for mi := range in.Models {
					for ki := range in.Metrics {
						scores := perQuery[di][mi][ki]
						sum := 0.0
						for _, q := range queries {
							sum += scores[q]
						}
						out.Set(sum/float64(len(queries)), di, mi, ki, ci)
					}
				}
			}
		}
		return out, nil
	})
}

func classUnion(classes [][]string) []string {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, perDataset := range classes {
		for _, c := range perDataset {
			if !seen[c] {
				seen[c] = true
				names = append(names, c)
			}
		}
	}
	sort.Strings(names)
	return names
}

// classMembers maps each class to the query indexes carrying it.
func classMembers(classes []string) map[string][]int {
	out := make(map[string][]int)
	for q, c := range classes {
		out[c] = append(out[c], q)
	}
	return out
}
