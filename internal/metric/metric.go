// Package metric implements query-level ranking metrics over datasets.
package metric

import (
	"fmt"
	"math"
	"sort"

	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// Metric scores predicted rankings against ground-truth labels.
type Metric interface {
	// Name identifies the metric in result tensors, e.g. "NDCG@10".
	Name() string

	// Eval returns the mean score over queries and the score of every query
	// in dataset order.
	Eval(ds *dataset.Dataset, yPred []float64) (float64, []float64, error)
}

// queryFunc scores a single query from its labels and predicted scores.
type queryFunc func(labels, scores []float64) float64

// evalPerQuery applies fn to every query of ds and averages the results.
func evalPerQuery(name string, ds *dataset.Dataset, yPred []float64, fn queryFunc) (float64, []float64, error) {
	if len(yPred) != ds.NInstances() {
		return 0, nil, errors.ContractError("metric %s: %d predictions for %d instances of %s",
			name, len(yPred), ds.NInstances(), ds.Name())
	}

	perQuery := make([]float64, ds.NQueries())
	var sum float64
	for q, r := range ds.QueryOffsets() {
		perQuery[q] = fn(ds.QueryLabels(q), yPred[r.Start:r.End])
		sum += perQuery[q]
	}
	if len(perQuery) == 0 {
		return 0, perQuery, nil
	}
	return sum / float64(len(perQuery)), perQuery, nil
}

// rankByScore returns instance positions ordered by descending score. Ties
// keep dataset order.
func rankByScore(scores []float64) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	return idx
}

func cut(n, cutoff int) int {
	if cutoff > 0 && cutoff < n {
		return cutoff
	}
	return n
}

// Gain selects the DCG gain function.
type Gain string

const (
	// GainFlat uses the label as gain (Jarvelin).
	GainFlat Gain = "flat"
	// GainExp uses 2^label - 1 (Burges).
	GainExp Gain = "exp"
)

func (g Gain) apply(label float64) float64 {
	if g == GainExp {
		return math.Exp2(label) - 1
	}
	return label
}

// DCG is Discounted Cumulative Gain.
type DCG struct {
	Cutoff int // 0 means the whole ranking
	Gain   Gain
}

// Name implements Metric.
func (m DCG) Name() string { return withCutoff("DCG", m.Cutoff, m.Gain) }

// Eval implements Metric.
func (m DCG) Eval(ds *dataset.Dataset, yPred []float64) (float64, []float64, error) {
	return evalPerQuery(m.Name(), ds, yPred, m.query)
}

func (m DCG) query(labels, scores []float64) float64 {
	order := rankByScore(scores)
	return dcg(labels, order[:cut(len(order), m.Cutoff)], m.Gain)
}

func dcg(labels []float64, order []int, gain Gain) float64 {
	var sum float64
	for rank, i := range order {
		sum += gain.apply(labels[i]) / math.Log2(float64(rank+2))
	}
	return sum
}

// NDCG is DCG normalised by the DCG of the ideal ranking. Queries without
// relevant documents score 0.
type NDCG struct {
	Cutoff int
	Gain   Gain
}

// Name implements Metric.
func (m NDCG) Name() string { return withCutoff("NDCG", m.Cutoff, m.Gain) }

// Eval implements Metric.
func (m NDCG) Eval(ds *dataset.Dataset, yPred []float64) (float64, []float64, error) {
	return evalPerQuery(m.Name(), ds, yPred, m.query)
}

func (m NDCG) query(labels, scores []float64) float64 {
	k := cut(len(labels), m.Cutoff)

	order := rankByScore(scores)
	ideal := rankByScore(labels)

	idcg := dcg(labels, ideal[:k], m.Gain)
	if idcg == 0 {
		return 0
	}
	return dcg(labels, order[:k], m.Gain) / idcg
}

// Precision is the fraction of relevant documents in the top Cutoff.
type Precision struct {
	Cutoff    int
	Threshold float64 // minimum label counted as relevant
}

// Name implements Metric.
func (m Precision) Name() string { return withCutoff("P", m.Cutoff, "") }

// Eval implements Metric.
func (m Precision) Eval(ds *dataset.Dataset, yPred []float64) (float64, []float64, error) {
	return evalPerQuery(m.Name(), ds, yPred, m.query)
}

func (m Precision) query(labels, scores []float64) float64 {
	order := rankByScore(scores)
	k := cut(len(order), m.Cutoff)
	if k == 0 {
		return 0
	}
	relevant := 0
	for _, i := range order[:k] {
		if labels[i] >= m.Threshold {
			relevant++
		}
	}
	return float64(relevant) / float64(k)
}

// MRR is the reciprocal rank of the first relevant document.
type MRR struct {
	Threshold float64
}

// Name implements Metric.
func (m MRR) Name() string { return "MRR" }

// Eval implements Metric.
func (m MRR) Eval(ds *dataset.Dataset, yPred []float64) (float64, []float64, error) {
	return evalPerQuery(m.Name(), ds, yPred, m.query)
}

func (m MRR) query(labels, scores []float64) float64 {
	for rank, i := range rankByScore(scores) {
		if labels[i] >= m.Threshold {
			return 1.0 / float64(rank+1)
		}
	}
	return 0
}

// AP is average precision; its dataset mean is MAP.
type AP struct {
	Threshold float64
}

// Name implements Metric.
func (m AP) Name() string { return "MAP" }

// Eval implements Metric.
func (m AP) Eval(ds *dataset.Dataset, yPred []float64) (float64, []float64, error) {
	return evalPerQuery(m.Name(), ds, yPred, m.query)
}

func (m AP) query(labels, scores []float64) float64 {
	relevant := 0
	sumPrecision := 0.0
	for rank, i := range rankByScore(scores) {
		if labels[i] >= m.Threshold {
			relevant++
			sumPrecision += float64(relevant) / float64(rank+1)
		}
	}
	if relevant == 0 {
		return 0
	}
	return sumPrecision / float64(relevant)
}

func withCutoff(base string, cutoff int, gain Gain) string {
	s := base
	if cutoff > 0 {
		s = fmt.Sprintf("%s@%d", s, cutoff)
	}
	if gain == GainExp {
		s += ":exp"
	}
	return s
}
