package analysis

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/pkg/logger"
	"github.com/rankeval/rankeval/internal/tensor"
)

// DefaultGradedRelevanceBins is the bin count of DocumentGradedRelevance when
// none is given.
const DefaultGradedRelevanceBins = 100

// HistogramOptions controls the binning of cumulative distributions. Zero
// values select the per-analysis defaults; nil Start/End use the minimum and
// maximum value observed across the whole call.
type HistogramOptions struct {
	Bins  int
	Start *float64
	End   *float64
}

// Float returns a pointer to v, for HistogramOptions literals.
func Float(v float64) *float64 { return &v }

// binning is a resolved set of equally spaced bin edges over [start, end].
type binning struct {
	start, end float64
	bins       int
}

// resolve fills defaults. lo/hi are the observed extremes (NaN when nothing
// was observed).
func (o HistogramOptions) resolve(defaultBins int, lo, hi float64) (binning, error) {
	if o.Bins < 0 {
		return binning{}, errors.ValidationError(fmt.Sprintf("bins must be positive, got %d", o.Bins))
	}
	b := binning{bins: o.Bins, start: lo, end: hi}
	if b.bins == 0 {
		b.bins = defaultBins
	}
	if o.Start != nil {
		b.start = *o.Start
	}
	if o.End != nil {
		b.end = *o.End
	}
	if math.IsNaN(b.start) {
		b.start = 0
	}
	if math.IsNaN(b.end) {
		b.end = b.start
	}
	if b.start > b.end {
		return binning{}, errors.ValidationError(fmt.Sprintf("histogram start %g is after end %g", b.start, b.end))
	}
	return b, nil
}

// degenerate reports whether the range has no width; such histograms are
// left missing.
func (b binning) degenerate() bool { return b.start == b.end }

// coords returns the bin coordinates: left edges shifted by 1/bins.
func (b binning) coords() []float64 {
	out := make([]float64, b.bins)
	for i := range out {
		out[i] = b.edge(i) + 1.0/float64(b.bins)
	}
	return out
}

// edge returns the left edge of bin i; edge(bins) is end.
func (b binning) edge(i int) float64 {
	return b.start + float64(i)*((b.end-b.start)/float64(b.bins))
}

// cumulative counts values per bin and returns the running count. Bins are
// half-open except the last, which includes end; values outside [start, end]
// are not counted. A value on an edge falls in the bin that edge opens, even
// when the scaled index rounds the other way.
func (b binning) cumulative(values []float64) []float64 {
	counts := make([]float64, b.bins)
	span := b.end - b.start
	for _, v := range values {
		if v < b.start || v > b.end || math.IsNaN(v) {
			continue
		}
		i := int((v - b.start) / span * float64(b.bins))
		if i >= b.bins {
			i = b.bins - 1
		}
		if v < b.edge(i) {
			i--
		}
		if i < b.bins-1 && v >= b.edge(i+1) {
			i++
		}
		counts[i]++
	}
	for i := 1; i < len(counts); i++ {
		counts[i] += counts[i-1]
	}
	return counts
}

// extent tracks the minimum and maximum of observed values.
type extent struct {
	lo, hi float64
}

func newExtent() extent { return extent{lo: math.NaN(), hi: math.NaN()} }

func (x *extent) observe(values []float64) {
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(x.lo) || v < x.lo {
			x.lo = v
		}
		if math.IsNaN(x.hi) || v > x.hi {
			x.hi = v
		}
	}
}

// QueryWisePerformance builds, per (dataset, model, metric), the cumulative
// distribution of per-query metric scores over equally spaced bins. The
// running count is divided by the number of bins, not by the number of
// queries. Bins default to the largest query count among datasets.
//
// Axes: [dataset, model, metric, bin].
func (e *Engine) QueryWisePerformance(ctx context.Context, in Input, opts HistogramOptions) (*tensor.Tensor, error) {
	return e.run("query_wise_performance", func(log *logger.Logger) (*tensor.Tensor, error) {
		if err := in.validate(); err != nil {
			return nil, err
		}

		perQuery, err := e.perQueryScores(ctx, log, in)
		if err != nil {
			return nil, err
		}

		ext := newExtent()
		for _, byModel := range perQuery {
			for _, byMetric := range byModel {
				for _, scores := range byMetric {
					ext.observe(scores)
				}
			}
		}

		b, err := opts.resolve(dataset.MaxQueries(in.Datasets...), ext.lo, ext.hi)
		if err != nil {
			return nil, err
		}

		out := tensor.New("Query-Wise Performance",
			in.datasetAxis(), in.modelAxis(), in.metricAxis(), tensor.NumericAxis(DimBin, b.coords()))
		if b.bins == 0 || b.degenerate() {
			return out, nil
		}

		for di, byModel := range perQuery {
			for mi, byMetric := range byModel {
				for ki, scores := range byMetric {
					row := b.cumulative(scores)
					for i := range row {
						row[i] /= float64(b.bins)
					}
					out.SetRow(row, di, mi, ki)
				}
			}
		}
		return out, nil
	})
}

// perQueryScores evaluates every metric per query, indexed
// [dataset][model][metric][query]. Each (dataset, model) is scored once.
func (e *Engine) perQueryScores(ctx context.Context, log *logger.Logger, in Input) ([][][][]float64, error) {
	out := make([][][][]float64, len(in.Datasets))
	for di := range out {
		out[di] = make([][][]float64, len(in.Models))
		for mi := range out[di] {
			out[di][mi] = make([][]float64, len(in.Metrics))
		}
	}

	cache := e.newCache()
	err := e.forEachPair(ctx, log, in, func(ctx context.Context, di, mi int) error {
		ds := in.Datasets[di]
		scores, err := cache.Score(ctx, in.Models[mi], ds, false)
		if err != nil {
			return err
		}
		for ki, m := range in.Metrics {
			_, perQuery, err := evalMetric(m, ds, scores.Predicted)
			if err != nil {
				return err
			}
			out[di][mi][ki] = perQuery
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DocumentGradedRelevance builds, for each relevance label, the cumulative
// distribution of predicted scores of the documents carrying that label,
// normalised by the number of such documents. Labels absent from a dataset
// stay missing. Bins default to DefaultGradedRelevanceBins.
//
// Axes: [dataset, model, label, bin].
func (e *Engine) DocumentGradedRelevance(ctx context.Context, in Input, opts HistogramOptions) (*tensor.Tensor, error) {
	return e.run("document_graded_relevance", func(log *logger.Logger) (*tensor.Tensor, error) {
		if err := in.validate(); err != nil {
			return nil, err
		}

		predicted := make([][][]float64, len(in.Datasets))
		for di := range predicted {
			predicted[di] = make([][]float64, len(in.Models))
		}

		cache := e.newCache()
		err := e.forEachPair(ctx, log, in, func(ctx context.Context, di, mi int) error {
			scores, err := cache.Score(ctx, in.Models[mi], in.Datasets[di], false)
			if err != nil {
				return err
			}
			predicted[di][mi] = scores.Predicted
			return nil
		})
		if err != nil {
			return nil, err
		}

		ext := newExtent()
		for _, byModel := range predicted {
			for _, scores := range byModel {
				ext.observe(scores)
			}
		}

		b, err := opts.resolve(DefaultGradedRelevanceBins, ext.lo, ext.hi)
		if err != nil {
			return nil, err
		}

		labels := dataset.UniqueLabels(in.Datasets...)
		out := tensor.New("Document Graded Relevance",
			in.datasetAxis(), in.modelAxis(), tensor.NumericAxis(DimLabel, labels), tensor.NumericAxis(DimBin, b.coords()))
		if b.degenerate() {
			return out, nil
		}

		for di, ds := range in.Datasets {
			for li, label := range labels {
				docs := docsWithLabel(ds, label)
				if len(docs) == 0 {
					continue
				}
				for mi := range in.Models {
					values := make([]float64, len(docs))
					for i, doc := range docs {
						values[i] = predicted[di][mi][doc]
					}
					row := b.cumulative(values)
					for i := range row {
						row[i] /= float64(len(docs))
					}
					out.SetRow(row, di, mi, li)
				}
			}
		}
		return out, nil
	})
}

func docsWithLabel(ds *dataset.Dataset, label float64) []int {
	docs := make([]int, 0)
	for i, l := range ds.Labels() {
		if l == label {
			docs = append(docs, i)
		}
	}
	return slices.Clip(docs)
}
