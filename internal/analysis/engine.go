// Package analysis implements the effectiveness analyses: overall and
// tree-wise model performance, per-tree contribution, cumulative score
// distributions, per-class breakdowns and the rank confusion matrix.
//
// Every analysis crosses datasets with models (and metrics where relevant)
// and returns one labeled tensor. Work for different (dataset, model) pairs
// runs concurrently and writes disjoint cells of the output; each pair is
// scored once per call through a call-scoped scoring.Cache.
package analysis

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/metric"
	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/pkg/logger"
	"github.com/rankeval/rankeval/internal/scoring"
	"github.com/rankeval/rankeval/internal/tensor"
)

// Axis names shared by the result tensors.
const (
	DimDataset = "dataset"
	DimModel   = "model"
	DimMetric  = "metric"
	DimK       = "k"
	DimTree    = "tree"
	DimBin     = "bin"
	DimClass   = "class"
	DimLabel   = "label"
	DimLabelI  = "label_i"
	DimLabelJ  = "label_j"
)

// Recorder receives analysis and scoring statistics.
type Recorder interface {
	scoring.Recorder
	RecordAnalysis(name string, elapsed time.Duration, err error)
}

// Input is the cross product an analysis runs over. Any list may be empty.
type Input struct {
	Datasets []*dataset.Dataset
	Models   []scoring.Model
	Metrics  []metric.Metric
}

// Engine runs analyses.
type Engine struct {
	log     *logger.Logger
	workers int
	rec     Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithWorkers caps the number of (dataset, model) pairs processed at once.
// Values below 1 select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithRecorder attaches a statistics recorder.
func WithRecorder(rec Recorder) Option {
	return func(e *Engine) { e.rec = rec }
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Discard()
	}
	if e.workers < 1 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	return e
}

func (e *Engine) newCache() *scoring.Cache {
	if e.rec == nil {
		return scoring.NewCache(nil)
	}
	return scoring.NewCache(e.rec)
}

// run wraps an analysis with logging and timing.
func (e *Engine) run(name string, fn func(log *logger.Logger) (*tensor.Tensor, error)) (*tensor.Tensor, error) {
	log := e.log.WithAnalysis(name)
	start := time.Now()
	log.Debug("Analysis started")

	out, err := fn(log)
	elapsed := time.Since(start)
	if e.rec != nil {
		e.rec.RecordAnalysis(name, elapsed, err)
	}
	if err != nil {
		log.WithError(err).Warn("Analysis failed", "duration", elapsed)
		return nil, err
	}

	log.Info("Analysis completed",
		"shape", fmt.Sprint(out.Shape()),
		"computed", out.ValidCount(),
		"duration", elapsed,
	)
	return out, nil
}

// forEachPair calls fn for every (dataset, model) pair, at most e.workers at
// a time. The first error cancels the remaining pairs.
func (e *Engine) forEachPair(ctx context.Context, log *logger.Logger, in Input,
	fn func(ctx context.Context, di, mi int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for di := range in.Datasets {
		for mi := range in.Models {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				log.WithPair(in.Datasets[di].Name(), in.Models[mi].Name()).Debug("Processing pair")
				return fn(gctx, di, mi)
			})
		}
	}
	return g.Wait()
}

// validate rejects nil entries and duplicate names, which would collide as
// tensor coordinates.
func (in Input) validate() error {
	seen := make(map[string]bool)
	for _, d := range in.Datasets {
		if d == nil {
			return errors.ValidationError("nil dataset")
		}
		if seen[d.Name()] {
			return errors.ValidationError(fmt.Sprintf("duplicate dataset name %q", d.Name()))
		}
		seen[d.Name()] = true
	}

	clear(seen)
	for _, m := range in.Models {
		if m == nil {
			return errors.ValidationError("nil model")
		}
		if seen[m.Name()] {
			return errors.ValidationError(fmt.Sprintf("duplicate model name %q", m.Name()))
		}
		seen[m.Name()] = true
	}

	clear(seen)
	for _, m := range in.Metrics {
		if m == nil {
			return errors.ValidationError("nil metric")
		}
		if seen[m.Name()] {
			return errors.ValidationError(fmt.Sprintf("duplicate metric name %q", m.Name()))
		}
		seen[m.Name()] = true
	}
	return nil
}

func (in Input) datasetAxis() tensor.Axis {
	names := make([]string, len(in.Datasets))
	for i, d := range in.Datasets {
		names[i] = d.Name()
	}
	return tensor.StringAxis(DimDataset, names)
}

func (in Input) modelAxis() tensor.Axis {
	names := make([]string, len(in.Models))
	for i, m := range in.Models {
		names[i] = m.Name()
	}
	return tensor.StringAxis(DimModel, names)
}

func (in Input) metricAxis() tensor.Axis {
	names := make([]string, len(in.Metrics))
	for i, m := range in.Metrics {
		names[i] = m.Name()
	}
	return tensor.StringAxis(DimMetric, names)
}

// evalMetric evaluates m and checks the per-query score count.
func evalMetric(m metric.Metric, ds *dataset.Dataset, yPred []float64) (float64, []float64, error) {
	avg, perQuery, err := m.Eval(ds, yPred)
	if err != nil {
		if errors.Code(err) != "" {
			return 0, nil, err
		}
		return 0, nil, errors.MetricError(fmt.Sprintf("metric %s on %s", m.Name(), ds.Name()), err)
	}
	if len(perQuery) != ds.NQueries() {
		return 0, nil, errors.ContractError("metric %s returned %d query scores for %s, want %d",
			m.Name(), len(perQuery), ds.Name(), ds.NQueries())
	}
	return avg, perQuery, nil
}
